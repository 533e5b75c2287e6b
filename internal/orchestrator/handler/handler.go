package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"accord/internal/orchestrator"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

const maxRunBody = 32 << 20

// Service runs analyses.
type Service interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.RunSummary, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts run endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/runs", h.HandleRun)
}

// HandleRun handles POST /runs. The summary is returned for every terminal
// state; the status code reflects it.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.DecodeJSON[orchestrator.Request](w, r, maxRunBody)
	if !ok {
		return
	}
	if len(req.Documents) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "at least one document is required"))
		return
	}

	summary, err := h.service.Run(ctx, req)
	if summary == nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "analysis run served",
		"request_id", requestcontext.RequestID(ctx),
		"run_id", summary.RunID,
		"state", summary.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, statusFor(summary, err), summary)
}

func statusFor(s *orchestrator.RunSummary, err error) int {
	switch s.State {
	case orchestrator.StateCompleted, orchestrator.StatePartiallyCompleted:
		return http.StatusOK
	case orchestrator.StateCancelled:
		return http.StatusServiceUnavailable
	default:
		return httputil.StatusFor(dErrors.CodeOf(err))
	}
}
