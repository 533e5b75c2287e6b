package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"accord/internal/crosswalk"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service computes accreditor crosswalks.
type Service interface {
	Crosswalk(ctx context.Context, source, target string) (*crosswalk.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts crosswalk endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/crosswalk", h.HandleCrosswalk)
}

// HandleCrosswalk handles GET /crosswalk?source_accreditor=&target_accreditor=.
func (h *Handler) HandleCrosswalk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	source := r.URL.Query().Get("source_accreditor")
	target := r.URL.Query().Get("target_accreditor")

	res, err := h.service.Crosswalk(ctx, source, target)
	if err != nil {
		h.logger.ErrorContext(ctx, "crosswalk failed",
			"request_id", requestcontext.RequestID(ctx),
			"source_accreditor", source,
			"target_accreditor", target,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "crosswalk served",
		"request_id", requestcontext.RequestID(ctx),
		"source_accreditor", source,
		"target_accreditor", target,
		"matched", len(res.Matched),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}
