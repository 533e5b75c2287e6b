package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/mapping"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service is the read side of the mapping store.
type Service interface {
	ListActiveByEvidence(ctx context.Context, evidenceID string) ([]mapping.Mapping, error)
	ListActiveByStandard(ctx context.Context, standardID string) ([]mapping.Mapping, error)
}

// Handler serves active mappings.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts mapping endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/mappings", h.HandleList)
}

// ListResponse wraps the active mappings of one evidence item or standard.
type ListResponse struct {
	Mappings []mapping.Mapping `json:"mappings"`
}

// HandleList handles GET /mappings?evidence_id= or ?standard_id=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evidenceID := r.URL.Query().Get("evidence_id")
	standardID := r.URL.Query().Get("standard_id")

	var (
		out []mapping.Mapping
		err error
	)
	switch {
	case evidenceID != "" && standardID != "":
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "use either evidence_id or standard_id, not both"))
		return
	case evidenceID != "":
		out, err = h.service.ListActiveByEvidence(ctx, evidenceID)
	case standardID != "":
		out, err = h.service.ListActiveByStandard(ctx, standardID)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "evidence_id or standard_id is required"))
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "list mappings failed",
			"request_id", requestcontext.RequestID(ctx),
			"evidence_id", evidenceID,
			"standard_id", standardID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if out == nil {
		out = []mapping.Mapping{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Mappings: out})
}
