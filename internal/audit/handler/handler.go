package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"accord/internal/audit"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service reads the audit trail.
type Service interface {
	History(ctx context.Context, mappingID uuid.UUID) ([]audit.Entry, error)
	VerifyLog(ctx context.Context) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit-trail", h.HandleTrail)
	r.Get("/audit-trail/verify", h.HandleVerify)
}

// TrailResponse lists a mapping pair's decisions in sequence order.
type TrailResponse struct {
	MappingID uuid.UUID     `json:"mapping_id"`
	Entries   []audit.Entry `json:"entries"`
}

// HandleTrail handles GET /audit-trail?mapping_id=.
func (h *Handler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("mapping_id")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "mapping_id is required"))
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "mapping_id must be a uuid"))
		return
	}

	entries, err := h.service.History(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"mapping_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, TrailResponse{MappingID: id, Entries: entries})
}

// HandleVerify handles GET /audit-trail/verify by re-checking the hash chain.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.VerifyLog(ctx); err != nil {
		h.logger.ErrorContext(ctx, "audit log verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
