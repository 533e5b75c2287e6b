package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"accord/internal/scoring"
	"accord/internal/standards"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Service serves cached trust and risk views.
type Service interface {
	TrustScore(ctx context.Context, standardID string) (scoring.TrustView, error)
	RiskProfile(ctx context.Context, standardID string) (scoring.RiskView, error)
	Invalidate(ctx context.Context, standardID string)
}

// Standards resolves standard ids so unknown ones 404 instead of scoring
// as empty.
type Standards interface {
	Lookup(id string) (standards.Standard, error)
}

type Handler struct {
	service   Service
	standards Standards
	logger    *slog.Logger
}

func New(service Service, standards Standards, logger *slog.Logger) *Handler {
	return &Handler{service: service, standards: standards, logger: logger}
}

// Register mounts scoring endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/trust-score", h.HandleTrustScore)
	r.Get("/risk-profile", h.HandleRiskProfile)
}

// HandleTrustScore handles GET /trust-score?standard_id=.
func (h *Handler) HandleTrustScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	standardID, ok := h.standardID(w, r)
	if !ok {
		return
	}
	view, err := h.service.TrustScore(ctx, standardID)
	if err != nil {
		h.logFailure(ctx, "trust score failed", standardID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleRiskProfile handles GET /risk-profile?standard_id=[&refresh=true].
// refresh drops the cached entry first.
func (h *Handler) HandleRiskProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	standardID, ok := h.standardID(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "refresh must be a boolean"))
			return
		}
		if refresh {
			h.service.Invalidate(ctx, standardID)
		}
	}
	view, err := h.service.RiskProfile(ctx, standardID)
	if err != nil {
		h.logFailure(ctx, "risk profile failed", standardID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) standardID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("standard_id")
	if id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "standard_id is required"))
		return "", false
	}
	if _, err := h.standards.Lookup(id); err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return id, true
}

func (h *Handler) logFailure(ctx context.Context, msg, standardID string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"standard_id", standardID,
		"error", err,
	)
}
