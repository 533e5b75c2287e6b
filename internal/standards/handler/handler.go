package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accord/internal/standards"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Graph is the read and reload surface of the standards graph.
type Graph interface {
	Lookup(id string) (standards.Standard, error)
	ListByAccreditor(accreditor string) ([]standards.Standard, error)
	Load(ctx context.Context, src standards.CorpusSource) (*standards.Snapshot, error)
}

type Handler struct {
	graph  Graph
	source standards.CorpusSource
	logger *slog.Logger
}

// New builds the handler. source is what an admin reload re-reads.
func New(graph Graph, source standards.CorpusSource, logger *slog.Logger) *Handler {
	return &Handler{graph: graph, source: source, logger: logger}
}

// Register mounts the read endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/standards", h.HandleList)
	r.Get("/standards/{id}", h.HandleGet)
}

// RegisterAdmin mounts the reload endpoint; callers guard it.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/standards/reload", h.HandleReload)
}

type ListResponse struct {
	Standards []standards.Standard `json:"standards"`
}

// HandleList handles GET /standards[?accreditor=].
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	out, err := h.graph.ListByAccreditor(r.URL.Query().Get("accreditor"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Standards: out})
}

// HandleGet handles GET /standards/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.graph.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// ReloadResponse reports the snapshot now active.
type ReloadResponse struct {
	SnapshotVersion uint64 `json:"snapshot_version"`
	Standards       int    `json:"standards"`
}

// HandleReload handles POST /admin/standards/reload. A rejected corpus
// leaves the previous snapshot active.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.source == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "no corpus source is configured"))
		return
	}
	snap, err := h.graph.Load(ctx, h.source)
	if err != nil {
		h.logger.WarnContext(ctx, "standards reload rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReloadResponse{SnapshotVersion: snap.Version(), Standards: snap.Len()})
}
