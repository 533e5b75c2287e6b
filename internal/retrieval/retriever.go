package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"accord/internal/retrieval/metrics"
	"accord/internal/standards"
)

// DefaultTopK bounds the shortlist handed to the reranker.
const DefaultTopK = 20

// Retriever produces a bounded, deterministic shortlist of standards for a
// piece of text. It keeps one index per snapshot version.
type Retriever struct {
	k       int
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	index *Index
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK sets the shortlist size.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = logger }
}

// WithRetrieverMetrics sets the metrics sink.
func WithRetrieverMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

func NewRetriever(opts ...RetrieverOption) *Retriever {
	r := &Retriever{k: DefaultTopK, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopK returns the configured shortlist size.
func (r *Retriever) TopK() int { return r.k }

// Prime builds the index for snap ahead of the first query. It is suitable
// as a standards.ReloadHook.
func (r *Retriever) Prime(snap *standards.Snapshot) {
	r.indexFor(snap)
}

// Retrieve returns at most TopK candidates for text within the accreditor
// scope (empty means every accreditor). A nil snapshot or an empty scope is a
// retrieval error.
func (r *Retriever) Retrieve(ctx context.Context, snap *standards.Snapshot, text, accreditor string) ([]Candidate, error) {
	if snap == nil {
		return nil, NewRetrievalError("standards graph unavailable", standards.ErrGraphUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	idx := r.indexFor(snap)
	if idx.ScopeSize(accreditor) == 0 {
		return nil, NewRetrievalError("no standards in scope for accreditor "+accreditor, nil)
	}
	out := idx.Search(text, accreditor, r.k)
	r.metrics.ObserveRetrieve(len(out), time.Since(start))
	return out, nil
}

func (r *Retriever) indexFor(snap *standards.Snapshot) *Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.index.Version() == snap.Version() {
		return r.index
	}
	start := time.Now()
	idx := BuildIndex(snap)
	// Keep the newest index; an older snapshot still in use by a run gets a
	// fresh private build instead of evicting the current one.
	if r.index == nil || snap.Version() > r.index.Version() {
		r.index = idx
		r.logger.Info("retrieval index built",
			"snapshot_version", snap.Version(),
			"standards", snap.Len(),
			"terms", len(idx.postings),
			"duration", time.Since(start),
		)
	}
	return idx
}
