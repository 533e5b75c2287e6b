package standards

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

// ErrGraphUnavailable is returned by reads before the first successful load.
var ErrGraphUnavailable = sentinel.ErrUnavailable

// ReloadHook observes each successfully swapped snapshot.
type ReloadHook func(*Snapshot)

// Graph holds the current corpus snapshot. Reads are lock-free through an
// atomic pointer; reloads are serialized and swap a fully built snapshot.
type Graph struct {
	current atomic.Pointer[Snapshot]

	reloadMu sync.Mutex
	version  uint64

	hooksMu sync.RWMutex
	hooks   []ReloadHook

	logger *slog.Logger
}

type Option func(*Graph)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// NewGraph returns an empty graph; call Load before reading.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnReload registers a hook invoked after every successful swap.
func (g *Graph) OnReload(hook ReloadHook) {
	g.hooksMu.Lock()
	defer g.hooksMu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Load builds a new snapshot from src and swaps it in. On any failure the
// previous snapshot stays active and the error is returned.
func (g *Graph) Load(ctx context.Context, src CorpusSource) (*Snapshot, error) {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	records, err := src.Records(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "standards corpus reload failed, keeping previous snapshot",
			"error", err,
			"active_version", g.activeVersion(),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "failed to read standards corpus")
	}

	snap, err := buildSnapshot(records, g.version+1, requestcontext.Now(ctx))
	if err != nil {
		g.logger.WarnContext(ctx, "standards corpus rejected, keeping previous snapshot",
			"error", err,
			"active_version", g.activeVersion(),
		)
		return nil, err
	}

	g.version = snap.version
	g.current.Store(snap)
	g.logger.InfoContext(ctx, "standards corpus loaded",
		"version", snap.version,
		"standards", snap.Len(),
		"accreditors", len(snap.byAccreditor),
	)

	g.hooksMu.RLock()
	hooks := append([]ReloadHook(nil), g.hooks...)
	g.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(snap)
	}
	return snap, nil
}

// Snapshot returns the active snapshot or ErrGraphUnavailable.
func (g *Graph) Snapshot() (*Snapshot, error) {
	snap := g.current.Load()
	if snap == nil {
		return nil, ErrGraphUnavailable
	}
	return snap, nil
}

// Lookup finds a standard in the active snapshot.
func (g *Graph) Lookup(id string) (Standard, error) {
	snap, err := g.Snapshot()
	if err != nil {
		return Standard{}, err
	}
	st, ok := snap.Lookup(id)
	if !ok {
		return Standard{}, sentinel.ErrNotFound
	}
	return st, nil
}

// ListByAccreditor lists an accreditor's standards in the active snapshot.
func (g *Graph) ListByAccreditor(accreditor string) ([]Standard, error) {
	snap, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.ListByAccreditor(accreditor), nil
}

// EquivalenceNeighbors lists equivalences of id in the active snapshot.
func (g *Graph) EquivalenceNeighbors(id string) ([]Equivalence, error) {
	snap, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Lookup(id); !ok {
		return nil, sentinel.ErrNotFound
	}
	return snap.EquivalenceNeighbors(id), nil
}

func (g *Graph) activeVersion() uint64 {
	if snap := g.current.Load(); snap != nil {
		return snap.version
	}
	return 0
}
