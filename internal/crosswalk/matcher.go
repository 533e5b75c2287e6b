package crosswalk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"accord/internal/retrieval"
	"accord/internal/standards"
	dErrors "accord/pkg/domain-errors"
)

const (
	DefaultThreshold = 0.6
	DefaultCacheTTL  = 30 * time.Minute
	defaultWorkers   = 4
)

// SnapshotProvider yields the active standards snapshot.
type SnapshotProvider interface {
	Snapshot() (*standards.Snapshot, error)
}

// Matcher aligns the standards of two accreditors one-to-one.
type Matcher struct {
	graph      SnapshotProvider
	retriever  *retrieval.Retriever
	reranker   *retrieval.Reranker
	calibrator *retrieval.Calibrator
	threshold  float64
	workers    int
	cacheTTL   time.Duration
	cache      *gocache.Cache
	logger     *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

func WithWorkers(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(m *Matcher) { m.cacheTTL = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) { m.logger = logger }
}

func New(graph SnapshotProvider, retriever *retrieval.Retriever, reranker *retrieval.Reranker, calibrator *retrieval.Calibrator, opts ...Option) *Matcher {
	m := &Matcher{
		graph:      graph,
		retriever:  retriever,
		reranker:   reranker,
		calibrator: calibrator,
		threshold:  DefaultThreshold,
		workers:    defaultWorkers,
		cacheTTL:   DefaultCacheTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = gocache.New(m.cacheTTL, 2*m.cacheTTL)
	return m
}

// Flush drops every cached result. It is suitable as a standards.ReloadHook.
func (m *Matcher) Flush(*standards.Snapshot) {
	m.cache.Flush()
}

// Crosswalk matches source standards to target standards.
func (m *Matcher) Crosswalk(ctx context.Context, source, target string) (*Result, error) {
	if source == "" || target == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "source and target accreditor are required")
	}
	if source == target {
		return nil, dErrors.New(dErrors.CodeBadRequest, "source and target accreditor must differ")
	}
	snap, err := m.graph.Snapshot()
	if err != nil {
		return nil, retrieval.NewRetrievalError("standards graph unavailable", err)
	}

	key := fmt.Sprintf("%s|%s|%d|%g", source, target, snap.Version(), m.threshold)
	if cached, ok := m.cache.Get(key); ok {
		return cached.(*Result), nil
	}

	sources := snap.ListByAccreditor(source)
	targets := snap.ListByAccreditor(target)
	if len(sources) == 0 || len(targets) == 0 {
		return nil, retrieval.NewRetrievalError(fmt.Sprintf("no standards for %s or %s", source, target), nil)
	}

	perSource := make([][]Match, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, src := range sources {
		g.Go(func() error {
			matches, err := m.candidatesFor(gctx, snap, src, target)
			if err != nil {
				if retrieval.IsCalibrationError(err) {
					m.logger.Warn("crosswalk source skipped",
						"source_standard_id", src.ID,
						"error", err,
					)
					return nil
				}
				return err
			}
			perSource[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pairs []Match
	for _, ms := range perSource {
		pairs = append(pairs, ms...)
	}
	result := assign(pairs, sources, targets)
	result.SourceAccreditor = source
	result.TargetAccreditor = target
	result.SnapshotVersion = snap.Version()
	result.Threshold = m.threshold

	m.cache.SetDefault(key, result)
	m.logger.Info("crosswalk computed",
		"source_accreditor", source,
		"target_accreditor", target,
		"matched", len(result.Matched),
		"unmatched_source", len(result.UnmatchedSource),
		"unmatched_target", len(result.UnmatchedTarget),
	)
	return result, nil
}

// candidatesFor collects every target above threshold for src, from corpus
// equivalences and from scoring.
func (m *Matcher) candidatesFor(ctx context.Context, snap *standards.Snapshot, src standards.Standard, target string) ([]Match, error) {
	best := make(map[string]Match)
	consider := func(c Match) {
		if c.Confidence < m.threshold {
			return
		}
		prev, ok := best[c.TargetID]
		if !ok || c.Confidence > prev.Confidence ||
			(c.Confidence == prev.Confidence && c.Origin == OriginEquivalence) {
			best[c.TargetID] = c
		}
	}

	for _, eq := range snap.EquivalenceNeighbors(src.ID) {
		tgt, ok := snap.Lookup(eq.StandardID)
		if !ok || tgt.Accreditor != target {
			continue
		}
		consider(Match{SourceID: src.ID, TargetID: tgt.ID, Confidence: eq.Confidence, Origin: OriginEquivalence})
	}

	text := snap.FullText(src.ID)
	cands, err := m.retriever.Retrieve(ctx, snap, text, target)
	if err != nil {
		return nil, err
	}
	scored, err := m.reranker.Rerank(ctx, snap, text, cands)
	if err != nil {
		return nil, err
	}
	for _, s := range scored {
		conf, err := m.calibrator.Calibrate(s.RawScore)
		if err != nil {
			return nil, err
		}
		consider(Match{SourceID: src.ID, TargetID: s.StandardID, Confidence: conf, Origin: OriginScored})
	}

	out := make([]Match, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out, nil
}

// assign greedily picks the highest-confidence pairs so that no source or
// target is used twice. Ties break by source id then target id.
func assign(pairs []Match, sources, targets []standards.Standard) *Result {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Confidence != pairs[j].Confidence {
			return pairs[i].Confidence > pairs[j].Confidence
		}
		if pairs[i].SourceID != pairs[j].SourceID {
			return pairs[i].SourceID < pairs[j].SourceID
		}
		return pairs[i].TargetID < pairs[j].TargetID
	})

	usedSource := make(map[string]bool, len(sources))
	usedTarget := make(map[string]bool, len(targets))
	res := &Result{Matched: []Match{}, UnmatchedSource: []string{}, UnmatchedTarget: []string{}}
	for _, p := range pairs {
		if usedSource[p.SourceID] || usedTarget[p.TargetID] {
			continue
		}
		usedSource[p.SourceID] = true
		usedTarget[p.TargetID] = true
		res.Matched = append(res.Matched, p)
	}
	sort.Slice(res.Matched, func(i, j int) bool { return res.Matched[i].SourceID < res.Matched[j].SourceID })

	for _, s := range sources {
		if !usedSource[s.ID] {
			res.UnmatchedSource = append(res.UnmatchedSource, s.ID)
		}
	}
	for _, t := range targets {
		if !usedTarget[t.ID] {
			res.UnmatchedTarget = append(res.UnmatchedTarget, t.ID)
		}
	}
	return res
}
