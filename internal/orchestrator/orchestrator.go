package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"accord/internal/audit"
	"accord/internal/mapping"
	"accord/internal/orchestrator/metrics"
	"accord/internal/retrieval"
	"accord/internal/scoring"
	"accord/internal/standards"
	dErrors "accord/pkg/domain-errors"
	liststrings "accord/pkg/platform/strings"
	"accord/pkg/requestcontext"
)

const (
	tracerName     = "accord/orchestrator"
	defaultWorkers = 4
)

// SnapshotProvider yields the active standards snapshot.
type SnapshotProvider interface {
	Snapshot() (*standards.Snapshot, error)
}

// MappingStore is the part of mapping.Store a run writes and reads.
type MappingStore interface {
	Supersede(ctx context.Context, m mapping.Mapping) (*mapping.Mapping, error)
	ListActiveByStandard(ctx context.Context, standardID string) ([]mapping.Mapping, error)
}

// RiskReader serves gap risk profiles.
type RiskReader interface {
	RiskProfile(ctx context.Context, standardID string) (scoring.RiskView, error)
}

// CitationVerifier gates narrative citations.
type CitationVerifier interface {
	Verify(ctx context.Context, stage mapping.Stage, mappingID uuid.UUID) (audit.Outcome, error)
	Threshold() float64
}

// Orchestrator drives one analysis run through mapper, gap finder,
// narrator and verifier.
type Orchestrator struct {
	graph      SnapshotProvider
	retriever  *retrieval.Retriever
	reranker   *retrieval.Reranker
	calibrator *retrieval.Calibrator
	mappings   MappingStore
	risk       RiskReader
	verifier   CitationVerifier

	workers int
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Deps groups the collaborators of a run.
type Deps struct {
	Graph      SnapshotProvider
	Retriever  *retrieval.Retriever
	Reranker   *retrieval.Reranker
	Calibrator *retrieval.Calibrator
	Mappings   MappingStore
	Risk       RiskReader
	Verifier   CitationVerifier
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		graph:      deps.Graph,
		retriever:  deps.Retriever,
		reranker:   deps.Reranker,
		calibrator: deps.Calibrator,
		mappings:   deps.Mappings,
		risk:       deps.Risk,
		verifier:   deps.Verifier,
		workers:    defaultWorkers,
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the mutable state of one run between stages.
type run struct {
	summary  *RunSummary
	snap     *standards.Snapshot
	scope    []standards.Standard
	affected map[string]bool // standards shortlisted by a failed document

	results map[string]*StandardResult
	active  map[string][]mapping.Mapping
	claims  map[string]*Claim

	verified bool
}

// Run executes an analysis run. The returned summary is always non-nil and
// reflects the terminal state; err is set for Failed and Cancelled runs.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunSummary, error) {
	start := requestcontext.Now(ctx)
	runID := uuid.NewString()
	ctx = requestcontext.WithRunID(requestcontext.WithTime(ctx, start), runID)

	ctx, span := o.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("documents", len(req.Documents)),
	))
	defer span.End()

	r := &run{
		summary: &RunSummary{
			RunID:     runID,
			StartedAt: start,
			Documents: []DocumentResult{},
			Standards: []StandardResult{},
		},
		affected: make(map[string]bool),
		results:  make(map[string]*StandardResult),
		active:   make(map[string][]mapping.Mapping),
		claims:   make(map[string]*Claim),
	}

	snap, err := o.graph.Snapshot()
	if err != nil {
		return o.finish(ctx, span, r, StateFailed, retrieval.NewRetrievalError("standards graph unavailable", err))
	}
	r.snap = snap
	r.summary.SnapshotVersion = snap.Version()
	r.scope = scopeStandards(snap, req)
	if len(r.scope) == 0 {
		return o.finish(ctx, span, r, StateFailed, retrieval.NewRetrievalError("no standards in scope", nil))
	}

	stages := []struct {
		state State
		fn    func(context.Context, *run, Request) error
	}{
		{StateMapper, o.mapperStage},
		{StateGapFinder, o.gapFinderStage},
		{StateNarrator, o.narratorStage},
		{StateVerifier, o.verifierStage},
	}
	for _, st := range stages {
		r.summary.Transitions = append(r.summary.Transitions, st.state)
		if err := o.stage(ctx, st.state, func(ctx context.Context) error { return st.fn(ctx, r, req) }); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return o.finish(ctx, span, r, StateCancelled, err)
			}
			return o.finish(ctx, span, r, StateFailed, err)
		}
		// Checkpoint: later stages do not start once the run is cancelled.
		if st.state != StateVerifier {
			if err := ctx.Err(); err != nil {
				return o.finish(ctx, span, r, StateCancelled, err)
			}
		}
	}

	final := StateCompleted
	for _, d := range r.summary.Documents {
		if d.Status == DocumentError {
			final = StatePartiallyCompleted
			break
		}
	}
	for _, s := range r.summary.Standards {
		if s.Status == StatusError {
			final = StatePartiallyCompleted
			break
		}
	}
	return o.finish(ctx, span, r, final, nil)
}

func (o *Orchestrator) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "analysis.stage."+string(state))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	o.metrics.ObserveStage(string(state), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, r *run, state State, err error) (*RunSummary, error) {
	s := r.summary
	s.State = state
	s.Transitions = append(s.Transitions, state)
	s.FinishedAt = requestcontext.Now(ctx)
	if err != nil {
		s.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	// Every in-scope standard is accounted for, whatever the outcome.
	switch state {
	case StateCancelled:
		o.assemble(r)
	case StateFailed:
		s.Standards = make([]StandardResult, 0, len(r.scope))
		for _, std := range r.scope {
			s.Standards = append(s.Standards, StandardResult{
				StandardID: std.ID,
				Status:     StatusError,
				Coverage:   CoverageUnmapped,
				Error:      s.Error,
			})
		}
	}
	span.SetAttributes(attribute.String("state", string(state)))
	o.metrics.IncrementRun(string(state))

	logArgs := []any{
		"run_id", s.RunID,
		"state", state,
		"documents", len(s.Documents),
		"standards", len(s.Standards),
		"snapshot_version", s.SnapshotVersion,
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "analysis run ended", append(logArgs, "error", err)...)
		return s, err
	}
	o.logger.InfoContext(ctx, "analysis run ended", logArgs...)
	return s, nil
}

// scopeStandards picks the in-scope standards, ordered by id.
func scopeStandards(snap *standards.Snapshot, req Request) []standards.Standard {
	if req.Accreditor != "" {
		return snap.ListByAccreditor(req.Accreditor)
	}
	hints := make([]string, 0, len(req.Documents))
	for _, d := range req.Documents {
		hints = append(hints, d.OwnerContext.Accreditor)
	}
	hints = liststrings.DedupeAndTrim(hints)
	if len(hints) == 0 {
		return snap.ListByAccreditor("")
	}
	var out []standards.Standard
	for _, a := range hints {
		out = append(out, snap.ListByAccreditor(a)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func documentScope(req Request, doc retrieval.EvidenceDocument) string {
	if req.Accreditor != "" {
		return req.Accreditor
	}
	return doc.OwnerContext.Accreditor
}

// mapperStage maps documents in parallel. A retrieval error aborts the run;
// any other document failure is recorded and siblings continue.
func (o *Orchestrator) mapperStage(ctx context.Context, r *run, req Request) error {
	results := make([]DocumentResult, len(req.Documents))
	shortlists := make([][]retrieval.Candidate, len(req.Documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, doc := range req.Documents {
		g.Go(func() error {
			res, shortlist, err := o.mapDocument(gctx, r.snap, doc, documentScope(req, doc))
			if err != nil {
				if retrieval.IsRetrievalError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				res.Status = DocumentError
				res.Error = err.Error()
				o.logger.WarnContext(gctx, "evidence document failed",
					"evidence_id", doc.ID,
					"error", err,
				)
			}
			results[i] = res
			shortlists[i] = shortlist
			o.metrics.IncrementDocument(string(res.Status))
			return nil
		})
	}
	err := g.Wait()

	for i, res := range results {
		if res.EvidenceID == "" {
			continue
		}
		r.summary.Documents = append(r.summary.Documents, res)
		if res.Status == DocumentError {
			for _, c := range shortlists[i] {
				r.affected[c.StandardID] = true
			}
		}
	}
	return err
}

func (o *Orchestrator) mapDocument(ctx context.Context, snap *standards.Snapshot, doc retrieval.EvidenceDocument, accreditor string) (DocumentResult, []retrieval.Candidate, error) {
	res := DocumentResult{EvidenceID: doc.ID, MappingIDs: []uuid.UUID{}}
	if doc.ID == "" {
		res.EvidenceID = "(missing id)"
		return res, nil, dErrors.New(dErrors.CodeInvalidInput, "evidence document requires an id")
	}
	if err := ctx.Err(); err != nil {
		return res, nil, err
	}

	candidates, err := o.retriever.Retrieve(ctx, snap, doc.ExtractedText, accreditor)
	if err != nil {
		return res, nil, err
	}
	scored, err := o.reranker.Rerank(ctx, snap, doc.ExtractedText, candidates)
	if err != nil {
		return res, candidates, err
	}
	accepted, gaps, err := o.calibrator.CalibrateCandidates(ctx, o.reranker.Scorer(), snap, doc.ExtractedText, scored)
	if err != nil {
		return res, candidates, err
	}
	res.Gaps = gaps

	for _, c := range accepted {
		m, err := o.mappings.Supersede(ctx, mapping.Mapping{
			EvidenceID:           doc.ID,
			StandardID:           c.StandardID,
			RawScore:             c.RawScore,
			CalibratedConfidence: c.Confidence,
			RationaleExcerpt:     c.Rationale,
			ProducedByStage:      mapping.StageMapper,
		})
		if err != nil {
			return res, candidates, fmt.Errorf("store mapping for %s: %w", c.StandardID, err)
		}
		res.MappingIDs = append(res.MappingIDs, m.ID)
	}
	res.Status = DocumentNoMatch
	if len(res.MappingIDs) > 0 {
		res.Status = DocumentMapped
	}
	return res, candidates, nil
}

// gapFinderStage classifies every in-scope standard from the store and the
// risk predictor.
func (o *Orchestrator) gapFinderStage(ctx context.Context, r *run, _ Request) error {
	threshold := o.verifier.Threshold()
	for _, std := range r.scope {
		res := &StandardResult{StandardID: std.ID}
		r.results[std.ID] = res

		active, err := o.mappings.ListActiveByStandard(ctx, std.ID)
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			continue
		}
		r.active[std.ID] = active
		for _, m := range active {
			res.Confidence = max(res.Confidence, m.CalibratedConfidence)
		}
		switch {
		case len(active) == 0:
			res.Coverage = CoverageUnmapped
		case res.Confidence >= threshold:
			res.Coverage = CoverageMapped
		default:
			res.Coverage = CoverageLowConfidence
		}

		profile, err := o.risk.RiskProfile(ctx, std.ID)
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			continue
		}
		res.RiskTier = profile.Tier
		res.Drivers = profile.Drivers
		res.RiskStale = profile.Stale
	}
	return nil
}

// narratorStage drafts one claim per standard that has active mappings.
func (o *Orchestrator) narratorStage(_ context.Context, r *run, _ Request) error {
	for _, std := range r.scope {
		if r.results[std.ID].Status == StatusError || len(r.active[std.ID]) == 0 {
			continue
		}
		claim := Draft(std, r.active[std.ID])
		r.claims[std.ID] = &claim
	}
	return nil
}

// verifierStage checks every citation and strips the rejected ones, then
// settles each standard's final status.
func (o *Orchestrator) verifierStage(ctx context.Context, r *run, _ Request) error {
	type verdict struct {
		accepted map[int]bool
		failed   error
	}
	verdicts := make(map[string]*verdict, len(r.claims))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, std := range r.scope {
		claim, ok := r.claims[std.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			v := &verdict{accepted: make(map[int]bool)}
			for i, cite := range claim.Citations {
				out, err := o.verifier.Verify(gctx, mapping.StageVerifier, cite.MappingID)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					o.metrics.IncrementCitation("error")
					v.failed = err
					continue
				}
				if out.Accepted {
					v.accepted[i] = true
					o.metrics.IncrementCitation(string(audit.DecisionAccept))
				} else {
					o.metrics.IncrementCitation(string(audit.DecisionReject))
				}
			}
			mu.Lock()
			verdicts[std.ID] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, std := range r.scope {
		claim, ok := r.claims[std.ID]
		v := verdicts[std.ID]
		if !ok || v == nil {
			continue
		}
		final := Finalize(std, *claim, v.accepted)
		r.claims[std.ID] = &final
		if v.failed != nil && final.Unsupported {
			r.results[std.ID].Status = StatusError
			r.results[std.ID].Error = v.failed.Error()
		}
	}

	// Verification changed mappings; read the refreshed risk.
	for _, std := range r.scope {
		res := r.results[std.ID]
		if res.Status == StatusError {
			continue
		}
		profile, err := o.risk.RiskProfile(ctx, std.ID)
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			continue
		}
		res.RiskTier = profile.Tier
		res.Drivers = profile.Drivers
		res.RiskStale = profile.Stale
	}
	r.verified = true
	o.assemble(r)
	return nil
}

// assemble settles statuses and writes one result per in-scope standard.
func (o *Orchestrator) assemble(r *run) {
	r.summary.Standards = make([]StandardResult, 0, len(r.scope))
	for _, std := range r.scope {
		res, ok := r.results[std.ID]
		if !ok {
			res = &StandardResult{StandardID: std.ID, Coverage: CoverageUnmapped}
		}
		if res.Status != StatusError {
			claim := r.claims[std.ID]
			switch {
			case r.verified && claim != nil && !claim.Unsupported:
				res.Status = StatusMappedVerified
			case len(r.active[std.ID]) > 0:
				res.Status = StatusMappedLowConfidence
			case r.affected[std.ID]:
				res.Status = StatusError
				res.Error = "evidence document shortlisting this standard failed"
			default:
				res.Status = StatusUnmapped
			}
		}
		if claim, ok := r.claims[std.ID]; ok {
			res.Claim = claim
		}
		r.summary.Standards = append(r.summary.Standards, *res)
	}
}
