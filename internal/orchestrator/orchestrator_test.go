package orchestrator

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"accord/internal/audit"
	"accord/internal/mapping"
	"accord/internal/retrieval"
	"accord/internal/scoring"
	"accord/internal/standards"
)

var corpus = standards.StaticSource{
	{Accreditor: "SACS", StandardID: "S1", Title: "Library resources",
		Description: "The institution provides library collections and services."},
	{Accreditor: "SACS", StandardID: "S2", Title: "Faculty qualifications",
		Description: "Faculty hold credentials appropriate to the courses they teach."},
	{Accreditor: "SACS", StandardID: "S3", Title: "Financial stability",
		Description: "The institution has a sound financial base and audited statements."},
	{Accreditor: "HLC", StandardID: "H1", Title: "Student services",
		Description: "Student support services are provided."},
}

type OrchestratorSuite struct {
	suite.Suite
	ctx        context.Context
	graph      *standards.Graph
	calibrator *retrieval.Calibrator
	mappings   *mapping.InMemoryStore
	auditLog   *audit.InMemoryStore
	scoring    *scoring.Service
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.graph = standards.NewGraph()
	_, err := s.graph.Load(s.ctx, corpus)
	s.Require().NoError(err)

	notifier := mapping.NewNotifier(nil)
	s.calibrator = retrieval.NewCalibrator()
	s.mappings = mapping.NewInMemoryStore(notifier)
	s.auditLog = audit.NewInMemoryStore()
	s.scoring, err = scoring.NewService(s.mappings)
	s.Require().NoError(err)
	s.scoring.Attach(notifier)
}

// topicScorer returns the raw score that calibrates to the confidence set for
// the first topic keyword found in both texts.
func (s *OrchestratorSuite) topicScorer(topics map[string]float64) retrieval.Scorer {
	return retrieval.ScorerFunc(func(_ context.Context, evidence, standard string) (float64, error) {
		e, st := strings.ToLower(evidence), strings.ToLower(standard)
		if strings.Contains(e, "corrupt") {
			return math.NaN(), nil
		}
		for kw, conf := range topics {
			if strings.Contains(e, kw) && strings.Contains(st, kw) {
				return s.calibrator.Raw(conf), nil
			}
		}
		return 0, nil
	})
}

func (s *OrchestratorSuite) newOrchestrator(scorer retrieval.Scorer, store MappingStore, opts ...Option) *Orchestrator {
	return New(Deps{
		Graph:      s.graph,
		Retriever:  retrieval.NewRetriever(),
		Reranker:   retrieval.NewReranker(scorer),
		Calibrator: s.calibrator,
		Mappings:   store,
		Risk:       s.scoring,
		Verifier:   audit.NewVerifier(s.mappings, s.auditLog),
	}, opts...)
}

func (s *OrchestratorSuite) defaultScorer() retrieval.Scorer {
	return s.topicScorer(map[string]float64{"library": 0.90, "faculty": 0.40})
}

func byStandard(sum *RunSummary) map[string]StandardResult {
	out := make(map[string]StandardResult, len(sum.Standards))
	for _, r := range sum.Standards {
		out[r.StandardID] = r
	}
	return out
}

func (s *OrchestratorSuite) TestEndToEnd() {
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "SACS",
		Documents: []retrieval.EvidenceDocument{{
			ID:            "E1",
			ExtractedText: "Our library collections grew this year. Most faculty hold doctoral credentials.",
		}},
	})
	s.Require().NoError(err)
	s.Equal(StateCompleted, sum.State)
	s.Equal([]State{StateMapper, StateGapFinder, StateNarrator, StateVerifier, StateCompleted}, sum.Transitions)
	s.NotEmpty(sum.RunID)

	s.Require().Len(sum.Documents, 1)
	s.Equal(DocumentMapped, sum.Documents[0].Status)
	s.Len(sum.Documents[0].MappingIDs, 1)
	s.GreaterOrEqual(sum.Documents[0].Gaps, 1)

	s.Require().Len(sum.Standards, 3)
	got := byStandard(sum)

	s1 := got["S1"]
	s.Equal(StatusMappedVerified, s1.Status)
	s.Equal(CoverageMapped, s1.Coverage)
	s.Equal(scoring.RiskLow, s1.RiskTier)
	s.Require().NotNil(s1.Claim)
	s.False(s1.Claim.Unsupported)
	s.Require().Len(s1.Claim.Citations, 1)
	s.Equal("E1", s1.Claim.Citations[0].EvidenceID)
	s.Contains(s1.Claim.Text, "[E1, 0.90]")

	s2 := got["S2"]
	s.Equal(StatusUnmapped, s2.Status)
	s.Equal(CoverageUnmapped, s2.Coverage)
	s.Equal(scoring.RiskHigh, s2.RiskTier)
	s.Nil(s2.Claim)

	s3 := got["S3"]
	s.Equal(StatusUnmapped, s3.Status)
	s.Equal(scoring.RiskHigh, s3.RiskTier)

	// The verified mapping has exactly one accept entry in the audit log.
	entries, err := s.auditLog.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.DecisionAccept, entries[0].Decision)
	s.NoError(audit.VerifyChain(entries))
}

func (s *OrchestratorSuite) TestLowConfidenceCitationIsStripped() {
	o := s.newOrchestrator(s.topicScorer(map[string]float64{"library": 0.70}), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "SACS",
		Documents:  []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: "Library collections."}},
	})
	s.Require().NoError(err)

	s1 := byStandard(sum)["S1"]
	s.Equal(StatusMappedLowConfidence, s1.Status)
	s.Equal(CoverageLowConfidence, s1.Coverage)
	s.Require().NotNil(s1.Claim)
	s.True(s1.Claim.Unsupported)
	s.Empty(s1.Claim.Citations)
	s.Len(s1.Claim.Stripped, 1)
	s.Contains(s1.Claim.Text, "unsupported")

	entries, err := s.auditLog.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.DecisionReject, entries[0].Decision)
}

func (s *OrchestratorSuite) TestCalibrationErrorPartiallyCompletes() {
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "SACS",
		Documents: []retrieval.EvidenceDocument{
			{ID: "E1", ExtractedText: "Library collections and services."},
			{ID: "E2", ExtractedText: "corrupt financial statements audited"},
		},
	})
	s.Require().NoError(err)
	s.Equal(StatePartiallyCompleted, sum.State)

	docs := map[string]DocumentResult{}
	for _, d := range sum.Documents {
		docs[d.EvidenceID] = d
	}
	s.Equal(DocumentMapped, docs["E1"].Status)
	s.Equal(DocumentError, docs["E2"].Status)
	s.NotEmpty(docs["E2"].Error)

	got := byStandard(sum)
	s.Equal(StatusMappedVerified, got["S1"].Status)
	s.Equal(StatusError, got["S3"].Status)
}

func (s *OrchestratorSuite) TestOwnerHintScopesStandards() {
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Documents: []retrieval.EvidenceDocument{{
			ID:            "E1",
			ExtractedText: "Student services are provided.",
			OwnerContext:  retrieval.OwnerContext{Accreditor: "HLC"},
		}},
	})
	s.Require().NoError(err)
	s.Require().Len(sum.Standards, 1)
	s.Equal("H1", sum.Standards[0].StandardID)
}

func (s *OrchestratorSuite) TestEmptyScopeFails() {
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "NONE",
		Documents:  []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: "library"}},
	})
	s.Require().Error(err)
	s.True(retrieval.IsRetrievalError(err))
	s.Equal(StateFailed, sum.State)
	s.Empty(sum.Standards)
}

func (s *OrchestratorSuite) TestGraphUnavailableFails() {
	s.graph = standards.NewGraph()
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	sum, err := o.Run(s.ctx, Request{
		Documents: []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: "library"}},
	})
	s.Require().Error(err)
	s.True(retrieval.IsRetrievalError(err))
	s.Equal(StateFailed, sum.State)
	s.Equal([]State{StateFailed}, sum.Transitions)
}

// cancellingStore cancels the run after the first mapping is persisted.
type cancellingStore struct {
	MappingStore
	cancel context.CancelFunc
	writes atomic.Int32
}

func (c *cancellingStore) Supersede(ctx context.Context, m mapping.Mapping) (*mapping.Mapping, error) {
	out, err := c.MappingStore.Supersede(ctx, m)
	if c.writes.Add(1) == 1 {
		c.cancel()
	}
	return out, err
}

func (s *OrchestratorSuite) TestCancellationKeepsPersistedMappings() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	store := &cancellingStore{MappingStore: s.mappings, cancel: cancel}

	o := s.newOrchestrator(s.defaultScorer(), store, WithWorkers(1))
	sum, err := o.Run(ctx, Request{
		Accreditor: "SACS",
		Documents: []retrieval.EvidenceDocument{
			{ID: "E1", ExtractedText: "Library collections and services."},
			{ID: "E2", ExtractedText: "Library services expanded."},
		},
	})
	s.Require().ErrorIs(err, context.Canceled)
	s.Equal(StateCancelled, sum.State)
	s.Require().Len(sum.Standards, 3)
	for _, r := range sum.Standards {
		s.NotEqual(StatusMappedVerified, r.Status)
	}

	active, err := s.mappings.ListActiveByStandard(s.ctx, "S1")
	s.Require().NoError(err)
	s.Len(active, 1)
	s.False(active[0].Verified)
}

func (s *OrchestratorSuite) TestRerunSupersedes() {
	o := s.newOrchestrator(s.defaultScorer(), s.mappings)
	req := Request{
		Accreditor: "SACS",
		Documents:  []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: "Library collections."}},
	}
	_, err := o.Run(s.ctx, req)
	s.Require().NoError(err)
	_, err = o.Run(s.ctx, req)
	s.Require().NoError(err)

	active, err := s.mappings.ListActiveByStandard(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(2, active[0].Version)
}

func (s *OrchestratorSuite) TestMappingsStayWithinShortlist() {
	text := "Our library collections grew this year. Most faculty hold doctoral credentials."
	retriever := retrieval.NewRetriever(retrieval.WithTopK(1))
	snap, err := s.graph.Snapshot()
	s.Require().NoError(err)
	shortlist, err := retriever.Retrieve(s.ctx, snap, text, "SACS")
	s.Require().NoError(err)
	s.Require().Len(shortlist, 1)

	// Both S1 and S2 would clear the floor if they were reranked.
	scorer := s.topicScorer(map[string]float64{"library": 0.90, "faculty": 0.90})
	o := New(Deps{
		Graph:      s.graph,
		Retriever:  retriever,
		Reranker:   retrieval.NewReranker(scorer),
		Calibrator: s.calibrator,
		Mappings:   s.mappings,
		Risk:       s.scoring,
		Verifier:   audit.NewVerifier(s.mappings, s.auditLog),
	})
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "SACS",
		Documents:  []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: text}},
	})
	s.Require().NoError(err)
	s.Equal(StateCompleted, sum.State)

	active, err := s.mappings.ListActiveByEvidence(s.ctx, "E1")
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(shortlist[0].StandardID, active[0].StandardID)

	for id, res := range byStandard(sum) {
		if id == shortlist[0].StandardID {
			s.NotEqual(CoverageUnmapped, res.Coverage)
			continue
		}
		s.Equal(CoverageUnmapped, res.Coverage, id)
	}
}

// staleRisk reports every profile as served from an expired cache entry.
type staleRisk struct {
	RiskReader
}

func (r staleRisk) RiskProfile(ctx context.Context, standardID string) (scoring.RiskView, error) {
	v, err := r.RiskReader.RiskProfile(ctx, standardID)
	v.Stale = true
	return v, err
}

func (s *OrchestratorSuite) TestStaleRiskIsReported() {
	o := New(Deps{
		Graph:      s.graph,
		Retriever:  retrieval.NewRetriever(),
		Reranker:   retrieval.NewReranker(s.defaultScorer()),
		Calibrator: s.calibrator,
		Mappings:   s.mappings,
		Risk:       staleRisk{s.scoring},
		Verifier:   audit.NewVerifier(s.mappings, s.auditLog),
	})
	sum, err := o.Run(s.ctx, Request{
		Accreditor: "SACS",
		Documents:  []retrieval.EvidenceDocument{{ID: "E1", ExtractedText: "Library collections."}},
	})
	s.Require().NoError(err)
	for id, res := range byStandard(sum) {
		s.True(res.RiskStale, id)
	}
}

func TestDraft(t *testing.T) {
	std := standards.Standard{ID: "S1", Title: "Library resources"}
	ms := []mapping.Mapping{
		{EvidenceID: "E2", StandardID: "S1", CalibratedConfidence: 0.7, Active: true, RationaleExcerpt: "b"},
		{EvidenceID: "E1", StandardID: "S1", CalibratedConfidence: 0.9, Active: true, RationaleExcerpt: "a"},
		{EvidenceID: "E3", StandardID: "S1", CalibratedConfidence: 0.95, Active: false},
		{EvidenceID: "E4", StandardID: "S9", CalibratedConfidence: 0.95, Active: true},
	}

	c := Draft(std, ms)
	require.Len(t, c.Citations, 2)
	assert.Equal(t, "E1", c.Citations[0].EvidenceID)
	assert.Equal(t, "E2", c.Citations[1].EvidenceID)
	assert.Contains(t, c.Text, "2 evidence items")

	final := Finalize(std, c, map[int]bool{0: true})
	require.Len(t, final.Citations, 1)
	require.Len(t, final.Stripped, 1)
	assert.False(t, final.Unsupported)
	assert.NotContains(t, final.Text, "E2")

	none := Finalize(std, c, nil)
	assert.True(t, none.Unsupported)
	assert.Empty(t, none.Citations)
}
