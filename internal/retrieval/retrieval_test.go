package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"accord/internal/retrieval/mocks"
	"accord/internal/standards"
)

func loadSnapshot(t *testing.T) *standards.Snapshot {
	t.Helper()
	g := standards.NewGraph()
	snap, err := g.Load(context.Background(), standards.StaticSource{
		{Accreditor: "SACS", StandardID: "SACS-8", Title: "Student achievement", Description: "The institution evaluates student achievement and publishes outcomes."},
		{Accreditor: "SACS", StandardID: "SACS-8.1", ParentID: "SACS-8", Title: "Learning outcomes assessment", Description: "Programs identify expected learning outcomes and assess achievement of those outcomes."},
		{Accreditor: "SACS", StandardID: "SACS-6.1", Title: "Faculty qualifications", Description: "Faculty hold appropriate credentials for the courses they teach."},
		{Accreditor: "SACS", StandardID: "SACS-13.1", Title: "Financial resources", Description: "The institution has sound financial resources and audited statements."},
		{Accreditor: "HLC", StandardID: "HLC-4.B", Title: "Assessment of student learning", Description: "The institution assesses learning outcomes for its programs."},
	})
	require.NoError(t, err)
	return snap
}

type RetrieverSuite struct {
	suite.Suite
	snap *standards.Snapshot
	ctx  context.Context
}

func TestRetrieverSuite(t *testing.T) {
	suite.Run(t, new(RetrieverSuite))
}

func (s *RetrieverSuite) SetupTest() {
	s.snap = loadSnapshot(s.T())
	s.ctx = context.Background()
}

func (s *RetrieverSuite) TestShortlistIsBoundedAndRanked() {
	r := NewRetriever(WithTopK(2))
	got, err := r.Retrieve(s.ctx, s.snap, "Our programs assess learning outcomes every year and report student achievement.", "SACS")
	s.Require().NoError(err)
	s.Require().LessOrEqual(len(got), 2)
	s.Require().NotEmpty(got)
	s.Equal("SACS-8.1", got[0].StandardID)
	for i := 1; i < len(got); i++ {
		s.GreaterOrEqual(got[i-1].Score, got[i].Score)
	}
	for _, c := range got {
		std, ok := s.snap.Lookup(c.StandardID)
		s.Require().True(ok)
		s.Equal("SACS", std.Accreditor)
	}
}

func (s *RetrieverSuite) TestDeterministic() {
	text := "Faculty credentials and qualifications are reviewed for every course."
	a, err := NewRetriever().Retrieve(s.ctx, s.snap, text, "")
	s.Require().NoError(err)
	b, err := NewRetriever().Retrieve(s.ctx, s.snap, text, "")
	s.Require().NoError(err)
	s.Equal(a, b)
	s.Equal("SACS-6.1", a[0].StandardID)
}

func (s *RetrieverSuite) TestTiesBreakByID() {
	g := standards.NewGraph()
	snap, err := g.Load(s.ctx, standards.StaticSource{
		{Accreditor: "X", StandardID: "X-2", Title: "library resources"},
		{Accreditor: "X", StandardID: "X-1", Title: "library resources"},
	})
	s.Require().NoError(err)
	got, err := NewRetriever().Retrieve(s.ctx, snap, "library resources", "X")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("X-1", got[0].StandardID)
	s.Equal("X-2", got[1].StandardID)
	s.InDelta(got[0].Score, got[1].Score, 1e-12)
}

func (s *RetrieverSuite) TestRetrievalErrors() {
	r := NewRetriever()

	s.Run("empty scope", func() {
		_, err := r.Retrieve(s.ctx, s.snap, "anything", "MSCHE")
		s.True(IsRetrievalError(err))
	})

	s.Run("no snapshot", func() {
		_, err := r.Retrieve(s.ctx, nil, "anything", "")
		s.True(IsRetrievalError(err))
		s.ErrorIs(err, standards.ErrGraphUnavailable)
	})

	s.Run("unrelated text yields no candidates", func() {
		got, err := r.Retrieve(s.ctx, s.snap, "zebra xylophone", "SACS")
		s.NoError(err)
		s.Empty(got)
	})
}

func (s *RetrieverSuite) TestIndexFollowsSnapshotVersion() {
	g := standards.NewGraph()
	r := NewRetriever()
	g.OnReload(r.Prime)

	_, err := g.Load(s.ctx, standards.StaticSource{{Accreditor: "X", StandardID: "X-1", Title: "library resources"}})
	s.Require().NoError(err)
	snap2, err := g.Load(s.ctx, standards.StaticSource{{Accreditor: "X", StandardID: "X-9", Title: "library resources"}})
	s.Require().NoError(err)

	got, err := r.Retrieve(s.ctx, snap2, "library", "X")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("X-9", got[0].StandardID)
}

func TestRerankerUsesScorerAndOrders(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := mocks.NewMockScorer(ctrl)
	snap := loadSnapshot(t)
	ctx := context.Background()

	scorer.EXPECT().Score(gomock.Any(), "evidence", snap.FullText("SACS-8")).Return(0.3, nil)
	scorer.EXPECT().Score(gomock.Any(), "evidence", snap.FullText("SACS-8.1")).Return(0.7, nil)
	scorer.EXPECT().Score(gomock.Any(), "evidence", snap.FullText("SACS-6.1")).Return(0.7, nil)

	r := NewReranker(scorer)
	got, err := r.Rerank(ctx, snap, "evidence", []Candidate{
		{StandardID: "SACS-8", Score: 0.9},
		{StandardID: "SACS-8.1", Score: 0.5},
		{StandardID: "SACS-6.1", Score: 0.4},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "SACS-6.1", got[0].StandardID)
	assert.Equal(t, "SACS-8.1", got[1].StandardID)
	assert.Equal(t, "SACS-8", got[2].StandardID)
	assert.Equal(t, 0.9, got[2].RetrievalScore)
}

func TestRerankerScorerFailureIsCalibrationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := mocks.NewMockScorer(ctrl)
	snap := loadSnapshot(t)
	scorer.EXPECT().Score(gomock.Any(), gomock.Any(), gomock.Any()).Return(0.0, errors.New("model offline"))

	_, err := NewReranker(scorer).Rerank(context.Background(), snap, "x", []Candidate{{StandardID: "SACS-8"}})
	assert.True(t, IsCalibrationError(err))
}

func TestRerankerHonoursCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	scorer := mocks.NewMockScorer(ctrl)
	snap := loadSnapshot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReranker(scorer, WithRateLimit(1, 1)).Rerank(ctx, snap, "x", []Candidate{{StandardID: "SACS-8"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlendScorer(t *testing.T) {
	b := NewBlendScorer()
	ctx := context.Background()
	std := "Learning outcomes assessment. Programs identify expected learning outcomes and assess achievement."

	related, err := b.Score(ctx, "Each program identifies expected learning outcomes. We assess achievement annually.", std)
	require.NoError(t, err)
	unrelated, err := b.Score(ctx, "The parking garage was repainted in spring.", std)
	require.NoError(t, err)

	assert.Greater(t, related, unrelated)
	assert.GreaterOrEqual(t, unrelated, 0.0)
	assert.LessOrEqual(t, related, 1.0)

	again, _ := b.Score(ctx, "Each program identifies expected learning outcomes. We assess achievement annually.", std)
	assert.Equal(t, related, again)
}

type CalibratorSuite struct {
	suite.Suite
	cal *Calibrator
}

func TestCalibratorSuite(t *testing.T) {
	suite.Run(t, new(CalibratorSuite))
}

func (s *CalibratorSuite) SetupTest() {
	s.cal = NewCalibrator()
}

func (s *CalibratorSuite) TestMonotonicAndBounded() {
	prev := -1.0
	for i := 0; i <= 20; i++ {
		v, err := s.cal.Calibrate(float64(i) / 20)
		s.Require().NoError(err)
		s.GreaterOrEqual(v, 0.0)
		s.LessOrEqual(v, 1.0)
		s.Greater(v, prev)
		prev = v
	}
}

func (s *CalibratorSuite) TestMalformedScores() {
	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -0.01, 1.01} {
		_, err := s.cal.Calibrate(raw)
		s.True(IsCalibrationError(err), "raw %v", raw)
	}
}

func (s *CalibratorSuite) TestRawInvertsCalibrate() {
	for _, c := range []float64{0.1, 0.4, 0.5, 0.9} {
		v, err := s.cal.Calibrate(s.cal.Raw(c))
		s.Require().NoError(err)
		s.InDelta(c, v, 1e-9)
	}
}

func (s *CalibratorSuite) TestCandidatesBelowFloorAreGaps() {
	snap := loadSnapshot(s.T())
	accepted, gaps, err := s.cal.CalibrateCandidates(context.Background(), nil, snap, "Programs assess learning outcomes.", []Scored{
		{StandardID: "SACS-8.1", RawScore: s.cal.Raw(0.9)},
		{StandardID: "SACS-6.1", RawScore: s.cal.Raw(0.4)},
	})
	s.Require().NoError(err)
	s.Equal(1, gaps)
	s.Require().Len(accepted, 1)
	s.Equal("SACS-8.1", accepted[0].StandardID)
	s.InDelta(0.9, accepted[0].Confidence, 1e-9)
	s.NotEmpty(accepted[0].Rationale)
}

func (s *CalibratorSuite) TestMalformedCandidateFailsDocument() {
	snap := loadSnapshot(s.T())
	_, _, err := s.cal.CalibrateCandidates(context.Background(), nil, snap, "x", []Scored{
		{StandardID: "SACS-8.1", RawScore: 0.8},
		{StandardID: "SACS-6.1", RawScore: math.NaN()},
	})
	s.True(IsCalibrationError(err))
}

func (s *CalibratorSuite) TestRationaleIsShortestSupportingSpan() {
	ctx := context.Background()
	evidence := "The campus opened in 1920. Faculty credentials are verified for every course taught. Parking is free."
	got, err := s.cal.Rationale(ctx, nil, evidence, "Faculty qualifications. Faculty hold appropriate credentials for the courses they teach.")
	s.Require().NoError(err)
	s.Equal("Faculty credentials are verified for every course taught.", got)

	got, err = s.cal.Rationale(ctx, nil, "", "anything")
	s.Require().NoError(err)
	s.Empty(got)
}

// binderScorer only recognizes sentences that mention a binder, which share
// no terms with the faculty standard.
func (s *CalibratorSuite) binderScorer() Scorer {
	return ScorerFunc(func(_ context.Context, evidence, _ string) (float64, error) {
		if strings.Contains(strings.ToLower(evidence), "binder") {
			return s.cal.Raw(0.9), nil
		}
		return 0, nil
	})
}

func (s *CalibratorSuite) TestRationaleUsesRerankerScorer() {
	ctx := context.Background()
	evidence := "Faculty credentials are verified for every course taught. The binder is kept in room 12."
	standard := "Faculty qualifications. Faculty hold appropriate credentials for the courses they teach."

	lexical, err := s.cal.Rationale(ctx, nil, evidence, standard)
	s.Require().NoError(err)
	s.Equal("Faculty credentials are verified for every course taught.", lexical)

	got, err := s.cal.Rationale(ctx, s.binderScorer(), evidence, standard)
	s.Require().NoError(err)
	s.Equal("The binder is kept in room 12.", got)

	snap := loadSnapshot(s.T())
	rr := NewReranker(s.binderScorer())
	accepted, _, err := s.cal.CalibrateCandidates(ctx, rr.Scorer(), snap, evidence, []Scored{
		{StandardID: "SACS-6.1", RawScore: s.cal.Raw(0.9)},
	})
	s.Require().NoError(err)
	s.Require().Len(accepted, 1)
	s.Equal("The binder is kept in room 12.", accepted[0].Rationale)
}

func (s *CalibratorSuite) TestRationaleScorerFailureFailsDocument() {
	snap := loadSnapshot(s.T())
	failing := ScorerFunc(func(context.Context, string, string) (float64, error) {
		return 0, errors.New("model unavailable")
	})
	_, _, err := s.cal.CalibrateCandidates(context.Background(), failing, snap, "Faculty credentials.", []Scored{
		{StandardID: "SACS-6.1", RawScore: s.cal.Raw(0.9)},
	})
	s.True(IsCalibrationError(err))
}
