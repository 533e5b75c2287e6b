package standards

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
)

type GraphSuite struct {
	suite.Suite
	graph *Graph
	ctx   context.Context
}

func TestGraphSuite(t *testing.T) {
	suite.Run(t, new(GraphSuite))
}

func (s *GraphSuite) SetupTest() {
	s.graph = NewGraph()
	s.ctx = context.Background()
}

func sampleCorpus() StaticSource {
	return StaticSource{
		{Accreditor: "SACS", StandardID: "SACS-8", Title: "Student achievement"},
		{Accreditor: "SACS", StandardID: "SACS-8.1", ParentID: "SACS-8", Title: "Outcomes assessment", Description: "The institution identifies expected outcomes and assesses the extent to which it achieves them.",
			Equivalences: []Equivalence{{StandardID: "HLC-4.B", Confidence: 0.8}}},
		{Accreditor: "SACS", StandardID: "SACS-8.2", ParentID: "SACS-8", Title: "Faculty qualifications"},
		{Accreditor: "HLC", StandardID: "HLC-4", Title: "Teaching and learning evaluation"},
		{Accreditor: "HLC", StandardID: "HLC-4.B", ParentID: "HLC-4", Title: "Assessment of student learning"},
	}
}

type failingSource struct{}

func (failingSource) Records(context.Context) ([]CorpusRecord, error) {
	return nil, errors.New("loader offline")
}

func (s *GraphSuite) TestReadsBeforeLoad() {
	_, err := s.graph.Snapshot()
	s.ErrorIs(err, ErrGraphUnavailable)

	_, err = s.graph.Lookup("SACS-8")
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *GraphSuite) TestLoadAndQuery() {
	snap, err := s.graph.Load(s.ctx, sampleCorpus())
	s.Require().NoError(err)
	s.Equal(uint64(1), snap.Version())
	s.Equal(5, snap.Len())

	s.Run("lookup by id", func() {
		st, err := s.graph.Lookup("SACS-8.1")
		s.Require().NoError(err)
		s.Equal("Outcomes assessment", st.Title)
		s.Equal("SACS-8", st.ParentID)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.graph.Lookup("NOPE-1")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("list by accreditor is ordered", func() {
		list, err := s.graph.ListByAccreditor("SACS")
		s.Require().NoError(err)
		s.Require().Len(list, 3)
		s.Equal("SACS-8", list[0].ID)
		s.Equal("SACS-8.1", list[1].ID)
		s.Equal("SACS-8.2", list[2].ID)
	})

	s.Run("equivalences are symmetric", func() {
		fwd, err := s.graph.EquivalenceNeighbors("SACS-8.1")
		s.Require().NoError(err)
		s.Equal([]Equivalence{{StandardID: "HLC-4.B", Confidence: 0.8}}, fwd)

		back, err := s.graph.EquivalenceNeighbors("HLC-4.B")
		s.Require().NoError(err)
		s.Equal([]Equivalence{{StandardID: "SACS-8.1", Confidence: 0.8}}, back)
	})

	s.Run("hierarchy navigation", func() {
		children := snap.Children("SACS-8")
		s.Len(children, 2)
		ancestors := snap.Ancestors("SACS-8.1")
		s.Require().Len(ancestors, 1)
		s.Equal("SACS-8", ancestors[0].ID)
		s.True(strings.HasPrefix(snap.FullText("SACS-8.1"), "Student achievement."))
	})
}

func (s *GraphSuite) TestRejectedReloadKeepsPreviousSnapshot() {
	_, err := s.graph.Load(s.ctx, sampleCorpus())
	s.Require().NoError(err)

	cases := map[string]CorpusSource{
		"loader failure":     failingSource{},
		"duplicate id":       StaticSource{{Accreditor: "A", StandardID: "A-1"}, {Accreditor: "A", StandardID: "A-1"}},
		"dangling parent":    StaticSource{{Accreditor: "A", StandardID: "A-1", ParentID: "A-0"}},
		"parent cycle":       StaticSource{{Accreditor: "A", StandardID: "A-1", ParentID: "A-2"}, {Accreditor: "A", StandardID: "A-2", ParentID: "A-1"}},
		"missing accreditor": StaticSource{{StandardID: "A-1"}},
		"unknown equivalence": StaticSource{{Accreditor: "A", StandardID: "A-1",
			Equivalences: []Equivalence{{StandardID: "B-9", Confidence: 0.5}}}},
		"empty corpus": StaticSource{},
	}
	for name, src := range cases {
		s.Run(name, func() {
			_, err := s.graph.Load(s.ctx, src)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))

			snap, err := s.graph.Snapshot()
			s.Require().NoError(err)
			s.Equal(uint64(1), snap.Version())
			s.Equal(5, snap.Len())
		})
	}
}

func (s *GraphSuite) TestReloadHooksAndVersioning() {
	var seen []uint64
	s.graph.OnReload(func(snap *Snapshot) { seen = append(seen, snap.Version()) })

	_, err := s.graph.Load(s.ctx, sampleCorpus())
	s.Require().NoError(err)
	_, err = s.graph.Load(s.ctx, failingSource{})
	s.Require().Error(err)
	_, err = s.graph.Load(s.ctx, sampleCorpus())
	s.Require().NoError(err)

	s.Equal([]uint64{1, 2}, seen)
}

func (s *GraphSuite) TestConcurrentReadersSeeWholeSnapshots() {
	_, err := s.graph.Load(s.ctx, sampleCorpus())
	s.Require().NoError(err)

	small := StaticSource{{Accreditor: "SACS", StandardID: "SACS-1", Title: "Mission"}}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			src := CorpusSource(sampleCorpus())
			if i%2 == 0 {
				src = small
			}
			_, _ = s.graph.Load(s.ctx, src)
		})
		wg.Go(func() {
			snap, err := s.graph.Snapshot()
			if err != nil {
				return
			}
			n := len(snap.ListByAccreditor(""))
			s.True(n == 1 || n == 5, "observed partial snapshot with %d standards", n)
		})
	}
	wg.Wait()
}

func TestDecodeCorpus(t *testing.T) {
	yamlDoc := `
standards:
  - accreditor: SACS
    standard_id: SACS-8
    title: Student achievement
  - accreditor: SACS
    standard_id: SACS-8.1
    parent_id: SACS-8
    title: Outcomes
    equivalences:
      - standard_id: HLC-4.B
        confidence: 0.7
`
	recs, err := DecodeCorpus(strings.NewReader(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if len(recs) != 2 || recs[1].ParentID != "SACS-8" || recs[1].Equivalences[0].Confidence != 0.7 {
		t.Fatalf("unexpected records: %+v", recs)
	}

	jsonList := `[{"accreditor":"HLC","standard_id":"HLC-4","title":"Teaching"}]`
	recs, err = DecodeCorpus(strings.NewReader(jsonList), FormatJSON)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(recs) != 1 || recs[0].StandardID != "HLC-4" {
		t.Fatalf("unexpected records: %+v", recs)
	}

	if _, err := DecodeCorpus(strings.NewReader("{not json"), FormatJSON); err == nil {
		t.Fatal("expected malformed json to fail")
	}
}
