package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"accord/internal/audit"
	"accord/internal/mapping"
	"accord/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	mappings *mapping.InMemoryStore
	verifier *audit.Verifier
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.mappings = mapping.NewInMemoryStore(nil)
	s.verifier = audit.NewVerifier(s.mappings, audit.NewInMemoryStore())
	r := chi.NewRouter()
	New(s.verifier, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Register(r)
	s.router = r
}

func (s *HandlerSuite) get(target string) *httptest.ResponseRecorder {
	return testutil.Get(s.router, target)
}

func (s *HandlerSuite) TestTrailCoversEveryVersion() {
	ctx := context.Background()
	first, err := s.mappings.Supersede(ctx, mapping.Mapping{
		EvidenceID: "E1", StandardID: "S1", CalibratedConfidence: 0.6, ProducedByStage: mapping.StageMapper,
	})
	s.Require().NoError(err)
	_, err = s.verifier.Verify(ctx, mapping.StageVerifier, first.ID)
	s.Require().NoError(err)

	second, err := s.mappings.Supersede(ctx, mapping.Mapping{
		EvidenceID: "E1", StandardID: "S1", CalibratedConfidence: 0.95, ProducedByStage: mapping.StageMapper,
	})
	s.Require().NoError(err)
	_, err = s.verifier.Verify(ctx, mapping.StageVerifier, second.ID)
	s.Require().NoError(err)

	rec := s.get("/audit-trail?mapping_id=" + second.ID.String())
	s.Require().Equal(http.StatusOK, rec.Code)

	resp := testutil.UnmarshalResponse[TrailResponse](s.T(), rec)
	s.Require().Len(resp.Entries, 2)
	s.Equal(audit.DecisionReject, resp.Entries[0].Decision)
	s.Equal(audit.DecisionAccept, resp.Entries[1].Decision)
	s.Less(resp.Entries[0].Sequence, resp.Entries[1].Sequence)

	rec = s.get("/audit-trail/verify")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"valid":true}`, rec.Body.String())
}

func (s *HandlerSuite) TestTrailValidation() {
	s.Equal(http.StatusBadRequest, s.get("/audit-trail").Code)
	s.Equal(http.StatusBadRequest, s.get("/audit-trail?mapping_id=nope").Code)
	testutil.AssertStatusAndError(s.T(), s.get("/audit-trail?mapping_id="+uuid.NewString()), http.StatusNotFound, "not_found")
}
