package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/crosswalk"
	dErrors "accord/pkg/domain-errors"
)

type stubService struct {
	res *crosswalk.Result
	err error
}

func (s stubService) Crosswalk(_ context.Context, source, target string) (*crosswalk.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.res
	out.SourceAccreditor, out.TargetAccreditor = source, target
	return &out, nil
}

func serve(svc Service, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCrosswalk(t *testing.T) {
	svc := stubService{res: &crosswalk.Result{
		Matched:         []crosswalk.Match{{SourceID: "A-1", TargetID: "B-1", Confidence: 0.9, Origin: crosswalk.OriginScored}},
		UnmatchedSource: []string{"A-2"},
		UnmatchedTarget: []string{},
	}}

	rec := serve(svc, "/crosswalk?source_accreditor=SACS&target_accreditor=HLC")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SACS", body["source_accreditor"])
	assert.Len(t, body["matched"], 1)
	assert.Equal(t, []any{"A-2"}, body["unmatched_source"])
	assert.Equal(t, []any{}, body["unmatched_target"])
}

func TestCrosswalkErrors(t *testing.T) {
	rec := serve(stubService{err: dErrors.New(dErrors.CodeBadRequest, "source and target accreditor are required")}, "/crosswalk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(stubService{err: dErrors.New(dErrors.CodeRetrieval, "standards graph unavailable")}, "/crosswalk?source_accreditor=A&target_accreditor=B")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
