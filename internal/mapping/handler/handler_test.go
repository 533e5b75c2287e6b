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

	"accord/internal/mapping"
)

func newRouter(t *testing.T) (http.Handler, *mapping.InMemoryStore) {
	t.Helper()
	store := mapping.NewInMemoryStore(nil)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(store, logger).Register(r)
	return r, store
}

func TestListMappings(t *testing.T) {
	router, store := newRouter(t)
	ctx := context.Background()
	for _, std := range []string{"S1", "S2"} {
		_, err := store.Supersede(ctx, mapping.Mapping{
			EvidenceID:           "E1",
			StandardID:           std,
			CalibratedConfidence: 0.9,
			ProducedByStage:      mapping.StageMapper,
		})
		require.NoError(t, err)
	}

	t.Run("by evidence", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mappings?evidence_id=E1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp.Mappings, 2)
	})

	t.Run("by standard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mappings?standard_id=S2", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Mappings, 1)
		assert.Equal(t, "S2", resp.Mappings[0].StandardID)
	})

	t.Run("unknown standard is an empty list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mappings?standard_id=S9", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"mappings":[]}`, rec.Body.String())
	})

	t.Run("missing filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mappings", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("both filters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mappings?standard_id=S1&evidence_id=E1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
