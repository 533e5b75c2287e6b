package httptransport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"accord/pkg/platform/middleware/request"
)

type pingHandler struct{}

func (pingHandler) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func (pingHandler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	return NewRouter(Config{
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		AdminToken: "tok",
		Handlers:   []Registrar{pingHandler{}},
		Admin:      []AdminRegistrar{pingHandler{}},
		Checks:     checks,
	})
}

func serve(h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	router := newTestRouter(map[string]HealthCheck{
		"standards": func(context.Context) error { return nil },
	})

	rec := serve(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(request.HeaderRequestID))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(router, http.MethodPost, "/ping", nil).Code)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/admin/ping", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/admin/ping", map[string]string{"X-Admin-Token": "tok"}).Code)
}

func TestHealthzDegraded(t *testing.T) {
	router := newTestRouter(map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := serve(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
