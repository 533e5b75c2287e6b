package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accord/internal/platform/metrics"
	"accord/pkg/platform/httputil"
	"accord/pkg/platform/middleware/admin"
	"accord/pkg/platform/middleware/request"
	"accord/pkg/platform/middleware/requesttime"
)

// Registrar mounts a domain's endpoints.
type Registrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts operator endpoints behind the admin token.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports one dependency's readiness.
type HealthCheck func(ctx context.Context) error

// Config wires the router.
type Config struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	AdminToken string
	Handlers   []Registrar
	Admin      []AdminRegistrar
	// Checks are run by /healthz; a failing check returns 503.
	Checks map[string]HealthCheck
}

// NewRouter builds the chi router with the shared middleware chain.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(cfg.Logger, cfg.Metrics))
	r.Use(request.Recoverer(cfg.Logger, cfg.Metrics))

	r.Get("/healthz", healthz(cfg.Checks))
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range cfg.Handlers {
		h.Register(r)
	}
	if len(cfg.Admin) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
			for _, h := range cfg.Admin {
				h.RegisterAdmin(r)
			}
		})
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
