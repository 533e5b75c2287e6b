package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for derived score caches.
type Metrics struct {
	// Lookups by cache (trust, risk) and result (hit, miss, expired, l2_hit, stale)
	Lookups *prometheus.CounterVec

	// Recompute latency by cache
	RecomputeLatency *prometheus.HistogramVec

	// Scoped invalidations by cache
	Invalidations *prometheus.CounterVec

	// L2 failures by cache and operation
	L2Errors *prometheus.CounterVec
}

// New creates a new Metrics instance with all scoring metrics registered.
func New() *Metrics {
	return &Metrics{
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_scoring_cache_lookups_total",
			Help: "Derived score cache lookups by cache and result",
		}, []string{"cache", "result"}),
		RecomputeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accord_scoring_recompute_duration_seconds",
			Help:    "Duration of synchronous recomputes on cache miss",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"cache"}),
		Invalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_scoring_cache_invalidations_total",
			Help: "Per-standard cache invalidations by cache",
		}, []string{"cache"}),
		L2Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_scoring_l2_errors_total",
			Help: "Shared cache failures by cache and operation",
		}, []string{"cache", "op"}),
	}
}

// IncrementLookup records a cache lookup result.
func (m *Metrics) IncrementLookup(cache, result string) {
	if m != nil {
		m.Lookups.WithLabelValues(cache, result).Inc()
	}
}

// ObserveRecompute records a recompute duration.
func (m *Metrics) ObserveRecompute(cache string, d time.Duration) {
	if m != nil {
		m.RecomputeLatency.WithLabelValues(cache).Observe(d.Seconds())
	}
}

// IncrementInvalidation records a scoped invalidation.
func (m *Metrics) IncrementInvalidation(cache string) {
	if m != nil {
		m.Invalidations.WithLabelValues(cache).Inc()
	}
}

// IncrementL2Error records a shared cache failure.
func (m *Metrics) IncrementL2Error(cache, op string) {
	if m != nil {
		m.L2Errors.WithLabelValues(cache, op).Inc()
	}
}
