package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for retrieval, reranking and calibration.
type Metrics struct {
	RetrieveLatency prometheus.Histogram
	ShortlistSize   prometheus.Histogram
	ScorerLatency   prometheus.Histogram

	// Calibration outcomes: accepted, gap, error
	CalibrationOutcomes *prometheus.CounterVec
}

// New creates a new Metrics instance with all retrieval metrics registered.
func New() *Metrics {
	return &Metrics{
		RetrieveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_retrieval_retrieve_duration_seconds",
			Help:    "Duration of candidate retrieval including index lookups",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ShortlistSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_retrieval_shortlist_size",
			Help:    "Number of candidates returned per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		ScorerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_retrieval_scorer_duration_seconds",
			Help:    "Duration of individual reranker scorer calls including rate limit waits",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		CalibrationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_retrieval_calibration_outcomes_total",
			Help: "Calibrated candidates by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRetrieve records one retrieval.
func (m *Metrics) ObserveRetrieve(candidates int, d time.Duration) {
	if m != nil {
		m.RetrieveLatency.Observe(d.Seconds())
		m.ShortlistSize.Observe(float64(candidates))
	}
}

// ObserveScorer records one scorer call.
func (m *Metrics) ObserveScorer(d time.Duration) {
	if m != nil {
		m.ScorerLatency.Observe(d.Seconds())
	}
}

// IncrementCalibration records calibration outcomes.
func (m *Metrics) IncrementCalibration(outcome string, n int) {
	if m != nil && n > 0 {
		m.CalibrationOutcomes.WithLabelValues(outcome).Add(float64(n))
	}
}
