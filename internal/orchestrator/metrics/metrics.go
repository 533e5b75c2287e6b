package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for analysis runs.
type Metrics struct {
	// Runs by terminal state
	RunOutcomes *prometheus.CounterVec

	// Stage latency by stage
	StageLatency *prometheus.HistogramVec

	// Documents by mapper outcome
	DocumentOutcomes *prometheus.CounterVec

	// Citations by verifier decision
	Citations *prometheus.CounterVec
}

// New creates a new Metrics instance with all orchestrator metrics registered.
func New() *Metrics {
	return &Metrics{
		RunOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_runs_total",
			Help: "Analysis runs by terminal state",
		}, []string{"state"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accord_run_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		DocumentOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_run_documents_total",
			Help: "Evidence documents processed by the mapper by outcome",
		}, []string{"status"}),
		Citations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_run_citations_total",
			Help: "Narrative citations by verifier decision",
		}, []string{"decision"}),
	}
}

// IncrementRun records a terminal run state.
func (m *Metrics) IncrementRun(state string) {
	if m != nil {
		m.RunOutcomes.WithLabelValues(state).Inc()
	}
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementDocument records a document outcome.
func (m *Metrics) IncrementDocument(status string) {
	if m != nil {
		m.DocumentOutcomes.WithLabelValues(status).Inc()
	}
}

// IncrementCitation records a verifier decision.
func (m *Metrics) IncrementCitation(decision string) {
	if m != nil {
		m.Citations.WithLabelValues(decision).Inc()
	}
}
