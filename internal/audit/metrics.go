package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricAppendsTotal         = "audit_appends_total"
	MetricAppendConflictsTotal = "audit_append_conflicts_total"
	MetricAppendDuration       = "audit_append_duration_seconds"
)

// Metrics contains Prometheus metrics for the append path.
// All operations are thread-safe.
type Metrics struct {
	appendsTotal    *prometheus.CounterVec
	appendConflicts prometheus.Counter
	appendDuration  prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAppendsTotal,
				Help: "Total number of audit entry appends by status",
			},
			[]string{"status"},
		),
		appendConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricAppendConflictsTotal,
				Help: "Total number of per-chain append conflicts that triggered a retry",
			},
		),
		appendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricAppendDuration,
				Help:    "Histogram of append duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.appendsTotal,
		m.appendConflicts,
		m.appendDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncAppends increments the append counter for a status ("success" or "failure").
func (m *Metrics) IncAppends(status string) {
	m.appendsTotal.WithLabelValues(status).Inc()
}

// IncAppendConflicts increments the append conflict counter.
func (m *Metrics) IncAppendConflicts() {
	m.appendConflicts.Inc()
}

// ObserveAppendDuration records an append duration sample.
func (m *Metrics) ObserveAppendDuration(seconds float64) {
	m.appendDuration.Observe(seconds)
}
