package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives operation-level measurements. The engine calls it
// once per capture/restore plus once per restored entity batch.
type MetricsRecorder interface {
	ObserveOperation(action Action, outcome Outcome, duration time.Duration)
	ObserveEntityRows(action Action, entity EntityType, rows int)
}

// NopMetricsRecorder discards all measurements.
type NopMetricsRecorder struct{}

// ObserveOperation implements MetricsRecorder.
func (NopMetricsRecorder) ObserveOperation(Action, Outcome, time.Duration) {}

// ObserveEntityRows implements MetricsRecorder.
func (NopMetricsRecorder) ObserveEntityRows(Action, EntityType, int) {}

// PrometheusMetricsRecorder exposes operation counters, a duration
// histogram, and per-entity row counters.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	entityRows *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder builds the collectors and registers them with
// the supplied registerer (pass prometheus.DefaultRegisterer in production).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haccare",
			Subsystem: "scenario",
			Name:      "operations_total",
			Help:      "Capture and restore operations by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haccare",
			Subsystem: "scenario",
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of capture and restore operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		entityRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haccare",
			Subsystem: "scenario",
			Name:      "entity_rows_total",
			Help:      "Rows captured or restored, by action and entity.",
		}, []string{"action", "entity"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration, r.entityRows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveOperation implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveOperation(action Action, outcome Outcome, duration time.Duration) {
	r.operations.WithLabelValues(string(action), string(outcome)).Inc()
	r.duration.WithLabelValues(string(action)).Observe(duration.Seconds())
}

// ObserveEntityRows implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveEntityRows(action Action, entity EntityType, rows int) {
	r.entityRows.WithLabelValues(string(action), string(entity)).Add(float64(rows))
}
