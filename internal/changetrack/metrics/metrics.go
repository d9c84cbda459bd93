package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for change tracking.
type Metrics struct {
	// Records persisted by change type and capture mode
	RecordsTracked *prometheus.CounterVec

	// Operations that produced no record, by reason
	Skipped *prometheus.CounterVec

	// Failures to persist a record (the caller sees an error)
	StoreFailures prometheus.Counter

	// Failures to forward a persisted record to a sink
	SinkFailures *prometheus.CounterVec

	// Sink circuit state (0=closed/healthy, 1=open/unhealthy)
	SinkCircuitState *prometheus.GaugeVec

	// End-to-end Track latency including the store write
	TrackLatency prometheus.Histogram
}

// New registers all change tracking metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsTracked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datachange_records_tracked_total",
			Help: "Total change records persisted by change type and capture mode",
		}, []string{"change_type", "mode"}),

		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datachange_operations_skipped_total",
			Help: "Total tracked operations that produced no record, by reason",
		}, []string{"reason"}),

		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "datachange_store_failures_total",
			Help: "Total failures to persist a change record",
		}),

		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datachange_sink_failures_total",
			Help: "Total failures to forward a persisted record to a sink",
		}, []string{"sink"}),

		SinkCircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "datachange_sink_circuit_state",
			Help: "Current sink circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}, []string{"sink"}),

		TrackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "datachange_track_duration_seconds",
			Help:    "Duration of a Track call including the store write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncTracked records a persisted record.
func (m *Metrics) IncTracked(changeType, mode string) {
	if m != nil {
		m.RecordsTracked.WithLabelValues(changeType, mode).Inc()
	}
}

// IncSkipped records an operation that produced no record.
func (m *Metrics) IncSkipped(reason string) {
	if m != nil {
		m.Skipped.WithLabelValues(reason).Inc()
	}
}

// IncStoreFailures records a failed store write.
func (m *Metrics) IncStoreFailures() {
	if m != nil {
		m.StoreFailures.Inc()
	}
}

// IncSinkFailures records a failed sink forward.
func (m *Metrics) IncSinkFailures(sink string) {
	if m != nil {
		m.SinkFailures.WithLabelValues(sink).Inc()
	}
}

// SetSinkCircuitState sets the circuit breaker gauge for a sink.
func (m *Metrics) SetSinkCircuitState(sink string, open bool) {
	if m == nil {
		return
	}
	if open {
		m.SinkCircuitState.WithLabelValues(sink).Set(1)
	} else {
		m.SinkCircuitState.WithLabelValues(sink).Set(0)
	}
}

// ObserveTrackLatency records the total Track duration.
func (m *Metrics) ObserveTrackLatency(d time.Duration) {
	if m != nil {
		m.TrackLatency.Observe(d.Seconds())
	}
}
