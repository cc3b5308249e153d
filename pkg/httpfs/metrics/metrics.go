// Package metrics provides the Prometheus-backed httpfs.WorkerMetrics
// implementation described in SPEC_FULL.md's domain stack section.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

// Metrics implements httpfs.WorkerMetrics with Prometheus collectors. It's
// nil-safe by construction: callers who don't want metrics simply pass nil
// to httpfs.NewWorker/Factory instead of constructing one.
type Metrics struct {
	started  *prometheus.CounterVec
	succeeded *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queueDepth prometheus.Gauge
	inFlight   prometheus.Gauge
}

// New registers a fresh Metrics against reg (pass prometheus.DefaultRegisterer
// for the global registry).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curlfs_operations_started_total",
			Help: "Operations started, by verb.",
		}, []string{"verb"}),
		succeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curlfs_operations_succeeded_total",
			Help: "Operations that completed successfully, by verb.",
		}, []string{"verb"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curlfs_operations_failed_total",
			Help: "Operations that failed, by verb and error kind.",
		}, []string{"verb", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curlfs_operation_duration_seconds",
			Help:    "Operation duration, by verb.",
			Buckets: prometheus.DefBuckets,
		}, []string{"verb"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curlfs_handler_queue_depth",
			Help: "Current depth of the handler queue.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curlfs_operations_in_flight",
			Help: "Operations currently in flight across all workers.",
		}),
	}
	reg.MustRegister(m.started, m.succeeded, m.failed, m.duration, m.queueDepth, m.inFlight)
	return m
}

func (m *Metrics) OperationStarted(verb string) {
	m.started.WithLabelValues(verb).Inc()
}

func (m *Metrics) OperationSucceeded(verb string, duration time.Duration) {
	m.succeeded.WithLabelValues(verb).Inc()
	m.duration.WithLabelValues(verb).Observe(duration.Seconds())
}

func (m *Metrics) OperationFailed(verb string, kind httpfs.ErrorKind) {
	m.failed.WithLabelValues(verb, kind.String()).Inc()
}

func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }
func (m *Metrics) InFlight(n int)   { m.inFlight.Set(float64(n)) }
