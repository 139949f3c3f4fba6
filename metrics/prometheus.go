// Package metrics provides Prometheus metrics export for the posting node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the forward/delete/pin counters.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeMissing = "missing"
	OutcomeFailed  = "failed"
)

// Exporter exports posting-node metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Scheduler metrics
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	postsExamined prometheus.Gauge

	// Outbound call metrics
	forwards       *prometheus.CounterVec
	forwardLatency prometheus.Histogram
	limiterWait    prometheus.Histogram
	deletes        *prometheus.CounterVec
	pins           *prometheus.CounterVec

	// Failure metrics
	postErrors      *prometheus.CounterVec
	criticalCleanup prometheus.Counter

	// Node metrics
	heartbeats     *prometheus.CounterVec
	adminNotices   *prometheus.CounterVec
	attemptsPruned prometheus.Counter
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of scheduler cycles",
		},
	)

	e.cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopostd",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Scheduler cycle duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.postsExamined = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autopostd",
			Subsystem: "scheduler",
			Name:      "posts_examined",
			Help:      "Number of posts fetched in the last cycle",
		},
	)

	e.forwards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "forwards_total",
			Help:      "Total number of forward attempts",
		},
		[]string{"outcome"},
	)

	e.forwardLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "forward_latency_seconds",
			Help:      "Forward call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.limiterWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting on rate limiters before outbound calls",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.deletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "deletes_total",
			Help:      "Total number of previous-message deletions",
		},
		[]string{"outcome"},
	)

	e.pins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "pins_total",
			Help:      "Total number of pin operations",
		},
		[]string{"outcome"},
	)

	e.postErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "post_errors_total",
			Help:      "Total number of classified posting errors",
		},
		[]string{"kind"},
	)

	e.criticalCleanup = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "posting",
			Name:      "critical_cleanups_total",
			Help:      "Total number of groups removed after critical errors",
		},
	)

	e.heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "node",
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeat rounds",
		},
		[]string{"status"},
	)

	e.adminNotices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "node",
			Name:      "admin_notices_total",
			Help:      "Total number of admin notification deliveries",
		},
		[]string{"status"},
	)

	e.attemptsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopostd",
			Subsystem: "node",
			Name:      "attempts_pruned_total",
			Help:      "Total number of attempt rows removed by retention sweeps",
		},
	)

	registry.MustRegister(
		e.cycles,
		e.cycleDuration,
		e.postsExamined,
		e.forwards,
		e.forwardLatency,
		e.limiterWait,
		e.deletes,
		e.pins,
		e.postErrors,
		e.criticalCleanup,
		e.heartbeats,
		e.adminNotices,
		e.attemptsPruned,
	)

	return e
}

// RecordCycle records one scheduler pass.
func (e *Exporter) RecordCycle(examined int, latency time.Duration) {
	e.cycles.Inc()
	e.cycleDuration.Observe(latency.Seconds())
	e.postsExamined.Set(float64(examined))
}

// RecordForward records a forward attempt and its latency.
func (e *Exporter) RecordForward(outcome string, latency time.Duration) {
	e.forwards.WithLabelValues(outcome).Inc()
	e.forwardLatency.Observe(latency.Seconds())
}

// RecordLimiterWait records time spent blocked on a rate limiter.
func (e *Exporter) RecordLimiterWait(wait time.Duration) {
	e.limiterWait.Observe(wait.Seconds())
}

// RecordDelete records a previous-message deletion attempt.
func (e *Exporter) RecordDelete(outcome string) {
	e.deletes.WithLabelValues(outcome).Inc()
}

// RecordPin records a pin attempt.
func (e *Exporter) RecordPin(outcome string) {
	e.pins.WithLabelValues(outcome).Inc()
}

// RecordPostError records a classified posting error.
func (e *Exporter) RecordPostError(kind string) {
	e.postErrors.WithLabelValues(kind).Inc()
}

// RecordCriticalCleanup records a group removed after a critical error.
func (e *Exporter) RecordCriticalCleanup() {
	e.criticalCleanup.Inc()
}

// RecordHeartbeat records a heartbeat round.
func (e *Exporter) RecordHeartbeat(success bool) {
	e.heartbeats.WithLabelValues(statusLabel(success)).Inc()
}

// RecordAdminNotice records an admin notification delivery.
func (e *Exporter) RecordAdminNotice(success bool) {
	e.adminNotices.WithLabelValues(statusLabel(success)).Inc()
}

// RecordAttemptsPruned records attempt rows removed by a retention sweep.
func (e *Exporter) RecordAttemptsPruned(n int64) {
	e.attemptsPruned.Add(float64(n))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
