// Package metrics registers the SDK's Prometheus instrumentation under the
// cf_sdk namespace: circuit-breaker state gauges, queue depth/retry/drop
// counters, cache hit/miss counters, and a fetch-latency histogram. It is
// grounded on the teacher's pkg/metrics.RetryMetrics (promauto.NewCounterVec/
// NewHistogramVec + Namespace/Subsystem + label-vec convention, and the
// nil-receiver-safe RecordX methods so metrics stay optional) and
// publishing/metrics.go's per-subsystem metrics-struct shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/breaker"
)

const namespace = "cf_sdk"

// SDK bundles every subsystem's metrics. A nil *SDK is safe everywhere it
// is passed — every RecordX method nil-checks the receiver — so callers
// that don't want Prometheus wiring can pass nil instead of a real SDK.
type SDK struct {
	breakerState *prometheus.GaugeVec

	queuePending *prometheus.GaugeVec
	queueSuccess *prometheus.CounterVec
	queueRetries *prometheus.CounterVec
	queueDrops   *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	fetchDuration *prometheus.HistogramVec
}

// New registers every SDK metric with the default Prometheus registry.
// Call it at most once per process; reuse the returned *SDK everywhere.
func New() *SDK {
	return &SDK{
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state by op_key (0=closed, 1=open, 2=half_open)",
		}, []string{"op_key"}),

		queuePending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Pending operation count by queue name",
		}, []string{"queue"}),

		queueSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "success_total",
			Help:      "Total successfully processed operations by queue name",
		}, []string{"queue"}),

		queueRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retries_total",
			Help:      "Total operation retries by queue name",
		}, []string{"queue"}),

		queueDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Total operations permanently dropped after exhausting retries, by queue name",
		}, []string{"queue"}),

		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Config Cache hits by tier (memory, disk)",
		}, []string{"tier"}),

		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Config Cache misses by tier (memory, disk)",
		}, []string{"tier"}),

		fetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Config Fetcher request duration by endpoint and outcome",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "outcome"}),
	}
}

// RecordTrip implements breaker.Metrics.
func (m *SDK) RecordTrip(opKey string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(opKey).Set(float64(breaker.StateOpen))
}

// RecordRecovery implements breaker.Metrics.
func (m *SDK) RecordRecovery(opKey string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(opKey).Set(float64(breaker.StateClosed))
}

// SetState implements breaker.Metrics.
func (m *SDK) SetState(opKey string, state breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(opKey).Set(float64(state))
}

// SetPendingCount implements queue.Metrics.
func (m *SDK) SetPendingCount(queueName string, count int) {
	if m == nil {
		return
	}
	m.queuePending.WithLabelValues(queueName).Set(float64(count))
}

// RecordSuccess implements queue.Metrics.
func (m *SDK) RecordSuccess(queueName string) {
	if m == nil {
		return
	}
	m.queueSuccess.WithLabelValues(queueName).Inc()
}

// RecordRetry implements queue.Metrics.
func (m *SDK) RecordRetry(queueName string) {
	if m == nil {
		return
	}
	m.queueRetries.WithLabelValues(queueName).Inc()
}

// RecordDrop implements queue.Metrics.
func (m *SDK) RecordDrop(queueName string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queueName).Inc()
}

// RecordHit implements cache.Metrics.
func (m *SDK) RecordHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

// RecordMiss implements cache.Metrics.
func (m *SDK) RecordMiss(tier string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordFetch records a Config Fetcher request's duration and outcome.
func (m *SDK) RecordFetch(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(endpoint, outcome).Observe(seconds)
}
