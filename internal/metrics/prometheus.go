package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/callsync/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are registered lazily on first use so constructing the
// collector never panics on duplicate registration in tests.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	tokensAvailable prometheus.Gauge
	acquireWait     prometheus.Histogram

	batchAdds     *prometheus.CounterVec
	flushTotal    *prometheus.CounterVec
	flushOps      prometheus.Histogram
	flushDuration prometheus.Histogram

	retryEnqueued prometheus.Counter
	retryAttempts *prometheus.CounterVec
	terminalDrops prometheus.Counter
	queueLen      prometheus.Gauge

	pollCycles    prometheus.Counter
	pollUpdated   prometheus.Histogram
	pollDuration  prometheus.Histogram
	reconciles    *prometheus.CounterVec
	fallbackScans prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "callsync" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "callsync"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.tokensAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "limiter",
			Name:      "tokens_available",
			Help:      "Current available tokens in the sink rate limiter.",
		})
		p.acquireWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "limiter",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for token acquisition in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		})

		p.batchAdds = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "adds_total",
			Help:      "Operations entering the write path by routing (buffered/immediate).",
		}, []string{"routing"})
		p.flushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Completed flush attempts by trigger and result.",
		}, []string{"trigger", "result"})
		p.flushOps = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "flush_ops",
			Help:      "Operations per flushed snapshot.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		})
		p.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "flush_duration_seconds",
			Help:      "Flush duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		})

		p.retryEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "retry",
			Name:      "enqueued_total",
			Help:      "Operations routed to the retry queue.",
		})
		p.retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Replay attempts by result.",
		}, []string{"result"})
		p.terminalDrops = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "retry",
			Name:      "terminal_drops_total",
			Help:      "Operations discarded after exhausting retries.",
		})
		p.queueLen = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "retry",
			Name:      "queue_length",
			Help:      "Current retry queue length.",
		})

		p.pollCycles = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "poll_cycles_total",
			Help:      "Completed reconciliation poll cycles.",
		})
		p.pollUpdated = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "poll_updated_records",
			Help:      "Records whose status changed per poll cycle.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		})
		p.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "poll_duration_seconds",
			Help:      "Poll cycle duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		})
		p.reconciles = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "records_total",
			Help:      "Per-record reconciliation outcomes.",
		}, []string{"result"})
		p.fallbackScans = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "fallback_scans_total",
			Help:      "Entries into the degraded sink-scan path.",
		})

		p.reg.MustRegister(
			p.tokensAvailable, p.acquireWait,
			p.batchAdds, p.flushTotal, p.flushOps, p.flushDuration,
			p.retryEnqueued, p.retryAttempts, p.terminalDrops, p.queueLen,
			p.pollCycles, p.pollUpdated, p.pollDuration, p.reconciles, p.fallbackScans,
		)
	})
}

// RecordTokensAvailable sets the available-token gauge.
func (p *PrometheusCollector) RecordTokensAvailable(tokens float64) {
	p.ensureRegistered()
	p.tokensAvailable.Set(tokens)
}

// RecordAcquireWait observes one token acquisition wait.
func (p *PrometheusCollector) RecordAcquireWait(seconds float64) {
	p.ensureRegistered()
	p.acquireWait.Observe(seconds)
}

// RecordBatchAdd counts one write-path routing decision.
func (p *PrometheusCollector) RecordBatchAdd(_ string, buffered bool) {
	p.ensureRegistered()
	routing := "immediate"
	if buffered {
		routing = "buffered"
	}
	p.batchAdds.WithLabelValues(routing).Inc()
}

// RecordFlush counts one flush attempt.
func (p *PrometheusCollector) RecordFlush(_ string, trigger string, ops int, success bool) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.flushTotal.WithLabelValues(trigger, result).Inc()
	p.flushOps.Observe(float64(ops))
}

// RecordFlushDuration observes one flush duration.
func (p *PrometheusCollector) RecordFlushDuration(seconds float64) {
	p.ensureRegistered()
	p.flushDuration.Observe(seconds)
}

// RecordRetryEnqueued counts one retry enqueue.
func (p *PrometheusCollector) RecordRetryEnqueued() {
	p.ensureRegistered()
	p.retryEnqueued.Inc()
}

// RecordRetryAttempt counts one replay attempt.
func (p *PrometheusCollector) RecordRetryAttempt(success bool) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.retryAttempts.WithLabelValues(result).Inc()
}

// RecordTerminalDrop counts one terminal drop.
func (p *PrometheusCollector) RecordTerminalDrop() {
	p.ensureRegistered()
	p.terminalDrops.Inc()
}

// RecordQueueLen sets the retry queue length gauge.
func (p *PrometheusCollector) RecordQueueLen(n int) {
	p.ensureRegistered()
	p.queueLen.Set(float64(n))
}

// RecordPollCycle counts one poll cycle and its outcome.
func (p *PrometheusCollector) RecordPollCycle(updated int, seconds float64) {
	p.ensureRegistered()
	p.pollCycles.Inc()
	p.pollUpdated.Observe(float64(updated))
	p.pollDuration.Observe(seconds)
}

// RecordReconcile counts one per-record reconciliation outcome.
func (p *PrometheusCollector) RecordReconcile(success bool) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.reconciles.WithLabelValues(result).Inc()
}

// RecordFallbackScan counts one degraded sink-scan entry.
func (p *PrometheusCollector) RecordFallbackScan() {
	p.ensureRegistered()
	p.fallbackScans.Inc()
}
