package metrics

import "github.com/arloliu/callsync/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	metrics := metrics.NewNop()
//	mgr := callsync.NewManager(&cfg, sink, store, status, callsync.WithMetrics(metrics))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// LimiterMetrics implementation

// RecordTokensAvailable discards the available-token gauge.
func (n *NopMetrics) RecordTokensAvailable(_ /* tokens */ float64) {
	// No-op
}

// RecordAcquireWait discards the acquire wait duration metric.
func (n *NopMetrics) RecordAcquireWait(_ /* seconds */ float64) {
	// No-op
}

// BatchMetrics implementation

// RecordBatchAdd discards the batch add metric.
func (n *NopMetrics) RecordBatchAdd(_ /* sinkKey */ string, _ /* buffered */ bool) {
	// No-op
}

// RecordFlush discards the flush outcome metric.
func (n *NopMetrics) RecordFlush(_ /* sinkKey */, _ /* trigger */ string, _ /* ops */ int, _ /* success */ bool) {
	// No-op
}

// RecordFlushDuration discards the flush duration metric.
func (n *NopMetrics) RecordFlushDuration(_ /* seconds */ float64) {
	// No-op
}

// RetryMetrics implementation

// RecordRetryEnqueued discards the retry enqueue counter.
func (n *NopMetrics) RecordRetryEnqueued() {
	// No-op
}

// RecordRetryAttempt discards the retry attempt metric.
func (n *NopMetrics) RecordRetryAttempt(_ /* success */ bool) {
	// No-op
}

// RecordTerminalDrop discards the terminal drop counter.
func (n *NopMetrics) RecordTerminalDrop() {
	// No-op
}

// RecordQueueLen discards the queue length gauge.
func (n *NopMetrics) RecordQueueLen(_ /* n */ int) {
	// No-op
}

// ReconcileMetrics implementation

// RecordPollCycle discards the poll cycle metric.
func (n *NopMetrics) RecordPollCycle(_ /* updated */ int, _ /* seconds */ float64) {
	// No-op
}

// RecordReconcile discards the reconcile outcome metric.
func (n *NopMetrics) RecordReconcile(_ /* success */ bool) {
	// No-op
}

// RecordFallbackScan discards the fallback scan counter.
func (n *NopMetrics) RecordFallbackScan() {
	// No-op
}
