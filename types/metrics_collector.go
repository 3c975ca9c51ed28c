package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	LimiterMetrics
	BatchMetrics
	RetryMetrics
	ReconcileMetrics
}

// LimiterMetrics defines metrics for the token bucket.
type LimiterMetrics interface {
	// RecordTokensAvailable sets the current available token count (gauge metric).
	RecordTokensAvailable(tokens float64)

	// RecordAcquireWait records how long an Acquire call waited for tokens.
	//
	// Parameters:
	//   - seconds: Wait duration in seconds (0 for immediate grants)
	RecordAcquireWait(seconds float64)
}

// BatchMetrics defines metrics for the batch accumulator/flush engine.
type BatchMetrics interface {
	// RecordBatchAdd records an operation entering the write path.
	//
	// Parameters:
	//   - sinkKey: Destination batch stream
	//   - buffered: true if buffered, false if handed back for immediate execution
	RecordBatchAdd(sinkKey string, buffered bool)

	// RecordFlush records a completed flush attempt.
	//
	// Parameters:
	//   - sinkKey: Destination batch stream
	//   - trigger: Flush trigger ("size", "timer", "drain")
	//   - ops: Number of operations in the flushed snapshot
	//   - success: true if every group succeeded
	RecordFlush(sinkKey string, trigger string, ops int, success bool)

	// RecordFlushDuration records the time taken by one flush in seconds.
	RecordFlushDuration(seconds float64)
}

// RetryMetrics defines metrics for the bounded retry queue.
type RetryMetrics interface {
	// RecordRetryEnqueued records an operation entering the retry queue.
	RecordRetryEnqueued()

	// RecordRetryAttempt records a replay attempt outcome.
	RecordRetryAttempt(success bool)

	// RecordTerminalDrop records an operation discarded after exhausting retries.
	RecordTerminalDrop()

	// RecordQueueLen sets the current retry queue length (gauge metric).
	RecordQueueLen(n int)
}

// ReconcileMetrics defines metrics for the reconciliation poller.
type ReconcileMetrics interface {
	// RecordPollCycle records a completed poll cycle.
	//
	// Parameters:
	//   - updated: Number of records whose status materially changed
	//   - seconds: Cycle duration in seconds
	RecordPollCycle(updated int, seconds float64)

	// RecordReconcile records a single record reconciliation outcome.
	RecordReconcile(success bool)

	// RecordFallbackScan records entry into the degraded sink-scan path.
	RecordFallbackScan()
}
