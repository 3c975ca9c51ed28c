// Package batch implements the accumulator/flush engine in front of the
// external sink.
//
// Write intents are buffered per sink key and flushed together, so a stream
// of small writes costs the sink a handful of grouped requests instead of
// one request per row. A batch flushes when it reaches the configured size
// (synchronously, in the call that crossed the threshold) or when the batch
// timeout elapses since the first buffered operation, whichever comes first.
//
// # Single-Flight Flushes
//
// At most one flush is in flight per sink key at any time. The size trigger
// and the timer trigger can fire near-simultaneously; the per-batch flushing
// flag guarantees exactly one of them snapshots the batch and the other
// becomes a no-op.
//
// # Flush Ordering
//
// Within one flush, update operations execute before append operations.
// Updates targeting the same row within one flush cycle are coalesced,
// last write wins, and contiguous rows are merged into a single range call.
// Append rows preserve their enqueue order within each section.
//
// Failure of one group never aborts the others. Throttled groups route their
// original operations to the retry queue; other failures are logged and
// dropped, since the call store (not the sink) is the system of record.
package batch
