// Package retry implements the bounded replay queue for throttled sink
// operations.
//
// Operations land here when a sink call fails with a throttling error. The
// queue drives itself: enqueueing starts a single processing loop if one is
// not already active, and the loop exits once the queue drains. Replay
// attempts are paced against the shared token bucket so retries never
// overwhelm a still-limited sink.
//
// # Bounds
//
// Every replay increments the item's attempt counter. An item whose counter
// exceeds the retry budget is discarded with a terminal-drop log line, a
// metric, and the OnOperationDropped hook; drops are never silent. Items
// that fail replay with a throttling error re-enter at the tail so other
// items get a turn; non-throttling failures are logged and discarded, since
// the call store is the system of record.
package retry
