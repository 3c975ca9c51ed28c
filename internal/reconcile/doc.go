// Package reconcile implements the poller that keeps stale call records
// current.
//
// Each poll cycle queries the call store for records whose sink projection
// needs a refresh (pending, error, or unset), asks the status provider for
// their current external state, writes the merged fields back to the store,
// and emits batchable update operations into the batch engine. The cycle
// ends with a full batch drain so accumulated updates are not left stranded
// when no further write traffic arrives.
//
// Records are processed in fixed-size sub-batches with a configured delay
// between them, bounding both concurrency and sink load. A record whose
// status query fails is marked with an error status and left for the next
// cycle; the poller never retries within a cycle.
//
// # Degraded Mode
//
// When the call store is unreachable, the poller falls back to scanning the
// most recent rows of the sink itself (if the client implements
// types.SinkReader) and re-deriving which records look stale. This path is
// lossy and best-effort, and is logged distinctly from the primary path.
package reconcile
