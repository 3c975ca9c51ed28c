package types

import "context"

// Hooks defines callbacks for callsync lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the write path or the poll cycle. Hooks receive the
// manager's lifecycle context which is cancelled during shutdown.
//
// IMPORTANT: Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but don't fail core operations
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Make hooks idempotent (may be called multiple times)
type Hooks struct {
	// OnFlush is called after each flush attempt for a sink key.
	// ops is the number of operations in the flushed snapshot; err is nil
	// when every group succeeded.
	OnFlush func(ctx context.Context, sinkKey string, ops int, err error) error

	// OnOperationDropped is called when an operation is discarded for good:
	// either a terminal drop after exhausting retries, or a non-recoverable
	// sink failure. Drops are never silent; this hook is the programmatic
	// complement to the log line.
	OnOperationDropped func(ctx context.Context, op Operation, attempts int, err error) error

	// OnRecordReconciled is called when the poller successfully refreshes a
	// call record from the status provider.
	OnRecordReconciled func(ctx context.Context, rec CallRecord) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
