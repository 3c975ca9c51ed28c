// Package ratelimit provides the token bucket governing all calls to the
// external sink.
//
// A single Bucket instance is the one shared resource across the batch
// engine, the retry queue and the reconciliation poller; every sink request
// passes through it. Refill is computed lazily from elapsed wall-clock time
// on each access, never via a background ticker, so an idle bucket costs
// nothing.
//
// # Cost Model
//
// Token costs are fixed per request class, not per row:
//
//   - Single immediate write: 1 token
//   - Batched flush (grouped updates + appends): 2 tokens
//   - Reconciliation page read: 5 tokens
//
// Example:
//
//	b := ratelimit.New(60, 1) // 60-token burst, 1 token/s sustained
//	if err := b.Acquire(ctx, 2); err != nil {
//	    return err // only context cancellation
//	}
package ratelimit
