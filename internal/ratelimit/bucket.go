package ratelimit

import (
	"context"
	"sync"
	"time"
)

// acquireMaxIterations bounds the sleep-and-recheck loop in Acquire. Each
// iteration sleeps long enough for the requested tokens to refill, so extra
// iterations only occur when concurrent acquirers drain the bucket between
// wakeup and re-check.
const acquireMaxIterations = 8

// Bucket is a token bucket with lazy, monotonic refill.
//
// Tokens refill continuously at refillPerSecond up to capacity. All state is
// guarded by an internal mutex; Bucket is safe for concurrent use.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	// now is swappable for deterministic tests.
	now func() time.Time
}

// New creates a token bucket that starts full.
//
// Parameters:
//   - capacity: Maximum token count (burst size)
//   - refillPerSecond: Sustained refill rate in tokens per second
//
// Returns:
//   - *Bucket: A new bucket holding capacity tokens
func New(capacity, refillPerSecond float64) *Bucket {
	b := &Bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillPerSecond,
		now:        time.Now,
	}
	b.lastRefill = b.now()

	return b
}

// NewWithClock creates a bucket using the provided clock function.
//
// Used by tests to control refill timing deterministically.
//
// Parameters:
//   - capacity: Maximum token count
//   - refillPerSecond: Refill rate in tokens per second
//   - now: Clock function (must be monotonically non-decreasing)
//
// Returns:
//   - *Bucket: A new bucket holding capacity tokens
func NewWithClock(capacity, refillPerSecond float64, now func() time.Time) *Bucket {
	b := New(capacity, refillPerSecond)
	b.now = now
	b.lastRefill = now()

	return b
}

// refillLocked applies lazy refill from elapsed wall-clock time.
// Caller must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// Available returns the current token count after applying lazy refill.
//
// This is side-effect-free with respect to consumption; it never takes
// tokens out of the bucket.
//
// Returns:
//   - float64: Tokens currently available (0..capacity)
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	return b.tokens
}

// TryAcquire consumes n tokens if they are available right now.
//
// Parameters:
//   - n: Tokens to consume
//
// Returns:
//   - bool: true if the tokens were consumed, false if insufficient
func (b *Bucket) TryAcquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n

	return true
}

// Acquire consumes n tokens, blocking until they are available.
//
// Acquire never fails on token arithmetic; the only error condition is
// context cancellation while waiting. When tokens are short, the caller
// sleeps for the exact refill time of the deficit and re-checks, tolerating
// a few iterations of contention with concurrent acquirers.
//
// Parameters:
//   - ctx: Context for cancellation while waiting
//   - n: Tokens to consume (capped at capacity)
//
// Returns:
//   - error: ctx.Err() if cancelled, nil once tokens are consumed
func (b *Bucket) Acquire(ctx context.Context, n float64) error {
	if n > b.capacity {
		n = b.capacity
	}

	for range acquireMaxIterations {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()

			return nil
		}
		deficit := n - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.refillRate * float64(time.Second))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// Heavy contention: take whatever arithmetic says on the final pass.
	b.mu.Lock()
	b.refillLocked()
	b.tokens = max(0, b.tokens-n)
	b.mu.Unlock()

	return nil
}

// Capacity returns the configured burst size.
func (b *Bucket) Capacity() float64 {
	return b.capacity
}

// RefillRate returns the sustained refill rate in tokens per second.
//
// Callers use this to size proportional waits without consuming tokens.
func (b *Bucket) RefillRate() float64 {
	return b.refillRate
}
