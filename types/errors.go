package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the callsync library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Failure taxonomy - classification of sink and store failures.
var (
	// ErrThrottled indicates the external service rejected a request for
	// exceeding its allowed rate. Throttled operations are recoverable and
	// are routed through the retry queue rather than dropped.
	ErrThrottled = errors.New("request throttled by external service")

	// ErrStoreUnavailable indicates the call store cannot be reached.
	// The reconciliation poller degrades to its sink-scan fallback when a
	// lookup fails with this error.
	ErrStoreUnavailable = errors.New("call store unavailable")

	// ErrRecordNotFound is returned when a call record does not exist.
	ErrRecordNotFound = errors.New("call record not found")
)

// Common errors - shared errors used across multiple components.
var (
	// ErrInvalidOperation is returned when an operation fails validation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrShuttingDown is returned when new work is submitted during shutdown.
	ErrShuttingDown = errors.New("shutting down")
)

// ThrottledError wraps a throttling failure with an optional server-suggested
// retry delay. It unwraps to ErrThrottled.
type ThrottledError struct {
	// RetryAfter is the delay suggested by the service, zero if none.
	RetryAfter time.Duration

	// Err is the underlying transport error, may be nil.
	Err error
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("throttled (retry after %v): %v", e.RetryAfter, e.Err)
	}

	return fmt.Sprintf("throttled (retry after %v)", e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrThrottled) succeed for wrapped errors.
func (e *ThrottledError) Unwrap() error {
	return ErrThrottled
}

// IsThrottled checks if an error is caused by external rate limiting.
//
// This recognizes:
//   - The ErrThrottled sentinel (direct or wrapped)
//   - *ThrottledError values
//   - Transport errors whose message carries a rate-limit signature
//     ("429", "rate limit", "quota exceeded"), which covers clients that
//     surface raw HTTP errors
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if the error indicates throttling
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota exceeded")
}

// IsStoreUnavailable checks if an error indicates call store connectivity loss.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if the error indicates the store is unreachable
func IsStoreUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "no servers available")
}
