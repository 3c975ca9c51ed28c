package types

import "context"

// StatusProvider queries the external status source for long-running calls.
//
// The reconciliation poller calls GetStatus for every record needing a
// refresh. Implementations should return errors for transient failures; the
// record stays eligible for the next poll cycle rather than being retried
// within the current one.
type StatusProvider interface {
	// GetStatus returns the externally observed state of a call.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - externalID: External call identifier (CallRecord.ID)
	//
	// Returns:
	//   - CallStatus: Current status, duration, transcript and recording URL
	//   - error: Query failure (nil on success)
	GetStatus(ctx context.Context, externalID string) (CallStatus, error)
}
