package types

import "context"

// CallStore is the local system of record for call records.
//
// The core never issues transactions beyond single-record writes; the store
// is assumed to serialize concurrent access itself.
//
// Unreachability should be signaled by wrapping ErrStoreUnavailable so the
// reconciliation poller can switch to its degraded sink-scan path.
type CallStore interface {
	// FindNeedingRefresh returns records whose UpdateStatus needs a refresh
	// (pending, error, or unset), ordered most-recently-updated first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - limit: Maximum number of records to return
	//
	// Returns:
	//   - []CallRecord: Records eligible for reconciliation
	//   - error: Lookup failure (wrap ErrStoreUnavailable for connectivity loss)
	FindNeedingRefresh(ctx context.Context, limit int) ([]CallRecord, error)

	// Update applies a patch to one record.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - id: Record identifier
	//   - fields: Patch; only non-nil fields are written
	//
	// Returns:
	//   - error: Write failure (nil on success)
	Update(ctx context.Context, id string, fields RecordUpdate) error
}
