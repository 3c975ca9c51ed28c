package types

import "context"

// SinkClient writes rows to the external, rate-limited tabular sink.
//
// Implementations wrap a concrete transport (spreadsheet API, table service,
// test double). The core is transport-agnostic; the only contract beyond the
// method signatures is error classifiability: throttling failures must be
// recognizable via IsThrottled so the batch engine and retry queue can branch
// on them.
//
// Implementations must be safe for concurrent use.
type SinkClient interface {
	// AppendRows appends rows to the end of a destination section.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - sinkKey: Destination batch stream identifier
	//   - section: Destination section within the sink key
	//   - rows: Row contents, in the order they should land
	//
	// Returns:
	//   - error: Write failure (throttling failures must satisfy IsThrottled)
	AppendRows(ctx context.Context, sinkKey, section string, rows [][]string) error

	// UpdateRange overwrites an addressable row range.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - sinkKey: Destination batch stream identifier
	//   - target: Stable location to overwrite (Tab + Row)
	//   - rows: Replacement row contents
	//
	// Returns:
	//   - error: Write failure (throttling failures must satisfy IsThrottled)
	UpdateRange(ctx context.Context, sinkKey string, target Target, rows [][]string) error
}

// SinkReader is an optional capability of a SinkClient.
//
// When the call store is unreachable, the reconciliation poller degrades to
// re-deriving stale records from the sink itself. A SinkClient that also
// implements SinkReader opts into this fallback path; clients without it
// simply skip the cycle.
type SinkReader interface {
	// ReadRecent returns up to n of the most recently written rows for a
	// sink key, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - sinkKey: Destination batch stream identifier
	//   - n: Maximum number of rows to return
	//
	// Returns:
	//   - [][]string: Row contents, newest first
	//   - error: Read failure
	ReadRecent(ctx context.Context, sinkKey string, n int) ([][]string, error)
}
