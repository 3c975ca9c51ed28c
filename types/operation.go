package types

import "time"

// OpKind distinguishes the two write shapes the sink supports.
//
// Updates address an existing row range; appends add new rows to the end of
// a section. Within one flush, updates are always executed before appends.
type OpKind int8

const (
	// OpAppend appends rows to the end of a destination section.
	OpAppend OpKind = iota

	// OpUpdate overwrites an addressable row range.
	OpUpdate
)

// String returns the string representation of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpAppend:
		return "Append"
	case OpUpdate:
		return "Update"
	default:
		return "Unknown"
	}
}

// Target is the addressable destination of an operation within one sink key.
//
// For OpAppend only Section is meaningful. For OpUpdate, Tab and Row identify
// the stable location to overwrite; Row is the zero-based row index within Tab.
type Target struct {
	// Section is the destination section for appended rows (e.g., a sheet tab).
	Section string `json:"section,omitempty"`

	// Tab is the tab or range identifier for updates.
	Tab string `json:"tab,omitempty"`

	// Row is the zero-based row index within Tab for updates.
	Row int `json:"row,omitempty"`
}

// Operation is an intended write to the external sink.
//
// Operations for the same SinkKey are processed FIFO within the same kind.
// Update operations targeting the same (Tab, Row) within one flush cycle are
// coalesced, last write wins.
type Operation struct {
	// Kind selects the write shape (append vs. update).
	Kind OpKind `json:"kind"`

	// SinkKey identifies the destination batch stream, one per logical
	// spreadsheet/table. Batching and ordering are scoped to a single key.
	SinkKey string `json:"sinkKey"`

	// Target addresses the destination within the sink key.
	Target Target `json:"target"`

	// Payload is the ordered field values of one row.
	Payload []string `json:"payload"`

	// EnqueuedAt orders operations of the same kind within a batch.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// Batchable marks the operation as tolerant of buffering. Operations with
	// Batchable=false are executed immediately whenever token capacity allows.
	Batchable bool `json:"batchable"`
}

// Valid reports whether the operation carries the minimum fields required
// for execution.
//
// Returns:
//   - bool: true if the operation has a sink key and a usable target
func (o Operation) Valid() bool {
	if o.SinkKey == "" {
		return false
	}
	switch o.Kind {
	case OpAppend:
		return o.Target.Section != ""
	case OpUpdate:
		return o.Target.Tab != "" && o.Target.Row >= 0
	default:
		return false
	}
}
