package types

import (
	"strconv"
	"time"
)

// UpdateStatus tracks whether a call record's sink projection is current.
//
// Lifecycle:
//
//	UpdatePending → UpdateDone   (successful reconciliation)
//	UpdatePending → UpdateError  (status provider or store failure)
//
// A record never transitions back to Pending automatically; an Error record
// stays eligible for the next poll cycle because the poller's selection
// criterion includes UpdateError.
type UpdateStatus string

const (
	// UpdatePending marks a record awaiting its first successful reconciliation.
	// The empty string is treated as equivalent to UpdatePending.
	UpdatePending UpdateStatus = "pending"

	// UpdateDone marks a record whose sink projection is current.
	UpdateDone UpdateStatus = "updated"

	// UpdateError marks a record whose last reconciliation attempt failed.
	UpdateError UpdateStatus = "error"
)

// NeedsRefresh reports whether a record with this status should be picked up
// by the reconciliation poller.
func (s UpdateStatus) NeedsRefresh() bool {
	return s == UpdatePending || s == UpdateError || s == ""
}

// CallRecord is a long-running call tracked in the call store.
//
// The call store is the system of record; the sink is a best-effort
// projection corrected by the reconciliation poller.
type CallRecord struct {
	// ID is the stable record identifier, also used as the external call ID
	// for status queries.
	ID string `json:"id"`

	// Status is the externally reported call status (e.g., "in-progress", "completed").
	Status string `json:"status"`

	// DurationSeconds is the call duration as last reported.
	DurationSeconds int `json:"durationSeconds"`

	// Transcript is the call transcript, if available.
	Transcript string `json:"transcript,omitempty"`

	// RecordingURL points at the call recording, if available.
	RecordingURL string `json:"recordingUrl,omitempty"`

	// SinkRow is the zero-based row index the record occupies in the sink,
	// recorded when the row is first appended. Zero means unknown; records
	// without a known row cannot be updated in place.
	SinkRow int `json:"sinkRow,omitempty"`

	// UpdateStatus tracks sink-projection freshness.
	UpdateStatus UpdateStatus `json:"updateStatus"`

	// UpdatedAt is the last local modification time, used to order
	// reconciliation most-recently-updated first.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Row renders the record as an ordered sink row.
//
// Column order is stable: ID, status, duration in seconds, transcript,
// recording URL, last update time (RFC 3339). The fallback scan path relies
// on the first two columns to re-derive stale records from raw sink rows.
//
// Returns:
//   - []string: Ordered field values for one sink row
func (r CallRecord) Row() []string {
	return []string{
		r.ID,
		r.Status,
		strconv.Itoa(r.DurationSeconds),
		r.Transcript,
		r.RecordingURL,
		r.UpdatedAt.Format(time.RFC3339),
	}
}

// CallStatus is the externally observed state of a call, as returned by a
// StatusProvider.
type CallStatus struct {
	Status          string `json:"status"`
	DurationSeconds int    `json:"durationSeconds"`
	Transcript      string `json:"transcript,omitempty"`
	RecordingURL    string `json:"recordingUrl,omitempty"`
}

// RecordUpdate is a patch applied to a stored call record.
//
// Only non-nil fields are written; nil fields leave the stored value
// untouched.
type RecordUpdate struct {
	Status          *string       `json:"status,omitempty"`
	DurationSeconds *int          `json:"durationSeconds,omitempty"`
	Transcript      *string       `json:"transcript,omitempty"`
	RecordingURL    *string       `json:"recordingUrl,omitempty"`
	UpdateStatus    *UpdateStatus `json:"updateStatus,omitempty"`
}

// Apply writes the patch onto a record and bumps UpdatedAt.
//
// Parameters:
//   - rec: Record to modify in place
//   - now: Timestamp recorded as the modification time
func (u RecordUpdate) Apply(rec *CallRecord, now time.Time) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.DurationSeconds != nil {
		rec.DurationSeconds = *u.DurationSeconds
	}
	if u.Transcript != nil {
		rec.Transcript = *u.Transcript
	}
	if u.RecordingURL != nil {
		rec.RecordingURL = *u.RecordingURL
	}
	if u.UpdateStatus != nil {
		rec.UpdateStatus = *u.UpdateStatus
	}
	rec.UpdatedAt = now
}
