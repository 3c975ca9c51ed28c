package callsync

import "github.com/arloliu/callsync/types"

// Re-export types from the types subpackage.
//
// This file provides a stable public API for the library's core types and
// interfaces via type aliases. Internal packages depend on `types` without
// depending on the root `callsync` package, while users get the convenient
// `callsync.Operation`, `callsync.Logger`, etc.
type (
	Operation    = types.Operation
	Target       = types.Target
	OpKind       = types.OpKind
	CallRecord   = types.CallRecord
	CallStatus   = types.CallStatus
	RecordUpdate = types.RecordUpdate
	UpdateStatus = types.UpdateStatus
)

// Re-export interfaces from the types subpackage for convenience.
type (
	SinkClient       = types.SinkClient
	SinkReader       = types.SinkReader
	StatusProvider   = types.StatusProvider
	CallStore        = types.CallStore
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export operation kind and update status constants.
const (
	OpAppend = types.OpAppend
	OpUpdate = types.OpUpdate

	UpdatePending = types.UpdatePending
	UpdateDone    = types.UpdateDone
	UpdateError   = types.UpdateError
)

// Re-export error classification helpers from the types subpackage.
var (
	IsThrottled        = types.IsThrottled
	IsStoreUnavailable = types.IsStoreUnavailable
)
