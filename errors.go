package callsync

import "errors"

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSinkClientRequired is returned when the sink client is nil.
	ErrSinkClientRequired = errors.New("sink client is required")

	// ErrCallStoreRequired is returned when the call store is nil.
	ErrCallStoreRequired = errors.New("call store is required")

	// ErrStatusProviderRequired is returned when the status provider is nil.
	ErrStatusProviderRequired = errors.New("status provider is required")

	// ErrAlreadyStarted is returned when Start is called on an already running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when an operation requires a started manager.
	ErrNotStarted = errors.New("manager not started")
)
