package hooks

import (
	"context"

	"github.com/arloliu/callsync/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, string, int, error) error          = (*NopHooks)(nil).OnFlush
	_ func(context.Context, types.Operation, int, error) error = (*NopHooks)(nil).OnOperationDropped
	_ func(context.Context, types.CallRecord) error            = (*NopHooks)(nil).OnRecordReconciled
	_ func(context.Context, error) error                       = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnFlush:            h.OnFlush,
		OnOperationDropped: h.OnOperationDropped,
		OnRecordReconciled: h.OnRecordReconciled,
		OnError:            h.OnError,
	}
}

// OnFlush is a no-op implementation.
func (h *NopHooks) OnFlush(ctx context.Context, sinkKey string, ops int, err error) error {
	return nil
}

// OnOperationDropped is a no-op implementation.
func (h *NopHooks) OnOperationDropped(ctx context.Context, op types.Operation, attempts int, err error) error {
	return nil
}

// OnRecordReconciled is a no-op implementation.
func (h *NopHooks) OnRecordReconciled(ctx context.Context, rec types.CallRecord) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
