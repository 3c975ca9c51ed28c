package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/callsync/types"
)

func TestNewNop(t *testing.T) {
	h := NewNop()

	require.NotNil(t, h.OnFlush)
	require.NotNil(t, h.OnOperationDropped)
	require.NotNil(t, h.OnRecordReconciled)
	require.NotNil(t, h.OnError)
}

func TestNopHooksReturnNil(t *testing.T) {
	h := NewNop()
	ctx := context.Background()

	require.NoError(t, h.OnFlush(ctx, "calls", 5, nil))
	require.NoError(t, h.OnFlush(ctx, "calls", 0, errors.New("boom")))
	require.NoError(t, h.OnOperationDropped(ctx, types.Operation{}, 3, errors.New("boom")))
	require.NoError(t, h.OnRecordReconciled(ctx, types.CallRecord{ID: "c1"}))
	require.NoError(t, h.OnError(ctx, errors.New("boom")))
}
