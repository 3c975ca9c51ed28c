package natskv

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/callsync/internal/logger"
	cstest "github.com/arloliu/callsync/testing"
	"github.com/arloliu/callsync/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	_, nc := cstest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	store, err := New(t.Context(), js, "call-records", 0, logger.NewTest(t))
	require.NoError(t, err)

	return store
}

func record(id string, status types.UpdateStatus, updatedAt time.Time) types.CallRecord {
	return types.CallRecord{
		ID:           id,
		Status:       "in-progress",
		UpdateStatus: status,
		UpdatedAt:    updatedAt,
	}
}

func TestStorePutGet(t *testing.T) {
	store := newTestStore(t)

	rec := types.CallRecord{
		ID:              "call-1",
		Status:          "completed",
		DurationSeconds: 42,
		Transcript:      "hello world",
		RecordingURL:    "https://recordings/call-1",
		SinkRow:         7,
		UpdateStatus:    types.UpdateDone,
		UpdatedAt:       time.Now().Truncate(time.Millisecond),
	}

	require.NoError(t, store.Put(t.Context(), rec))

	got, err := store.Get(t.Context(), "call-1")
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.Status, got.Status)
	require.Equal(t, rec.DurationSeconds, got.DurationSeconds)
	require.Equal(t, rec.Transcript, got.Transcript)
	require.Equal(t, rec.SinkRow, got.SinkRow)
	require.Equal(t, rec.UpdateStatus, got.UpdateStatus)
	require.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))
}

func TestStorePutRejectsEmptyID(t *testing.T) {
	store := newTestStore(t)

	err := store.Put(t.Context(), types.CallRecord{})
	require.ErrorIs(t, err, types.ErrInvalidOperation)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(t.Context(), "nope")
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(t.Context(), record("call-1", types.UpdateDone, time.Now())))
	require.NoError(t, store.Delete(t.Context(), "call-1"))

	_, err := store.Get(t.Context(), "call-1")
	require.ErrorIs(t, err, types.ErrRecordNotFound)

	// Deleting an absent record is not an error
	require.NoError(t, store.Delete(t.Context(), "never-existed"))
}

func TestStoreFindNeedingRefresh(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.Put(t.Context(), record("old-pending", types.UpdatePending, now.Add(-time.Hour))))
	require.NoError(t, store.Put(t.Context(), record("new-pending", types.UpdatePending, now)))
	require.NoError(t, store.Put(t.Context(), record("errored", types.UpdateError, now.Add(-time.Minute))))
	require.NoError(t, store.Put(t.Context(), record("done", types.UpdateDone, now)))

	t.Run("filters and sorts newest first", func(t *testing.T) {
		stale, err := store.FindNeedingRefresh(t.Context(), 10)
		require.NoError(t, err)
		require.Len(t, stale, 3)
		require.Equal(t, "new-pending", stale[0].ID)
		require.Equal(t, "errored", stale[1].ID)
		require.Equal(t, "old-pending", stale[2].ID)
	})

	t.Run("honors the limit", func(t *testing.T) {
		stale, err := store.FindNeedingRefresh(t.Context(), 2)
		require.NoError(t, err)
		require.Len(t, stale, 2)
		require.Equal(t, "new-pending", stale[0].ID)
	})

	t.Run("empty bucket yields no records", func(t *testing.T) {
		empty := newTestStore(t)
		stale, err := empty.FindNeedingRefresh(t.Context(), 10)
		require.NoError(t, err)
		require.Empty(t, stale)
	})
}

func TestStoreUpdate(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(t.Context(), record("call-1", types.UpdatePending, time.Now().Add(-time.Minute))))

	status := "completed"
	duration := 93
	done := types.UpdateDone
	err := store.Update(t.Context(), "call-1", types.RecordUpdate{
		Status:          &status,
		DurationSeconds: &duration,
		UpdateStatus:    &done,
	})
	require.NoError(t, err)

	got, err := store.Get(t.Context(), "call-1")
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)
	require.Equal(t, 93, got.DurationSeconds)
	require.Equal(t, types.UpdateDone, got.UpdateStatus)
	require.WithinDuration(t, time.Now(), got.UpdatedAt, 5*time.Second)

	// Unpatched fields survive
	require.Equal(t, "", got.Transcript)
}

func TestStoreUpdateMissing(t *testing.T) {
	store := newTestStore(t)

	status := "completed"
	err := store.Update(t.Context(), "nope", types.RecordUpdate{Status: &status})
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestStoreUpdateConcurrent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(t.Context(), record("call-1", types.UpdatePending, time.Now())))

	// Concurrent patches to different fields must all land thanks to the
	// CAS retry loop.
	var wg sync.WaitGroup
	patches := []types.RecordUpdate{}
	status := "completed"
	duration := 12
	transcript := "overlapping writes"
	patches = append(patches,
		types.RecordUpdate{Status: &status},
		types.RecordUpdate{DurationSeconds: &duration},
		types.RecordUpdate{Transcript: &transcript},
	)

	errs := make([]error, len(patches))
	for i, patch := range patches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Update(t.Context(), "call-1", patch)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(t.Context(), "call-1")
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)
	require.Equal(t, 12, got.DurationSeconds)
	require.Equal(t, "overlapping writes", got.Transcript)
}
