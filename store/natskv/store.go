// Package natskv implements the types.CallStore interface on a NATS
// JetStream KeyValue bucket.
//
// Records are stored JSON-encoded, keyed by their external call ID. Updates
// use compare-and-swap on the KV revision so concurrent patches never lose
// fields. Connectivity failures are reported as types.ErrStoreUnavailable,
// which lets the reconciliation poller fall back to its degraded sink scan.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/callsync/internal/kvutil"
	"github.com/arloliu/callsync/internal/logger"
	"github.com/arloliu/callsync/internal/natsutil"
	"github.com/arloliu/callsync/types"
)

// casRetries bounds the read-modify-write loop in Update.
const casRetries = 5

// Store is a NATS JetStream KV backed call store.
type Store struct {
	kv     jetstream.KeyValue
	logger types.Logger
}

// Compile-time assertion that Store implements CallStore.
var _ types.CallStore = (*Store)(nil)

// New creates or opens the named KV bucket and returns a Store on top of it.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - bucket: KV bucket name
//   - ttl: Record expiry (0 = records persist until deleted)
//   - log: Logger instance (nil falls back to a nop logger)
//
// Returns:
//   - *Store: A new store bound to the bucket
//   - error: Bucket creation failure
func New(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration, log types.Logger) (*Store, error) {
	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "call records awaiting sink synchronization",
		TTL:         ttl,
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure call record bucket: %w", err)
	}

	return NewWithKV(kv, log), nil
}

// NewWithKV wraps an existing KV bucket. Useful in tests and when the caller
// manages bucket lifecycle itself. A nil logger falls back to a nop logger.
func NewWithKV(kv jetstream.KeyValue, log types.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}

	return &Store{kv: kv, logger: log}
}

// Put creates or replaces a record.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - rec: Record to store; rec.ID is the key
//
// Returns:
//   - error: Encoding or KV failure
func (s *Store) Put(ctx context.Context, rec types.CallRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record ID is empty", types.ErrInvalidOperation)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	if _, err := s.kv.Put(ctx, rec.ID, data); err != nil {
		return wrapKVError("put", err)
	}

	return nil
}

// Get returns one record by ID.
//
// Returns:
//   - types.CallRecord: The stored record
//   - error: types.ErrRecordNotFound, types.ErrStoreUnavailable, or decode failure
func (s *Store) Get(ctx context.Context, id string) (types.CallRecord, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		return types.CallRecord{}, wrapKVError("get", err)
	}

	var rec types.CallRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return types.CallRecord{}, fmt.Errorf("failed to decode record %s: %w", id, err)
	}

	return rec, nil
}

// Delete removes one record by ID. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return wrapKVError("delete", err)
	}

	return nil
}

// FindNeedingRefresh returns records whose sink projection is stale, most
// recently updated first.
//
// The scan walks every key in the bucket. Call-record buckets stay small
// (records leave the refresh set once reconciled), so a full walk is cheaper
// than maintaining a secondary index.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum records to return
//
// Returns:
//   - []types.CallRecord: Stale records, newest first, at most limit
//   - error: types.ErrStoreUnavailable when the bucket cannot be reached
func (s *Store) FindNeedingRefresh(ctx context.Context, limit int) ([]types.CallRecord, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, wrapKVError("list", err)
	}
	defer func() { _ = lister.Stop() }()

	var stale []types.CallRecord
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			// Deleted between list and get
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}

			return nil, wrapKVError("get", err)
		}

		var rec types.CallRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			s.logger.Warn("skipping undecodable call record", "key", key, "error", err)

			continue
		}

		if rec.UpdateStatus.NeedsRefresh() {
			stale = append(stale, rec)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.After(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	return stale, nil
}

// Update applies a patch to one record using compare-and-swap.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - id: Record ID
//   - fields: Patch; nil fields are left unchanged
//
// Returns:
//   - error: types.ErrRecordNotFound, types.ErrStoreUnavailable, or CAS
//     exhaustion under sustained write contention
func (s *Store) Update(ctx context.Context, id string, fields types.RecordUpdate) error {
	for attempt := range casRetries {
		entry, err := s.kv.Get(ctx, id)
		if err != nil {
			return wrapKVError("get", err)
		}

		var rec types.CallRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", id, err)
		}

		fields.Apply(&rec, time.Now())

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", id, err)
		}

		_, err = s.kv.Update(ctx, id, data, entry.Revision())
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return wrapKVError("update", err)
		}

		// Revision conflict: another writer got there first, re-read and
		// re-apply the patch
		s.logger.Debug("record update revision conflict, retrying",
			"record_id", id, "attempt", attempt+1)
	}

	return fmt.Errorf("failed to update record %s after %d attempts", id, casRetries)
}

// wrapKVError maps KV failures onto the store error taxonomy.
func wrapKVError(op string, err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", op, types.ErrRecordNotFound)
	}
	if natsutil.IsConnectivityError(err) {
		return fmt.Errorf("%s: %w: %s", op, types.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
