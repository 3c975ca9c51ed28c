package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/callsync/internal/ratelimit"
	"github.com/arloliu/callsync/types"
)

// Batcher is the slice of the batch engine the poller needs: buffering
// update operations and draining them at the end of a cycle.
type Batcher interface {
	// Add routes one operation through the batch engine.
	Add(ctx context.Context, op types.Operation) bool

	// FlushAll synchronously flushes every known sink key.
	FlushAll(ctx context.Context)
}

// Config holds the poller tunables. Values are validated by the root
// package before construction.
type Config struct {
	// SinkKey is the destination batch stream for emitted update operations.
	SinkKey string

	// UpdateTab is the sink tab where call rows live.
	UpdateTab string

	// AppendSection is the sink section for records without a known row.
	AppendSection string

	// PageSize bounds one FindNeedingRefresh query.
	PageSize int

	// SubBatchSize bounds concurrency: records are processed in fixed-size
	// sub-batches whose members run concurrently.
	SubBatchSize int

	// SubBatchDelay spreads load between consecutive sub-batches.
	SubBatchDelay time.Duration

	// TokenFloor is the token level below which a cycle waits before
	// starting, so a poll never begins only to immediately stall.
	TokenFloor float64

	// AcquireCost is the token cost of the initial read-heavy phase.
	AcquireCost float64

	// FallbackScanRows bounds the degraded sink scan.
	FallbackScanRows int
}

// Poller periodically reconciles stale call records against the external
// status source.
//
// Poller carries no background goroutine of its own; the root Manager owns
// the poll loop and calls PollOnce per cycle.
type Poller struct {
	cfg      Config
	store    types.CallStore
	provider types.StatusProvider
	client   types.SinkClient
	batcher  Batcher
	limiter  *ratelimit.Bucket
	logger   types.Logger
	metrics  types.MetricsCollector
	hooks    *types.Hooks
}

// New creates a reconciliation poller.
//
// Parameters:
//   - cfg: Poller tunables
//   - store: Call store (system of record)
//   - provider: External status source
//   - client: Sink transport, probed for the optional SinkReader capability
//   - batcher: Batch engine for emitted update operations
//   - limiter: Shared token bucket
//   - logger: Logger instance
//   - metrics: Metrics collector
//   - hooks: Lifecycle hooks (must be non-nil, use nop hooks otherwise)
//
// Returns:
//   - *Poller: A new poller
func New(cfg Config, store types.CallStore, provider types.StatusProvider,
	client types.SinkClient, batcher Batcher, limiter *ratelimit.Bucket,
	logger types.Logger, metrics types.MetricsCollector, hooks *types.Hooks,
) *Poller {
	return &Poller{
		cfg:      cfg,
		store:    store,
		provider: provider,
		client:   client,
		batcher:  batcher,
		limiter:  limiter,
		logger:   logger,
		metrics:  metrics,
		hooks:    hooks,
	}
}

// PollOnce runs one reconciliation cycle.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - int: Number of records whose status materially changed
//   - error: Cycle failure (store and provider failures on individual
//     records are handled in-cycle and do not surface here)
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()

	if err := p.waitForFloor(ctx); err != nil {
		return 0, err
	}
	if err := p.limiter.Acquire(ctx, p.cfg.AcquireCost); err != nil {
		return 0, err
	}

	records, err := p.store.FindNeedingRefresh(ctx, p.cfg.PageSize)
	if err != nil {
		if types.IsStoreUnavailable(err) {
			return p.fallbackScan(ctx, start)
		}

		return 0, fmt.Errorf("failed to query records needing refresh: %w", err)
	}

	updated := p.processAll(ctx, records, true)

	p.batcher.FlushAll(ctx)
	p.metrics.RecordPollCycle(updated, time.Since(start).Seconds())
	p.logger.Debug("poll cycle complete",
		"eligible", len(records), "updated", updated, "elapsed", time.Since(start))

	return updated, nil
}

// waitForFloor delays a cycle proportionally to the token deficit, so the
// read-heavy phase does not start against a drained bucket.
func (p *Poller) waitForFloor(ctx context.Context) error {
	avail := p.limiter.Available()
	if avail >= p.cfg.TokenFloor {
		return nil
	}

	wait := time.Duration((p.cfg.TokenFloor - avail) / p.limiter.RefillRate() * float64(time.Second))
	p.logger.Debug("tokens below poll floor, delaying cycle",
		"available", avail, "floor", p.cfg.TokenFloor, "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// processAll walks records in fixed-size sub-batches, members of each
// sub-batch concurrently, with a configured delay between sub-batches.
func (p *Poller) processAll(ctx context.Context, records []types.CallRecord, writeStore bool) int {
	var updated atomic.Int64

	for i := 0; i < len(records); i += p.cfg.SubBatchSize {
		end := min(i+p.cfg.SubBatchSize, len(records))

		var wg sync.WaitGroup
		for _, rec := range records[i:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if p.processRecord(ctx, rec, writeStore) {
					updated.Add(1)
				}
			}()
		}
		wg.Wait()

		if end < len(records) {
			timer := time.NewTimer(p.cfg.SubBatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return int(updated.Load())
			case <-timer.C:
			}
		}
	}

	return int(updated.Load())
}

// processRecord refreshes one record from the status provider.
//
// On success the merged fields are written back to the store and a
// batchable update operation is emitted. On failure the record is marked
// with an error status and left for the next cycle; there is no in-cycle
// retry.
//
// Returns true when the externally reported state differs from the stored
// one.
func (p *Poller) processRecord(ctx context.Context, rec types.CallRecord, writeStore bool) bool {
	st, err := p.provider.GetStatus(ctx, rec.ID)
	if err != nil {
		p.logger.Warn("status query failed, marking record for next cycle",
			"record_id", rec.ID, "error", err)
		p.metrics.RecordReconcile(false)
		if writeStore {
			errStatus := types.UpdateError
			if updErr := p.store.Update(ctx, rec.ID, types.RecordUpdate{UpdateStatus: &errStatus}); updErr != nil {
				p.logger.Error("failed to mark record as errored", "record_id", rec.ID, "error", updErr)
			}
		}

		return false
	}

	changed := st.Status != rec.Status ||
		st.DurationSeconds != rec.DurationSeconds ||
		(st.Transcript != "" && st.Transcript != rec.Transcript) ||
		(st.RecordingURL != "" && st.RecordingURL != rec.RecordingURL)

	done := types.UpdateDone
	patch := types.RecordUpdate{
		Status:          &st.Status,
		DurationSeconds: &st.DurationSeconds,
		UpdateStatus:    &done,
	}
	if st.Transcript != "" {
		patch.Transcript = &st.Transcript
	}
	if st.RecordingURL != "" {
		patch.RecordingURL = &st.RecordingURL
	}

	if writeStore {
		if err := p.store.Update(ctx, rec.ID, patch); err != nil {
			p.logger.Error("failed to write reconciled record", "record_id", rec.ID, "error", err)
			p.metrics.RecordReconcile(false)

			return false
		}
	}

	merged := rec
	patch.Apply(&merged, time.Now())
	p.emitSinkUpdate(ctx, merged)

	p.metrics.RecordReconcile(true)
	p.fireReconciled(ctx, merged)

	return changed
}

// emitSinkUpdate submits the record's sink projection as a batchable
// operation: an in-place update when the row is known, an append otherwise.
func (p *Poller) emitSinkUpdate(ctx context.Context, rec types.CallRecord) {
	op := types.Operation{
		SinkKey:    p.cfg.SinkKey,
		Payload:    rec.Row(),
		EnqueuedAt: time.Now(),
		Batchable:  true,
	}
	if rec.SinkRow > 0 {
		op.Kind = types.OpUpdate
		op.Target = types.Target{Tab: p.cfg.UpdateTab, Row: rec.SinkRow}
	} else {
		op.Kind = types.OpAppend
		op.Target = types.Target{Section: p.cfg.AppendSection}
	}

	p.batcher.Add(ctx, op)
}

// fallbackScan is the degraded path used when the call store is
// unreachable: re-derive stale records from the most recent sink rows.
//
// The scan is lossy (only rows still inside the window are seen, and row
// indices are unknown) and best-effort (store writes are skipped). It
// exists so sustained store outages still surface fresh call statuses in
// the sink.
func (p *Poller) fallbackScan(ctx context.Context, start time.Time) (int, error) {
	reader, ok := p.client.(types.SinkReader)
	if !ok {
		p.logger.Error("call store unreachable and sink client is not readable, skipping cycle")

		return 0, nil
	}

	p.metrics.RecordFallbackScan()
	p.logger.Warn("call store unreachable, entering degraded sink-scan reconcile path",
		"scan_rows", p.cfg.FallbackScanRows)

	rows, err := reader.ReadRecent(ctx, p.cfg.SinkKey, p.cfg.FallbackScanRows)
	if err != nil {
		return 0, fmt.Errorf("degraded sink scan failed: %w", err)
	}

	var stale []types.CallRecord
	for _, row := range rows {
		if len(row) < 2 || row[0] == "" {
			continue
		}
		if isFinalStatus(row[1]) {
			continue
		}
		stale = append(stale, types.CallRecord{ID: row[0], Status: row[1]})
	}

	updated := p.processAll(ctx, stale, false)

	p.batcher.FlushAll(ctx)
	p.metrics.RecordPollCycle(updated, time.Since(start).Seconds())
	p.logger.Warn("degraded reconcile cycle complete", "stale", len(stale), "updated", updated)

	return updated, nil
}

func (p *Poller) fireReconciled(ctx context.Context, rec types.CallRecord) {
	if p.hooks.OnRecordReconciled == nil {
		return
	}
	go func() {
		if hookErr := p.hooks.OnRecordReconciled(ctx, rec); hookErr != nil {
			p.logger.Warn("OnRecordReconciled hook failed", "record_id", rec.ID, "error", hookErr)
		}
	}()
}

// isFinalStatus reports whether an externally reported call status can no
// longer change.
func isFinalStatus(status string) bool {
	switch status {
	case "completed", "failed", "canceled", "busy", "no-answer":
		return true
	default:
		return false
	}
}
