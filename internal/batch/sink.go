package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/callsync/internal/ratelimit"
	"github.com/arloliu/callsync/types"
)

// Retryer receives operations whose sink call failed with a throttling
// error. Implemented by the retry queue; kept as a local interface so the
// batch engine has no dependency on the queue's concrete type.
type Retryer interface {
	// Enqueue adds an operation for later replay.
	Enqueue(op types.Operation)
}

// Config holds the batch engine tunables. Values are validated by the root
// package before construction.
type Config struct {
	// BatchSize is the size threshold that triggers a synchronous flush.
	BatchSize int

	// BatchTimeout is the time threshold measured from the first buffered
	// operation for a sink key.
	BatchTimeout time.Duration

	// ImmediateThreshold is the token level above which non-batchable
	// operations are handed back to the caller for immediate execution.
	ImmediateThreshold float64

	// AcquireCost is the token cost of one grouped flush.
	AcquireCost float64

	// OperationTimeout bounds timer-triggered flushes, which run without a
	// caller context.
	OperationTimeout time.Duration
}

// Sink accumulates pending write operations per sink key and flushes them
// on size or time thresholds.
//
// Sink is safe for concurrent use. At most one flush is in flight per sink
// key at any time.
type Sink struct {
	cfg     Config
	limiter *ratelimit.Bucket
	client  types.SinkClient
	retry   Retryer
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks

	batches *xsync.Map[string, *entry]
}

// entry is the per-sink-key batch state.
type entry struct {
	mu       sync.Mutex
	ops      []types.Operation
	flushing bool
	timer    *time.Timer // armed on first op into an empty batch, nil otherwise
}

// New creates a batch sink in front of the given client.
//
// Parameters:
//   - cfg: Engine tunables
//   - limiter: Shared token bucket
//   - client: Sink transport
//   - retry: Destination for throttled operations
//   - logger: Logger instance
//   - metrics: Metrics collector
//   - hooks: Lifecycle hooks (must be non-nil, use nop hooks otherwise)
//
// Returns:
//   - *Sink: A new batch sink
func New(cfg Config, limiter *ratelimit.Bucket, client types.SinkClient, retry Retryer,
	logger types.Logger, metrics types.MetricsCollector, hooks *types.Hooks,
) *Sink {
	return &Sink{
		cfg:     cfg,
		limiter: limiter,
		client:  client,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
		hooks:   hooks,
		batches: xsync.NewMap[string, *entry](),
	}
}

// Add routes one operation through the batch engine.
//
// When the bucket holds more than ImmediateThreshold tokens and the
// operation is not marked batchable, Add returns false: the caller should
// execute the operation immediately itself. Otherwise the operation is
// buffered and Add returns true.
//
// Reaching BatchSize flushes synchronously inside this call. The first
// operation buffered into an empty batch arms the timeout timer. The timer
// is only stopped by the flush that wins the batch, so a size trigger that
// loses to an in-flight flush leaves the timeout rescue armed.
//
// Parameters:
//   - ctx: Context used if this call triggers a size flush
//   - op: Operation to route
//
// Returns:
//   - bool: true if buffered, false if the caller should execute immediately
func (s *Sink) Add(ctx context.Context, op types.Operation) bool {
	if !op.Batchable && s.limiter.Available() > s.cfg.ImmediateThreshold {
		s.metrics.RecordBatchAdd(op.SinkKey, false)

		return false
	}

	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	key := op.SinkKey
	e, _ := s.batches.LoadOrStore(key, &entry{})

	e.mu.Lock()
	e.ops = append(e.ops, op)
	n := len(e.ops)
	if n == 1 {
		e.timer = time.AfterFunc(s.cfg.BatchTimeout, func() {
			s.timerFlush(key)
		})
	}
	sizeTriggered := n >= s.cfg.BatchSize
	e.mu.Unlock()

	s.metrics.RecordBatchAdd(key, true)

	if sizeTriggered {
		s.flush(ctx, key, e, "size")
	}

	return true
}

// Flush triggers a flush for one sink key. No-op if a flush for the key is
// already in flight or the batch is empty.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sinkKey: Batch stream to flush
func (s *Sink) Flush(ctx context.Context, sinkKey string) {
	if e, ok := s.batches.Load(sinkKey); ok {
		s.flush(ctx, sinkKey, e, "drain")
	}
}

// FlushAll synchronously flushes every known sink key. Used for graceful
// shutdown and after poll cycles, so accumulated updates are not left
// stranded when no further traffic arrives.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
func (s *Sink) FlushAll(ctx context.Context) {
	s.batches.Range(func(key string, e *entry) bool {
		s.flush(ctx, key, e, "drain")

		return true
	})
}

// PendingLen returns the number of buffered operations for a sink key.
//
// Returns:
//   - int: Buffered operation count (0 for unknown keys)
func (s *Sink) PendingLen(sinkKey string) int {
	e, ok := s.batches.Load(sinkKey)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.ops)
}

// timerFlush runs a timeout-triggered flush with its own bounded context.
func (s *Sink) timerFlush(key string) {
	e, ok := s.batches.Load(key)
	if !ok {
		return
	}

	// This timer is spent. Clearing the field lets a flush in flight re-arm
	// the rescue on exit if this flush loses the guard below.
	e.mu.Lock()
	e.timer = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()

	s.flush(ctx, key, e, "timer")
}

// flush snapshots the batch and executes it as grouped sink calls.
//
// The flushing flag makes racing triggers (size threshold and timer firing
// near-simultaneously) resolve to exactly one call sequence; the loser
// returns without touching the batch.
func (s *Sink) flush(ctx context.Context, key string, e *entry, trigger string) {
	e.mu.Lock()
	if e.flushing || len(e.ops) == 0 {
		e.mu.Unlock()

		return
	}
	e.flushing = true
	snapshot := e.ops
	e.ops = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.flushing = false
		// Operations buffered during the flight whose triggers both lost the
		// guard would otherwise sit with no rescue armed.
		if len(e.ops) > 0 && e.timer == nil {
			e.timer = time.AfterFunc(s.cfg.BatchTimeout, func() {
				s.timerFlush(key)
			})
		}
		e.mu.Unlock()
	}()

	start := time.Now()
	plan := buildPlan(snapshot)

	// A grouped flush costs a fixed higher price than a single operation,
	// reflecting its amortized cost at the sink.
	if err := s.limiter.Acquire(ctx, s.cfg.AcquireCost); err != nil {
		s.logger.Warn("flush aborted while waiting for tokens, re-routing to retry queue",
			"sink_key", key, "ops", len(snapshot), "error", err)
		for _, op := range snapshot {
			s.retry.Enqueue(op)
		}

		return
	}

	var failures []error
	for _, g := range plan.updates {
		if err := s.client.UpdateRange(ctx, key, g.target, g.rows); err != nil {
			failures = append(failures, fmt.Errorf("update %s row %d: %w", g.target.Tab, g.target.Row, err))
			s.handleGroupFailure(ctx, key, g.source, err)
		}
	}
	for _, g := range plan.appends {
		if err := s.client.AppendRows(ctx, key, g.section, g.rows); err != nil {
			failures = append(failures, fmt.Errorf("append %s: %w", g.section, err))
			s.handleGroupFailure(ctx, key, g.source, err)
		}
	}

	err := errors.Join(failures...)
	s.metrics.RecordFlush(key, trigger, len(snapshot), err == nil)
	s.metrics.RecordFlushDuration(time.Since(start).Seconds())
	s.fireOnFlush(ctx, key, len(snapshot), err)

	if err == nil {
		s.logger.Debug("flushed batch",
			"sink_key", key, "trigger", trigger, "ops", len(snapshot),
			"update_groups", len(plan.updates), "append_groups", len(plan.appends))
	}
}

// handleGroupFailure routes one failed group: throttled groups go to the
// retry queue whole (never re-buffered, to avoid an immediate re-trigger
// loop); other failures are logged and dropped. The call store remains the
// source of truth for dropped rows.
func (s *Sink) handleGroupFailure(ctx context.Context, key string, ops []types.Operation, err error) {
	if types.IsThrottled(err) {
		s.logger.Warn("sink throttled, routing group to retry queue",
			"sink_key", key, "ops", len(ops), "error", err)
		for _, op := range ops {
			s.retry.Enqueue(op)
		}

		return
	}

	s.logger.Error("sink write failed, dropping group",
		"sink_key", key, "ops", len(ops), "error", err)
	for _, op := range ops {
		s.fireOnDropped(ctx, op, 0, err)
	}
}

func (s *Sink) fireOnFlush(ctx context.Context, key string, ops int, err error) {
	if s.hooks.OnFlush == nil {
		return
	}
	go func() {
		if hookErr := s.hooks.OnFlush(ctx, key, ops, err); hookErr != nil {
			s.logger.Warn("OnFlush hook failed", "sink_key", key, "error", hookErr)
		}
	}()
}

func (s *Sink) fireOnDropped(ctx context.Context, op types.Operation, attempts int, err error) {
	if s.hooks.OnOperationDropped == nil {
		return
	}
	go func() {
		if hookErr := s.hooks.OnOperationDropped(ctx, op, attempts, err); hookErr != nil {
			s.logger.Warn("OnOperationDropped hook failed", "sink_key", op.SinkKey, "error", hookErr)
		}
	}()
}
