package callsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/callsync/internal/batch"
	"github.com/arloliu/callsync/internal/hooks"
	"github.com/arloliu/callsync/internal/logger"
	"github.com/arloliu/callsync/internal/metrics"
	"github.com/arloliu/callsync/internal/ratelimit"
	"github.com/arloliu/callsync/internal/reconcile"
	"github.com/arloliu/callsync/internal/retry"
	"github.com/arloliu/callsync/types"
)

// Manager coordinates the write and reconciliation paths of call-record
// synchronization.
//
// Manager is the main entry point of the callsync library. It handles:
//   - Rate-limited batched writes to the external sink
//   - Bounded retry of throttled operations
//   - Periodic reconciliation of stale records against the status provider
//   - Degraded sink-scan reconciliation when the call store is unreachable
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Log never blocks on a flush already in flight
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Start() to begin the reconciliation loop
//   - Call Log() to submit sink operations
//   - Call Stop() for graceful shutdown with a deterministic drain
//
// Testing:
// Consumers can define minimal interfaces for mocking:
//
//	type CallLogger interface {
//	    Log(ctx context.Context, op callsync.Operation) error
//	}
type Manager struct {
	cfg      Config
	client   SinkClient
	store    CallStore
	provider StatusProvider

	// Optional dependencies
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	// Internal components, built in Start
	limiter *ratelimit.Bucket
	sink    *batch.Sink
	retry   *retry.Queue
	poller  *reconcile.Poller

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return
// structs" principle. Consumers can define their own interfaces for testing
// if needed.
//
// Parameters:
//   - cfg: Runtime configuration with parsed durations
//   - client: Sink transport for appends and range updates
//   - store: Call store (system of record)
//   - provider: External status source for reconciliation
//   - opts: Optional configuration (hooks, metrics, logger)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := callsync.DefaultConfig()
//	mgr, err := callsync.NewManager(&cfg, sheetClient, kvStore, dialerAPI)
func NewManager(cfg *Config, client SinkClient, store CallStore, provider StatusProvider, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if client == nil {
		return nil, ErrSinkClientRequired
	}
	if store == nil {
		return nil, ErrCallStoreRequired
	}
	if provider == nil {
		return nil, ErrStatusProviderRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Apply options
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logger.NewNop()
	}

	// Validate with warnings after logger is available
	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	return &Manager{
		cfg:      *cfg,
		client:   client,
		store:    store,
		provider: provider,
		hooks:    hooksInstance,
		metrics:  metricsCollector,
		logger:   loggerInstance,
	}, nil
}

// Start builds the internal components and begins the reconciliation loop.
//
// The first poll cycle runs one Poll.Interval after Start returns; the write
// path (Log) is available immediately.
//
// Parameters:
//   - ctx: Context for cancellation (unused once Start returns; the manager
//     owns its own lifecycle context afterwards)
//
// Returns:
//   - error: ErrAlreadyStarted if the manager is already running
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.limiter = ratelimit.New(m.cfg.Limiter.Capacity, m.cfg.Limiter.RefillPerSecond)

	m.retry = retry.New(retry.Config{
		MaxRetries:       m.cfg.Retry.MaxRetries,
		BatchSize:        m.cfg.Retry.BatchSize,
		LowWaterMark:     m.cfg.Retry.LowWaterMark,
		BaseDelay:        m.cfg.Retry.BaseDelay,
		PerItemDelay:     m.cfg.Retry.PerItemDelay,
		MaxDelay:         m.cfg.Retry.MaxDelay,
		InterItemDelay:   m.cfg.Retry.InterItemDelay,
		OperationTimeout: m.cfg.OperationTimeout,
	}, m.limiter, m.client, m.logger, m.metrics, m.hooks)

	m.sink = batch.New(batch.Config{
		BatchSize:          m.cfg.Batch.Size,
		BatchTimeout:       m.cfg.Batch.Timeout,
		ImmediateThreshold: m.cfg.Batch.ImmediateThreshold,
		AcquireCost:        m.cfg.Batch.FlushCost,
		OperationTimeout:   m.cfg.OperationTimeout,
	}, m.limiter, m.client, m.retry, m.logger, m.metrics, m.hooks)

	m.poller = reconcile.New(reconcile.Config{
		SinkKey:          m.cfg.Sink.Key,
		UpdateTab:        m.cfg.Sink.Tab,
		AppendSection:    m.cfg.Sink.AppendSection,
		PageSize:         m.cfg.Poll.PageSize,
		SubBatchSize:     m.cfg.Poll.SubBatchSize,
		SubBatchDelay:    m.cfg.Poll.SubBatchDelay,
		TokenFloor:       m.cfg.Poll.TokenFloor,
		AcquireCost:      m.cfg.Poll.ReadCost,
		FallbackScanRows: m.cfg.Poll.FallbackScanRows,
	}, m.store, m.provider, m.client, m.sink, m.limiter, m.logger, m.metrics, m.hooks)

	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("callsync manager started",
		"poll_interval", m.cfg.Poll.Interval,
		"batch_size", m.cfg.Batch.Size,
		"capacity", m.cfg.Limiter.Capacity)

	return nil
}

// Stop gracefully shuts down the manager.
//
// The shutdown drain is deterministic: the reconciliation loop is stopped,
// buffered batches are flushed, and remaining retry items are replayed or
// dropped with terminal-drop logging. Stop blocks for at most
// ShutdownTimeout (or until ctx is done, whichever is sooner).
//
// Safe to call multiple times - subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, or ctx error if the drain did not finish in time
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil || m.ctx.Err() != nil {
		m.mu.Unlock()

		return ErrNotStarted
	}
	m.cancel()
	m.mu.Unlock()

	shutdownCtx := ctx
	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	// Wait for the poll loop to observe cancellation
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		m.logger.Error("shutdown timed out waiting for reconciliation loop")

		return shutdownCtx.Err()
	}

	// Drain buffered batches, then let the retry queue drop what remains
	m.sink.FlushAll(shutdownCtx)
	m.retry.Stop()

	m.logger.Info("callsync manager stopped")

	return nil
}

// Log submits one sink operation through the write path.
//
// Batchable operations are always buffered. Non-batchable operations execute
// immediately while tokens are plentiful and fall back to buffering when the
// bucket runs low. Sink failures never surface to the caller: throttled
// failures are enqueued for retry and other failures are logged and dropped
// through the OnOperationDropped hook. Only validation and context errors
// are returned.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - op: Operation to submit
//
// Returns:
//   - error: ErrNotStarted, types.ErrInvalidOperation, or ctx error
func (m *Manager) Log(ctx context.Context, op Operation) error {
	m.mu.RLock()
	started := m.ctx != nil && m.ctx.Err() == nil
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	if !op.Valid() {
		return fmt.Errorf("%w: kind=%s sink_key=%q", types.ErrInvalidOperation, op.Kind, op.SinkKey)
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	if m.sink.Add(ctx, op) {
		return nil
	}

	return m.executeImmediate(ctx, op)
}

// executeImmediate performs one operation directly against the sink,
// bypassing the accumulator.
func (m *Manager) executeImmediate(ctx context.Context, op Operation) error {
	acquireStart := time.Now()
	if err := m.limiter.Acquire(ctx, 1); err != nil {
		return err
	}
	m.metrics.RecordAcquireWait(time.Since(acquireStart).Seconds())
	m.metrics.RecordTokensAvailable(m.limiter.Available())

	opCtx := ctx
	if m.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()
	}

	var err error
	switch op.Kind {
	case OpAppend:
		err = m.client.AppendRows(opCtx, op.SinkKey, op.Target.Section, [][]string{op.Payload})
	case OpUpdate:
		err = m.client.UpdateRange(opCtx, op.SinkKey, op.Target, [][]string{op.Payload})
	}
	if err == nil {
		return nil
	}

	if IsThrottled(err) {
		m.logger.Warn("immediate write throttled, queueing for retry",
			"sink_key", op.SinkKey, "error", err)
		m.retry.Enqueue(op)

		return nil
	}

	m.logger.Error("immediate write failed", "sink_key", op.SinkKey, "error", err)
	m.fireOnError(ctx, err)

	return nil
}

// PollNow triggers one reconciliation cycle outside the regular schedule.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - int: Number of records whose status materially changed
//   - error: ErrNotStarted or cycle error
func (m *Manager) PollNow(ctx context.Context) (int, error) {
	m.mu.RLock()
	poller := m.poller
	started := m.ctx != nil && m.ctx.Err() == nil
	m.mu.RUnlock()
	if !started {
		return 0, ErrNotStarted
	}

	return poller.PollOnce(ctx)
}

// Flush synchronously flushes every buffered batch.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - error: ErrNotStarted if the manager is not running
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	sink := m.sink
	started := m.ctx != nil && m.ctx.Err() == nil
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	sink.FlushAll(ctx)

	return nil
}

// QueueLen returns the current retry queue length, or 0 before Start.
func (m *Manager) QueueLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.retry == nil {
		return 0
	}

	return m.retry.Len()
}

// AvailableTokens returns the current token count, or 0 before Start.
func (m *Manager) AvailableTokens() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.limiter == nil {
		return 0
	}

	return m.limiter.Available()
}

// pollLoop drives the reconciliation poller at Poll.Interval until the
// manager context is cancelled.
func (m *Manager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Poll.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.metrics.RecordTokensAvailable(m.limiter.Available())

			updated, err := m.poller.PollOnce(m.ctx)
			if err != nil {
				if m.ctx.Err() != nil {
					return
				}
				m.logger.Error("reconciliation cycle failed", "error", err)
				m.fireOnError(m.ctx, err)

				continue
			}
			if updated > 0 {
				m.logger.Info("reconciliation cycle updated records", "updated", updated)
			}
		}
	}
}

func (m *Manager) fireOnError(ctx context.Context, err error) {
	if m.hooks.OnError == nil {
		return
	}
	go func() {
		if hookErr := m.hooks.OnError(ctx, err); hookErr != nil {
			m.logger.Warn("OnError hook failed", "error", hookErr)
		}
	}()
}
