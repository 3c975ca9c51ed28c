package retry

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/callsync/internal/ratelimit"
	"github.com/arloliu/callsync/types"
)

// Item is one queued replay with its attempt bookkeeping.
type Item struct {
	// Op is the original operation as it entered the batch engine.
	Op types.Operation

	// Attempts counts replays so far; strictly increasing, never reset.
	Attempts int

	// EnqueuedAt is when the item first entered the queue.
	EnqueuedAt time.Time
}

// Config holds the retry queue tunables. Values are validated by the root
// package before construction.
type Config struct {
	// MaxRetries is the replay budget; an item is dropped once its attempt
	// counter exceeds this.
	MaxRetries int

	// BatchSize is the maximum number of items dequeued per pass.
	BatchSize int

	// LowWaterMark is the token level below which the loop backs off
	// instead of attempting replays.
	LowWaterMark float64

	// BaseDelay, PerItemDelay and MaxDelay shape the capacity backoff:
	// min(BaseDelay + queueLen*PerItemDelay, MaxDelay).
	BaseDelay    time.Duration
	PerItemDelay time.Duration
	MaxDelay     time.Duration

	// InterItemDelay spaces consecutive replays within one pass to avoid
	// bursting.
	InterItemDelay time.Duration

	// OperationTimeout bounds one replay attempt.
	OperationTimeout time.Duration
}

// Queue is a self-driving FIFO replay queue.
//
// A single processing loop is active at a time, guarded by the processing
// flag; Enqueue starts it on demand and the loop exits when the queue
// drains. Queue is safe for concurrent use.
type Queue struct {
	cfg     Config
	limiter *ratelimit.Bucket
	client  types.SinkClient
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks

	mu         sync.Mutex
	items      []Item
	processing bool
	stopped    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a retry queue replaying directly through the given client.
//
// Parameters:
//   - cfg: Queue tunables
//   - limiter: Shared token bucket
//   - client: Sink transport for direct (non-batched) replays
//   - logger: Logger instance
//   - metrics: Metrics collector
//   - hooks: Lifecycle hooks (must be non-nil, use nop hooks otherwise)
//
// Returns:
//   - *Queue: A new retry queue
func New(cfg Config, limiter *ratelimit.Bucket, client types.SinkClient,
	logger types.Logger, metrics types.MetricsCollector, hooks *types.Hooks,
) *Queue {
	return &Queue{
		cfg:     cfg,
		limiter: limiter,
		client:  client,
		logger:  logger,
		metrics: metrics,
		hooks:   hooks,
		stopCh:  make(chan struct{}),
	}
}

// Enqueue adds an operation for later replay and starts the processing loop
// if one is not already active.
//
// Called from the batch engine on throttled group failures and from the
// write path on throttled immediate executions. Safe for concurrent use.
//
// Parameters:
//   - op: Operation to replay
func (q *Queue) Enqueue(op types.Operation) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("retry queue stopped, dropping operation",
			"sink_key", op.SinkKey, "kind", op.Kind.String())
		q.fireDropped(op, 0, types.ErrShuttingDown)

		return
	}

	q.items = append(q.items, Item{Op: op, EnqueuedAt: time.Now()})
	n := len(q.items)
	startLoop := !q.processing
	if startLoop {
		q.processing = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.metrics.RecordRetryEnqueued()
	q.metrics.RecordQueueLen(n)

	if startLoop {
		go q.loop()
	}
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Stop terminates the processing loop and refuses further enqueues.
//
// Blocks until the active loop (if any) exits. Items still queued are
// dropped with terminal-drop logging.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()

		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()

	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range remaining {
		q.logger.Warn("dropping queued retry on shutdown",
			"sink_key", item.Op.SinkKey, "attempts", item.Attempts)
		q.metrics.RecordTerminalDrop()
		q.fireDropped(item.Op, item.Attempts, types.ErrShuttingDown)
	}
	q.metrics.RecordQueueLen(0)
}

// loop is the single active processing goroutine.
func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		if !q.waitForCapacity() {
			q.clearProcessing()

			return
		}

		batch := q.dequeue(q.cfg.BatchSize)
		if len(batch) == 0 {
			// Drained between passes. The exit check runs under the same
			// lock Enqueue uses, so an item added concurrently either lands
			// before the check (loop continues) or observes processing=false
			// and starts a fresh loop.
			q.mu.Lock()
			if len(q.items) == 0 {
				q.processing = false
				q.mu.Unlock()

				return
			}
			q.mu.Unlock()

			continue
		}

		for i, item := range batch {
			item.Attempts++

			if item.Attempts > q.cfg.MaxRetries {
				q.logger.Error("retry budget exhausted, dropping operation",
					"sink_key", item.Op.SinkKey, "kind", item.Op.Kind.String(),
					"attempts", item.Attempts, "queued_for", time.Since(item.EnqueuedAt))
				q.metrics.RecordTerminalDrop()
				q.fireDropped(item.Op, item.Attempts, types.ErrThrottled)

				continue
			}

			err := q.replay(item.Op)
			q.metrics.RecordRetryAttempt(err == nil)

			switch {
			case err == nil:
				// Replayed successfully.
			case types.IsThrottled(err):
				// Tail, not head: give other items a turn.
				q.requeue(item)
			default:
				q.logger.Error("retry failed with non-recoverable error, dropping",
					"sink_key", item.Op.SinkKey, "attempts", item.Attempts, "error", err)
				q.fireDropped(item.Op, item.Attempts, err)
			}

			if i < len(batch)-1 && !q.sleep(q.cfg.InterItemDelay) {
				// Stopping mid-pass: requeue the untouched remainder so
				// Stop() can report it.
				for _, rest := range batch[i+1:] {
					q.requeue(rest)
				}
				q.clearProcessing()

				return
			}
		}

		q.mu.Lock()
		q.metrics.RecordQueueLen(len(q.items))
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()

			return
		}
		q.mu.Unlock()
	}
}

// waitForCapacity blocks until the bucket is above the low-water mark.
// Returns false only when the queue is stopping; an empty queue returns
// true immediately so the loop can run its atomic exit check.
func (q *Queue) waitForCapacity() bool {
	for {
		select {
		case <-q.stopCh:
			return false
		default:
		}

		q.mu.Lock()
		n := len(q.items)
		q.mu.Unlock()
		if n == 0 {
			return true
		}

		if q.limiter.Available() >= q.cfg.LowWaterMark {
			return true
		}

		delay := min(q.cfg.BaseDelay+time.Duration(n)*q.cfg.PerItemDelay, q.cfg.MaxDelay)
		q.logger.Debug("sink still limited, delaying retry pass",
			"queue_len", n, "delay", delay)
		if !q.sleep(delay) {
			return false
		}
	}
}

// dequeue pops up to n items FIFO.
func (q *Queue) dequeue(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]

	return batch
}

// requeue appends an item at the tail.
func (q *Queue) requeue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
}

// replay executes one direct, non-batched attempt against the sink.
func (q *Queue) replay(op types.Operation) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.OperationTimeout)
	defer cancel()

	if err := q.limiter.Acquire(ctx, 1); err != nil {
		return err
	}

	if op.Kind == types.OpUpdate {
		return q.client.UpdateRange(ctx, op.SinkKey, op.Target, [][]string{op.Payload})
	}

	return q.client.AppendRows(ctx, op.SinkKey, op.Target.Section, [][]string{op.Payload})
}

// sleep waits for d, returning false if the queue is stopping.
func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-q.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (q *Queue) clearProcessing() {
	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

func (q *Queue) fireDropped(op types.Operation, attempts int, err error) {
	if q.hooks.OnOperationDropped == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if hookErr := q.hooks.OnOperationDropped(ctx, op, attempts, err); hookErr != nil {
			q.logger.Warn("OnOperationDropped hook failed", "sink_key", op.SinkKey, "error", hookErr)
		}
	}()
}
