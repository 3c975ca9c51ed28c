package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/callsync/internal/hooks"
	"github.com/arloliu/callsync/internal/logger"
	"github.com/arloliu/callsync/internal/metrics"
	"github.com/arloliu/callsync/internal/ratelimit"
	"github.com/arloliu/callsync/types"
)

// sinkCall records one SinkClient invocation.
type sinkCall struct {
	op      string // "append" or "update"
	sinkKey string
	section string
	target  types.Target
	rows    [][]string
}

// fakeClient is a SinkClient test double with scriptable failures.
type fakeClient struct {
	mu    sync.Mutex
	calls []sinkCall

	appendErr error
	updateErr error
}

func (f *fakeClient) AppendRows(_ context.Context, sinkKey, section string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, sinkCall{op: "append", sinkKey: sinkKey, section: section, rows: rows})

	return f.appendErr
}

func (f *fakeClient) UpdateRange(_ context.Context, sinkKey string, target types.Target, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, sinkCall{op: "update", sinkKey: sinkKey, target: target, rows: rows})

	return f.updateErr
}

func (f *fakeClient) callLog() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sinkCall, len(f.calls))
	copy(out, f.calls)

	return out
}

// fakeRetryer collects enqueued operations.
type fakeRetryer struct {
	mu  sync.Mutex
	ops []types.Operation
}

func (f *fakeRetryer) Enqueue(op types.Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, op)
}

func (f *fakeRetryer) enqueued() []types.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]types.Operation, len(f.ops))
	copy(out, f.ops)

	return out
}

func testSink(t *testing.T, cfg Config, client types.SinkClient, retry Retryer, capacity float64) *Sink {
	t.Helper()

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Second
	}
	if cfg.AcquireCost == 0 {
		cfg.AcquireCost = 2
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	h := hooks.NewNop()

	return New(cfg, ratelimit.New(capacity, 1000), client, retry,
		logger.NewTest(t), metrics.NewNop(), &h)
}

func appendOp(key string, batchable bool, payload ...string) types.Operation {
	return types.Operation{
		Kind:      types.OpAppend,
		SinkKey:   key,
		Target:    types.Target{Section: "log"},
		Payload:   payload,
		Batchable: batchable,
	}
}

func TestAddImmediateWhenTokensPlentiful(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	// Plenty of tokens, not batchable: caller executes immediately.
	buffered := s.Add(context.Background(), appendOp("calls", false, "row"))
	require.False(t, buffered)
	require.Zero(t, s.PendingLen("calls"))
	require.Empty(t, client.callLog())
}

func TestAddBuffersBatchableOps(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	buffered := s.Add(context.Background(), appendOp("calls", true, "row"))
	require.True(t, buffered)
	require.Equal(t, 1, s.PendingLen("calls"))
	require.Empty(t, client.callLog())
}

func TestAddBuffersWhenTokensLow(t *testing.T) {
	client := &fakeClient{}
	retry := &fakeRetryer{}
	h := hooks.NewNop()
	limiter := ratelimit.New(10, 0.001) // nearly frozen refill
	s := New(Config{
		BatchSize:          20,
		BatchTimeout:       10 * time.Second,
		ImmediateThreshold: 5,
		AcquireCost:        2,
		OperationTimeout:   5 * time.Second,
	}, limiter, client, retry, logger.NewTest(t), metrics.NewNop(), &h)

	require.True(t, limiter.TryAcquire(7)) // 3 tokens left, below threshold

	buffered := s.Add(context.Background(), appendOp("calls", false, "row"))
	require.True(t, buffered)
	require.Equal(t, 1, s.PendingLen("calls"))
}

func TestSizeTriggerFlushesSynchronously(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{BatchSize: 5, ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	for range 4 {
		require.True(t, s.Add(ctx, appendOp("calls", true, "row")))
	}
	// One fewer than BatchSize: nothing flushed yet.
	require.Empty(t, client.callLog())
	require.Equal(t, 4, s.PendingLen("calls"))

	// Crossing the threshold flushes in the same call.
	require.True(t, s.Add(ctx, appendOp("calls", true, "row")))
	calls := client.callLog()
	require.Len(t, calls, 1)
	require.Equal(t, "append", calls[0].op)
	require.Len(t, calls[0].rows, 5)
	require.Zero(t, s.PendingLen("calls"))
}

func TestTimerTriggerFlushes(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{BatchTimeout: 100 * time.Millisecond, ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "first")))
	require.True(t, s.Add(ctx, appendOp("calls", true, "second")))

	require.Empty(t, client.callLog())

	require.Eventually(t, func() bool {
		return len(client.callLog()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	calls := client.callLog()
	require.Equal(t, [][]string{{"first"}, {"second"}}, calls[0].rows)
}

func TestNineteenAppendsFlushOnTimerInOrder(t *testing.T) {
	// BatchSize 20, 19 appends: zero sink calls until the timeout, then one
	// append call with all 19 rows in original order.
	client := &fakeClient{}
	s := testSink(t, Config{
		BatchSize:          20,
		BatchTimeout:       300 * time.Millisecond,
		ImmediateThreshold: 5,
	}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	want := make([][]string, 0, 19)
	for i := range 19 {
		payload := []string{string(rune('a' + i))}
		want = append(want, payload)
		require.True(t, s.Add(ctx, appendOp("calls", true, payload[0])))
	}

	time.Sleep(150 * time.Millisecond)
	require.Empty(t, client.callLog())

	require.Eventually(t, func() bool {
		return len(client.callLog()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	calls := client.callLog()
	require.Len(t, calls[0].rows, 19)
	require.Equal(t, want, calls[0].rows)
}

func TestConcurrentTriggersSingleFlight(t *testing.T) {
	client := &fakeClient{}
	// Timer and size threshold armed to collide.
	s := testSink(t, Config{
		BatchSize:          10,
		BatchTimeout:       50 * time.Millisecond,
		ImmediateThreshold: 5,
	}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(ctx, appendOp("calls", true, "row"))
		}()
	}
	wg.Wait()

	// Let any racing timer fire too.
	time.Sleep(200 * time.Millisecond)

	total := 0
	for _, c := range client.callLog() {
		total += len(c.rows)
	}
	require.Equal(t, 10, total, "every row lands exactly once")
}

// gatedClient parks the first AppendRows call until released, so tests can
// hold a flush in flight while triggers race it.
type gatedClient struct {
	fakeClient
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedClient) AppendRows(ctx context.Context, sinkKey, section string, rows [][]string) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})

	return g.fakeClient.AppendRows(ctx, sinkKey, section, rows)
}

func (g *gatedClient) awaitStarted(t *testing.T) {
	t.Helper()

	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never reached the sink")
	}
}

func TestSizeTriggerLosingGuardKeepsTimeoutArmed(t *testing.T) {
	client := newGatedClient()
	s := testSink(t, Config{
		BatchSize:          3,
		BatchTimeout:       60 * time.Millisecond,
		ImmediateThreshold: 5,
	}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "early")))

	// The timeout flush picks up the first op and parks inside the client.
	client.awaitStarted(t)

	// Cross the size threshold while that flush is still in flight. The
	// synchronous flush loses the single-flight guard and must not cancel
	// the new batch's timeout timer.
	for _, p := range []string{"r1", "r2", "r3"} {
		require.True(t, s.Add(ctx, appendOp("calls", true, p)))
	}
	require.Equal(t, 3, s.PendingLen("calls"))

	close(client.release)

	// The timeout rescue drains the full batch without any further Adds.
	require.Eventually(t, func() bool {
		return s.PendingLen("calls") == 0
	}, 2*time.Second, 10*time.Millisecond)

	total := 0
	for _, c := range client.callLog() {
		total += len(c.rows)
	}
	require.Equal(t, 4, total, "every row lands exactly once")
}

func TestFlushRearmsTimeoutForOpsBufferedDuringFlight(t *testing.T) {
	client := newGatedClient()
	s := testSink(t, Config{
		BatchSize:          10,
		BatchTimeout:       50 * time.Millisecond,
		ImmediateThreshold: 5,
	}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "early")))
	client.awaitStarted(t)

	// Buffer more ops, then hold the in-flight flush long enough for their
	// timeout timer to fire and lose the guard as well.
	require.True(t, s.Add(ctx, appendOp("calls", true, "late1")))
	require.True(t, s.Add(ctx, appendOp("calls", true, "late2")))
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 2, s.PendingLen("calls"))

	// On release the finishing flush re-arms the timeout for the survivors.
	close(client.release)

	require.Eventually(t, func() bool {
		return s.PendingLen("calls") == 0
	}, 2*time.Second, 10*time.Millisecond)

	total := 0
	for _, c := range client.callLog() {
		total += len(c.rows)
	}
	require.Equal(t, 3, total, "every row lands exactly once")
}

func TestFlushUpdatesBeforeAppends(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "appended")))
	require.True(t, s.Add(ctx, types.Operation{
		Kind:      types.OpUpdate,
		SinkKey:   "calls",
		Target:    types.Target{Tab: "log", Row: 2},
		Payload:   []string{"updated"},
		Batchable: true,
	}))

	s.Flush(ctx, "calls")

	calls := client.callLog()
	require.Len(t, calls, 2)
	require.Equal(t, "update", calls[0].op)
	require.Equal(t, "append", calls[1].op)
}

func TestThrottledGroupGoesToRetryQueue(t *testing.T) {
	client := &fakeClient{appendErr: types.ErrThrottled}
	retry := &fakeRetryer{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, retry, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "r1")))
	require.True(t, s.Add(ctx, appendOp("calls", true, "r2")))

	s.Flush(ctx, "calls")

	require.Len(t, retry.enqueued(), 2)
	// Failed operations are not re-buffered.
	require.Zero(t, s.PendingLen("calls"))
}

func TestNonThrottledFailureDropsAndFiresHook(t *testing.T) {
	client := &fakeClient{appendErr: errors.New("invalid range")}
	retry := &fakeRetryer{}

	var mu sync.Mutex
	var dropped []types.Operation
	h := hooks.NewNop()
	h.OnOperationDropped = func(_ context.Context, op types.Operation, _ int, _ error) error {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, op)

		return nil
	}

	s := New(Config{
		BatchSize:          20,
		BatchTimeout:       10 * time.Second,
		ImmediateThreshold: 5,
		AcquireCost:        2,
		OperationTimeout:   5 * time.Second,
	}, ratelimit.New(60, 1000), client, retry, logger.NewTest(t), metrics.NewNop(), &h)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "r1")))
	s.Flush(ctx, "calls")

	require.Empty(t, retry.enqueued())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(dropped) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGroupFailureDoesNotAbortOthers(t *testing.T) {
	client := &fakeClient{updateErr: types.ErrThrottled}
	retry := &fakeRetryer{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, retry, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, types.Operation{
		Kind:      types.OpUpdate,
		SinkKey:   "calls",
		Target:    types.Target{Tab: "log", Row: 1},
		Payload:   []string{"u"},
		Batchable: true,
	}))
	require.True(t, s.Add(ctx, appendOp("calls", true, "a")))

	s.Flush(ctx, "calls")

	// The failed update group went to retry, but the append still executed.
	calls := client.callLog()
	require.Len(t, calls, 2)
	require.Equal(t, "append", calls[1].op)
	require.Len(t, retry.enqueued(), 1)
}

func TestFlushAllDrainsEveryKey(t *testing.T) {
	client := &fakeClient{}
	s := testSink(t, Config{ImmediateThreshold: 5}, client, &fakeRetryer{}, 60)

	ctx := context.Background()
	require.True(t, s.Add(ctx, appendOp("calls", true, "c")))
	require.True(t, s.Add(ctx, types.Operation{
		Kind:      types.OpAppend,
		SinkKey:   "billing",
		Target:    types.Target{Section: "ledger"},
		Payload:   []string{"b"},
		Batchable: true,
	}))

	s.FlushAll(ctx)

	require.Zero(t, s.PendingLen("calls"))
	require.Zero(t, s.PendingLen("billing"))
	require.Len(t, client.callLog(), 2)
}
