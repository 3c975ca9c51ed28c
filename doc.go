// Package callsync provides a Go library for synchronizing call records to a
// rate-limited, sheet-like external sink with batched writes and periodic
// status reconciliation.
//
// Callsync keeps two paths flowing against a shared token budget: a write
// path that buffers row operations per sink key and flushes them in grouped
// batches, and a reconciliation path that refreshes stale call records from
// an external status provider. Throttled writes are retried from a bounded
// in-process queue; nothing is dropped silently.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/arloliu/callsync"
//
//	cfg := callsync.DefaultConfig()
//	cfg.Sink.Key = "my-sheet-id"
//
//	mgr, err := callsync.NewManager(&cfg, sheetClient, callStore, dialerAPI)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
//	mgr.Log(ctx, callsync.Operation{
//	    Kind:    callsync.OpAppend,
//	    SinkKey: cfg.Sink.Key,
//	    Target:  callsync.Target{Section: "Calls!A:F"},
//	    Payload: record.Row(),
//	})
//
// # Key Features
//
//   - Token-Bucket Rate Limiting: all sink traffic shares one refilling budget
//   - Batched Writes: per-key accumulation with size and time flush triggers
//   - Ordered Flushes: in-place updates always precede appends within a flush
//   - Bounded Retry: throttled operations replay with backoff, never silently
//   - Reconciliation: stale records refresh from the status provider on a schedule
//   - Degraded Mode: a sink scan keeps statuses flowing when the store is down
//
// # Architecture
//
// The Manager wires four internal components around injected collaborators:
//
//	Log(op) → BatchSink → SinkClient
//	               ↘ RetryQueue (throttled failures)
//	Poller → CallStore + StatusProvider → BatchSink
//
// External collaborators are interfaces (SinkClient, CallStore,
// StatusProvider); the library ships a NATS JetStream KV CallStore in
// store/natskv and leaves the sink transport to the integrator.
//
// See the examples/ directory for complete working examples.
package callsync
