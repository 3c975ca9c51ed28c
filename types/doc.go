// Package types provides core type definitions and interfaces for the callsync library.
//
// This package contains shared types that are used across multiple packages in the
// callsync library. By keeping these types in a separate package, we avoid import
// cycles between the main callsync package and its internal implementations.
//
// Key types:
//   - Operation: A pending write to the external sink
//   - CallRecord: A call record tracked in the call store
//   - SinkClient / StatusProvider / CallStore: External collaborator interfaces
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
