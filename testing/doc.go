// Package testing provides test utilities for the callsync library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for integration testing the JetStream KV call store.
// It follows Go's convention of providing testing utilities in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: Logger backed by testing.T output
//
// Example usage:
//
//	import (
//	    "testing"
//	    cstest "github.com/arloliu/callsync/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := cstest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
