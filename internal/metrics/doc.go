// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Upstream connection state, reconnects and frame rates by type
//   - Decode failures and dropped frames
//   - Subscriber counts and broadcast volume per instrument
//   - Rate-limited (discarded) order-book deltas
//   - Client send failures and active transport connections
//   - Latest-state checkpoint results
//
// Every method is safe to call on a nil *Metrics, so components can run
// without a registry in tests.
package metrics
