// Package connection implements the Upstream Feed Connector.
//
// The connector:
//   - Owns the single websocket connection to the exchange feed
//   - Dials lazily on the first EnsureConnected call; concurrent callers share one dial
//   - Tracks the desired product subscriptions and replays them after every (re)connect
//   - Reconnects with exponential backoff and jitter after a dial or read failure
//   - Forwards every inbound frame, stamped with its receive time, to the Message Router
package connection
