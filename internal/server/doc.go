// Package server is the client-facing transport.
//
// It upgrades HTTP requests on /ws (and /) to websocket connections, runs a
// read pump that feeds client frames to a relay.Session and a write pump
// that drains a bounded per-connection send queue with ping keepalives.
// A connection whose queue fills is closed. /health reports upstream state
// and subscriber counts; the metrics path serves Prometheus metrics.
package server
