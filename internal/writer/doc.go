// Package writer persists the relay's latest per-instrument state.
//
// The Checkpointer periodically upserts the cached ticker payload and book
// view of every instrument into relay_latest_state. Only rows whose content
// changed since the previous run are written. Load reads the table back so a
// restarted relay can replay state to new subscribers immediately.
package writer
