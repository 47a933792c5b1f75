// Package database provides the PostgreSQL connection pool used for the
// optional latest-state checkpoint.
//
// The relay keeps all state in memory. When checkpointing is enabled the
// latest ticker and book view per instrument are stored in a single table
// so a restarted relay can serve replays before the feed catches up.
package database
