package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// LatestStateTable holds one row per instrument.
const LatestStateTable = "relay_latest_state"

const latestStateDDL = `
CREATE TABLE IF NOT EXISTS relay_latest_state (
	product          TEXT PRIMARY KEY,
	ticker           JSONB,
	book             JSONB,
	book_updated_at  TIMESTAMPTZ,
	checkpointed_at  TIMESTAMPTZ NOT NULL
)`

// Execer is the part of a pool needed to run DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the checkpoint table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, latestStateDDL); err != nil {
		return fmt.Errorf("create %s: %w", LatestStateTable, err)
	}
	return nil
}
