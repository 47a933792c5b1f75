package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	sql []string
	err error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	return pgconn.CommandTag{}, r.err
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if len(db.sql) != 1 {
		t.Fatalf("executed %d statements, want 1", len(db.sql))
	}
	if !strings.Contains(db.sql[0], "CREATE TABLE IF NOT EXISTS "+LatestStateTable) {
		t.Errorf("unexpected DDL: %s", db.sql[0])
	}
}

func TestEnsureSchemaError(t *testing.T) {
	boom := errors.New("permission denied")
	db := &recordingExecer{err: boom}

	err := EnsureSchema(context.Background(), db)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
	if !strings.HasPrefix(err.Error(), "create relay_latest_state: ") {
		t.Errorf("error = %q", err)
	}
}
