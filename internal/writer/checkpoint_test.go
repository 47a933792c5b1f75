package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketrelay/internal/model"
)

type staticSource struct {
	mu     sync.Mutex
	states []model.InstrumentState
}

func (s *staticSource) LatestState() []model.InstrumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.InstrumentState(nil), s.states...)
}

func (s *staticSource) set(states ...model.InstrumentState) {
	s.mu.Lock()
	s.states = states
	s.mu.Unlock()
}

// fakeDB records batches and serves canned rows.
type fakeDB struct {
	mu      sync.Mutex
	batches []*pgx.Batch
	execErr error
	rows    []stateRow
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.mu.Unlock()
	return &fakeResults{err: f.execErr}
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows, idx: -1}, nil
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) { return pgconn.NewCommandTag("INSERT 0 1"), r.err }
func (r *fakeResults) Query() (pgx.Rows, error)         { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row                { return nil }
func (r *fakeResults) Close() error                     { return nil }

type fakeRows struct {
	rows []stateRow
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	*dest[0].(*string) = row.Product
	*dest[1].(*[]byte) = row.Ticker
	*dest[2].(*[]byte) = row.Book
	*dest[3].(**time.Time) = row.BookUpdatedAt
	return nil
}

func level(price, size string) model.PriceLevel {
	return model.PriceLevel{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func btcState(at time.Time) model.InstrumentState {
	return model.InstrumentState{
		Product: "BTC-USD",
		Ticker:  json.RawMessage(`{"type":"ticker","product_id":"BTC-USD","price":"100.5"}`),
		Book: &model.BookView{
			ProductID: "BTC-USD",
			Bids:      []model.PriceLevel{level("100", "1")},
			Asks:      []model.PriceLevel{level("101", "2")},
		},
		BookUpdatedAt: at,
	}
}

func TestToRowFromRow(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	st := btcState(at)

	row, err := toRow(st)
	if err != nil {
		t.Fatalf("toRow failed: %v", err)
	}
	if string(row.Book) != `{"product_id":"BTC-USD","bids":[[100,1]],"asks":[[101,2]]}` {
		t.Errorf("Book = %s", row.Book)
	}
	if row.BookUpdatedAt == nil || !row.BookUpdatedAt.Equal(at) {
		t.Errorf("BookUpdatedAt = %v, want %v", row.BookUpdatedAt, at)
	}

	back, err := fromRow(row)
	if err != nil {
		t.Fatalf("fromRow failed: %v", err)
	}
	if back.Product != "BTC-USD" {
		t.Errorf("Product = %s", back.Product)
	}
	if string(back.Ticker) != string(st.Ticker) {
		t.Errorf("Ticker = %s", back.Ticker)
	}
	if back.Book == nil || len(back.Book.Bids) != 1 || !back.Book.Bids[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Book = %+v", back.Book)
	}
	if !back.BookUpdatedAt.Equal(at) {
		t.Errorf("BookUpdatedAt = %v, want %v", back.BookUpdatedAt, at)
	}
}

func TestToRowTickerOnly(t *testing.T) {
	row, err := toRow(model.InstrumentState{
		Product: "ETH-USD",
		Ticker:  json.RawMessage(`{"price":"1"}`),
	})
	if err != nil {
		t.Fatalf("toRow failed: %v", err)
	}
	if row.Book != nil || row.BookUpdatedAt != nil {
		t.Errorf("expected no book columns, got %+v", row)
	}
}

func TestFromRowBadBook(t *testing.T) {
	_, err := fromRow(stateRow{Product: "BTC-USD", Book: []byte(`{"bids":[["x"]]}`)})
	if err == nil {
		t.Error("expected decode error")
	}
}

func TestCheckpointer_FlushSkipsUnchanged(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	src := &staticSource{}
	src.set(btcState(at))
	db := &fakeDB{}

	c := NewCheckpointer(DefaultCheckpointConfig(), db, src, nil, nil)
	ctx := context.Background()

	n, err := c.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first flush wrote %d rows, want 1", n)
	}
	if db.batches[0].Len() != 1 {
		t.Errorf("batch len = %d, want 1", db.batches[0].Len())
	}

	n, err = c.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unchanged flush wrote %d rows, want 0", n)
	}
	if db.batchCount() != 1 {
		t.Errorf("batches = %d, want 1", db.batchCount())
	}

	src.set(btcState(at.Add(8 * time.Second)))
	n, _ = c.Flush(ctx)
	if n != 1 {
		t.Errorf("changed flush wrote %d rows, want 1", n)
	}

	stats := c.Stats()
	if stats.Runs != 3 || stats.Rows != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 3 runs, 2 rows, 1 skipped", stats)
	}
}

func TestCheckpointer_FlushErrorRetries(t *testing.T) {
	src := &staticSource{}
	src.set(btcState(time.Now()))
	db := &fakeDB{execErr: errors.New("connection reset")}

	c := NewCheckpointer(DefaultCheckpointConfig(), db, src, nil, nil)
	ctx := context.Background()

	if _, err := c.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}

	// A failed row is written again on the next run.
	db.execErr = nil
	n, err := c.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 1 {
		t.Errorf("retry wrote %d rows, want 1", n)
	}
	if c.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", c.Stats().Errors)
	}
}

func TestCheckpointer_StopWritesFinal(t *testing.T) {
	src := &staticSource{}
	db := &fakeDB{}

	c := NewCheckpointer(CheckpointConfig{Interval: time.Hour}, db, src, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.set(btcState(time.Now()))
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if db.batchCount() != 1 {
		t.Errorf("batches = %d, want 1 final checkpoint", db.batchCount())
	}
}

func TestCheckpointer_PeriodicFlush(t *testing.T) {
	src := &staticSource{}
	src.set(btcState(time.Now()))
	db := &fakeDB{}

	c := NewCheckpointer(CheckpointConfig{Interval: 10 * time.Millisecond}, db, src, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(context.Background())

	deadline := time.After(time.Second)
	for db.batchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for periodic checkpoint")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoad(t *testing.T) {
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	row, err := toRow(btcState(at))
	if err != nil {
		t.Fatalf("toRow failed: %v", err)
	}
	db := &fakeDB{rows: []stateRow{
		row,
		{Product: "ETH-USD", Ticker: []byte(`{"price":"2"}`)},
	}}

	states, err := Load(context.Background(), db)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states[0].Book == nil || !states[0].BookUpdatedAt.Equal(at) {
		t.Errorf("BTC-USD state = %+v", states[0])
	}
	if states[1].Book != nil || string(states[1].Ticker) != `{"price":"2"}` {
		t.Errorf("ETH-USD state = %+v", states[1])
	}
}
