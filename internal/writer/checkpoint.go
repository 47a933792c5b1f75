package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketrelay/internal/metrics"
	"github.com/rickgao/marketrelay/internal/model"
)

// Source supplies the state to checkpoint.
type Source interface {
	LatestState() []model.InstrumentState
}

// DB is the subset of *pgxpool.Pool used by the writer.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// CheckpointConfig configures the Checkpointer.
type CheckpointConfig struct {
	Interval time.Duration // Time between checkpoint runs
	Timeout  time.Duration // Bound on a single run
}

// DefaultCheckpointConfig returns sensible defaults.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// CheckpointStats holds checkpoint counters.
type CheckpointStats struct {
	Runs    int64
	Rows    int64
	Skipped int64
	Errors  int64
	LastRun time.Time
}

const upsertLatestState = `
	INSERT INTO relay_latest_state (product, ticker, book, book_updated_at, checkpointed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (product) DO UPDATE SET
		ticker = EXCLUDED.ticker,
		book = EXCLUDED.book,
		book_updated_at = EXCLUDED.book_updated_at,
		checkpointed_at = EXCLUDED.checkpointed_at
`

const selectLatestState = `
	SELECT product, ticker, book, book_updated_at
	FROM relay_latest_state
`

// stateRow is the column form of model.InstrumentState.
type stateRow struct {
	Product       string
	Ticker        []byte
	Book          []byte
	BookUpdatedAt *time.Time
}

// Checkpointer writes Source state to the database on an interval.
type Checkpointer struct {
	cfg     CheckpointConfig
	db      DB
	source  Source
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Fingerprint of the last row written per product
	written map[model.Instrument]string

	// Serializes runs; the ticker loop and Stop may both flush
	runMu sync.Mutex

	statsMu sync.Mutex
	stats   CheckpointStats

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCheckpointer creates a new Checkpointer.
func NewCheckpointer(cfg CheckpointConfig, db DB, source Source, m *metrics.Metrics, logger *slog.Logger) *Checkpointer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckpointConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckpointConfig().Timeout
	}
	return &Checkpointer{
		cfg:     cfg,
		db:      db,
		source:  source,
		metrics: m,
		logger:  logger.With("component", "checkpoint"),
		written: make(map[model.Instrument]string),
	}
}

// Start begins periodic checkpointing.
func (c *Checkpointer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("checkpointer started", "interval", c.cfg.Interval)
	return nil
}

// Stop halts the loop and writes a final checkpoint.
func (c *Checkpointer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if _, err := c.Flush(ctx); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	c.logger.Info("checkpointer stopped")
	return nil
}

// Stats returns current counters.
func (c *Checkpointer) Stats() CheckpointStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Checkpointer) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			if _, err := c.Flush(runCtx); err != nil {
				c.logger.Error("checkpoint failed", "error", err)
			}
			cancel()
		}
	}
}

// Flush writes every changed instrument state and returns the number of
// rows written.
func (c *Checkpointer) Flush(ctx context.Context) (int, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	start := time.Now()
	states := c.source.LatestState()

	var rows []stateRow
	var prints []string
	skipped := 0
	for _, st := range states {
		row, err := toRow(st)
		if err != nil {
			c.logger.Warn("skipping unencodable state", "product", st.Product, "error", err)
			skipped++
			continue
		}
		fp := fingerprint(row)
		if c.written[st.Product] == fp {
			skipped++
			continue
		}
		rows = append(rows, row)
		prints = append(prints, fp)
	}

	var err error
	if len(rows) > 0 {
		err = c.upsert(ctx, rows, start)
	}
	c.metrics.Checkpoint(time.Since(start).Seconds(), err)

	c.statsMu.Lock()
	c.stats.Runs++
	c.stats.LastRun = start
	c.stats.Skipped += int64(skipped)
	if err != nil {
		c.stats.Errors++
	} else {
		c.stats.Rows += int64(len(rows))
	}
	c.statsMu.Unlock()

	if err != nil {
		return 0, err
	}

	for i, row := range rows {
		c.written[model.Instrument(row.Product)] = prints[i]
	}

	if len(rows) > 0 {
		c.logger.Debug("checkpoint written",
			"rows", len(rows),
			"skipped", skipped,
			"duration", time.Since(start),
		)
	}
	return len(rows), nil
}

// upsert writes rows using pgx.Batch with ON CONFLICT DO UPDATE.
func (c *Checkpointer) upsert(ctx context.Context, rows []stateRow, at time.Time) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertLatestState, r.Product, r.Ticker, r.Book, r.BookUpdatedAt, at)
	}

	results := c.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Product, err)
		}
	}
	return nil
}

// Load reads every checkpointed instrument state.
func Load(ctx context.Context, db DB) ([]model.InstrumentState, error) {
	rows, err := db.Query(ctx, selectLatestState)
	if err != nil {
		return nil, fmt.Errorf("query latest state: %w", err)
	}
	defer rows.Close()

	var out []model.InstrumentState
	for rows.Next() {
		var r stateRow
		if err := rows.Scan(&r.Product, &r.Ticker, &r.Book, &r.BookUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan latest state: %w", err)
		}
		st, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read latest state: %w", err)
	}
	return out, nil
}

func toRow(st model.InstrumentState) (stateRow, error) {
	row := stateRow{Product: string(st.Product)}
	if len(st.Ticker) > 0 {
		row.Ticker = st.Ticker
	}
	if st.Book != nil {
		data, err := json.Marshal(st.Book)
		if err != nil {
			return stateRow{}, fmt.Errorf("encode book: %w", err)
		}
		row.Book = data
		if !st.BookUpdatedAt.IsZero() {
			at := st.BookUpdatedAt.UTC()
			row.BookUpdatedAt = &at
		}
	}
	return row, nil
}

func fromRow(r stateRow) (model.InstrumentState, error) {
	st := model.InstrumentState{Product: model.Instrument(r.Product)}
	if len(r.Ticker) > 0 {
		st.Ticker = json.RawMessage(r.Ticker)
	}
	if len(r.Book) > 0 {
		var view model.BookView
		if err := json.Unmarshal(r.Book, &view); err != nil {
			return model.InstrumentState{}, fmt.Errorf("decode book for %s: %w", r.Product, err)
		}
		if view.ProductID == "" {
			view.ProductID = st.Product
		}
		st.Book = &view
	}
	if r.BookUpdatedAt != nil {
		st.BookUpdatedAt = *r.BookUpdatedAt
	}
	return st, nil
}

func fingerprint(r stateRow) string {
	var at int64
	if r.BookUpdatedAt != nil {
		at = r.BookUpdatedAt.UnixNano()
	}
	return fmt.Sprintf("%s|%d|%s", r.Ticker, at, r.Book)
}
