package orderbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketrelay/internal/model"
)

// ErrNotReady is returned when a delta arrives before any snapshot.
var ErrNotReady = errors.New("order book has no snapshot")

// Ordering selects how View picks and orders levels.
type Ordering string

const (
	OrderingInsertion Ordering = "insertion"
	OrderingPrice     Ordering = "price"
)

// Config holds aggregator settings.
type Config struct {
	Depth             int           // Levels kept from a snapshot and returned per side by View
	MinUpdateInterval time.Duration // Deltas closer than this to the last applied update are dropped
	Ordering          Ordering
	DropEmptyLevels   bool // Remove a level when its size becomes zero
}

// DefaultConfig returns the default settings: ten levels, an eight second
// update interval and insertion ordering.
func DefaultConfig() Config {
	return Config{
		Depth:             10,
		MinUpdateInterval: 8 * time.Second,
		Ordering:          OrderingInsertion,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Depth < 1 {
		return fmt.Errorf("depth must be >= 1, got %d", c.Depth)
	}
	if c.MinUpdateInterval < 0 {
		return fmt.Errorf("min update interval must be >= 0, got %s", c.MinUpdateInterval)
	}
	switch c.Ordering {
	case OrderingInsertion, OrderingPrice:
	default:
		return fmt.Errorf("unknown ordering %q", c.Ordering)
	}
	return nil
}

// Change is one price level change from an l2update.
type Change struct {
	Side  model.Side
	Price decimal.Decimal
	Size  decimal.Decimal // Absolute size, not a delta
}

// Book is the order-book state of one instrument. It is not safe for
// concurrent use.
type Book struct {
	cfg       Config
	product   model.Instrument
	bids      *bookSide
	asks      *bookSide
	updatedAt time.Time
	ready     bool
}

// NewBook creates an uninitialized book.
func NewBook(product model.Instrument, cfg Config) *Book {
	return &Book{
		cfg:     cfg,
		product: product,
		bids:    newBookSide(cfg.Depth),
		asks:    newBookSide(cfg.Depth),
	}
}

// Ready reports whether a snapshot has been applied.
func (b *Book) Ready() bool { return b.ready }

// UpdatedAt returns the timestamp of the last applied snapshot or delta.
func (b *Book) UpdatedAt() time.Time { return b.updatedAt }

// ApplySnapshot discards prior state and keeps the first Depth levels of
// each side.
func (b *Book) ApplySnapshot(bids, asks []model.PriceLevel, at time.Time) {
	b.bids = newBookSide(b.cfg.Depth)
	b.asks = newBookSide(b.cfg.Depth)
	for _, l := range bids[:min(len(bids), b.cfg.Depth)] {
		b.bids.set(l.Price, l.Size)
	}
	for _, l := range asks[:min(len(asks), b.cfg.Depth)] {
		b.asks.set(l.Price, l.Size)
	}
	b.updatedAt = at
	b.ready = true
}

// ApplyUpdate applies a batch of changes stamped at. It returns false
// without error when the batch falls inside MinUpdateInterval, and
// ErrNotReady when no snapshot has been seen.
func (b *Book) ApplyUpdate(changes []Change, at time.Time) (bool, error) {
	if !b.ready {
		return false, ErrNotReady
	}
	if at.Sub(b.updatedAt) < b.cfg.MinUpdateInterval {
		return false, nil
	}

	for _, c := range changes {
		var s *bookSide
		switch c.Side {
		case model.SideBuy:
			s = b.bids
		case model.SideSell:
			s = b.asks
		default:
			continue
		}
		if b.cfg.DropEmptyLevels && c.Size.IsZero() {
			s.remove(c.Price)
			continue
		}
		s.set(c.Price, c.Size)
	}

	b.updatedAt = at
	return true, nil
}

// View returns at most Depth levels per side.
func (b *Book) View() model.BookView {
	view := model.BookView{ProductID: b.product}
	switch b.cfg.Ordering {
	case OrderingPrice:
		view.Bids = b.bids.highest(b.cfg.Depth)
		view.Asks = b.asks.lowest(b.cfg.Depth)
	default:
		view.Bids = b.bids.newest(b.cfg.Depth)
		view.Asks = b.asks.newest(b.cfg.Depth)
	}
	return view
}

// SnapshotView is the view broadcast right after a snapshot. With insertion
// ordering the levels keep the order the snapshot listed them in; every
// later View lists them newest first.
func (b *Book) SnapshotView() model.BookView {
	if b.cfg.Ordering == OrderingPrice {
		return b.View()
	}
	return model.BookView{
		ProductID: b.product,
		Bids:      b.bids.oldest(b.cfg.Depth),
		Asks:      b.asks.oldest(b.cfg.Depth),
	}
}

// Size returns the size stored at price on side.
func (b *Book) Size(side model.Side, price decimal.Decimal) (decimal.Decimal, bool) {
	switch side {
	case model.SideBuy:
		return b.bids.get(price)
	case model.SideSell:
		return b.asks.get(price)
	}
	return decimal.Zero, false
}
