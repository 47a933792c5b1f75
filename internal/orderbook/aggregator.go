package orderbook

import (
	"time"

	"github.com/rickgao/marketrelay/internal/cache"
	"github.com/rickgao/marketrelay/internal/model"
)

// Aggregator owns the books of all instruments. The book store is safe for
// concurrent use, but a single book must only be mutated by one goroutine
// at a time; callers serialize per instrument.
type Aggregator struct {
	cfg   Config
	books *cache.Store[model.Instrument, *Book]
}

// NewAggregator creates an Aggregator with no books.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		books: cache.New[model.Instrument, *Book](),
	}
}

// Config returns the aggregator settings.
func (a *Aggregator) Config() Config { return a.cfg }

// Snapshot replaces the book for inst and returns its SnapshotView.
func (a *Aggregator) Snapshot(inst model.Instrument, bids, asks []model.PriceLevel, at time.Time) model.BookView {
	book, ok := a.books.Get(inst)
	if !ok {
		book = NewBook(inst, a.cfg)
		a.books.Set(inst, book)
	}
	book.ApplySnapshot(bids, asks, at)
	return book.SnapshotView()
}

// Update applies changes to the book for inst. applied is false when the
// batch was rate limited; err is ErrNotReady when no snapshot exists.
func (a *Aggregator) Update(inst model.Instrument, changes []Change, at time.Time) (view model.BookView, applied bool, err error) {
	book, ok := a.books.Get(inst)
	if !ok {
		return model.BookView{}, false, ErrNotReady
	}
	applied, err = book.ApplyUpdate(changes, at)
	if err != nil || !applied {
		return model.BookView{}, applied, err
	}
	return book.View(), true, nil
}

// View returns the current view for inst if its book is ready.
func (a *Aggregator) View(inst model.Instrument) (model.BookView, bool) {
	book, ok := a.books.Get(inst)
	if !ok || !book.Ready() {
		return model.BookView{}, false
	}
	return book.View(), true
}

// UpdatedAt returns the last applied timestamp for inst.
func (a *Aggregator) UpdatedAt(inst model.Instrument) (time.Time, bool) {
	book, ok := a.books.Get(inst)
	if !ok || !book.Ready() {
		return time.Time{}, false
	}
	return book.UpdatedAt(), true
}

// Restore rebuilds a book from a previously extracted view so that View
// returns the same levels again.
func (a *Aggregator) Restore(inst model.Instrument, view model.BookView, at time.Time) {
	a.Snapshot(inst, reversed(view.Bids), reversed(view.Asks), at)
}

func reversed(levels []model.PriceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, len(levels))
	for i, l := range levels {
		out[len(levels)-1-i] = l
	}
	return out
}
