package orderbook

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/rickgao/marketrelay/internal/model"
)

// bookSide keeps one side of a book in two shapes: first-insertion order
// (a price keeps its slot when overwritten) and price order.
type bookSide struct {
	index  map[string]int // canonical price -> position in levels
	levels []model.PriceLevel
	sorted *btree.BTreeG[model.PriceLevel]
}

func newBookSide(capacity int) *bookSide {
	return &bookSide{
		index:  make(map[string]int, capacity),
		levels: make([]model.PriceLevel, 0, capacity),
		sorted: btree.NewBTreeGOptions(lessByPrice, btree.Options{NoLocks: true}),
	}
}

func lessByPrice(a, b model.PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

// priceKey normalizes a price so "100.00" and "100.0" address the same level.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

func (s *bookSide) len() int { return len(s.levels) }

// set inserts or overwrites the size at price.
func (s *bookSide) set(price, size decimal.Decimal) {
	level := model.PriceLevel{Price: price, Size: size}
	key := priceKey(price)
	if i, ok := s.index[key]; ok {
		s.levels[i] = level
	} else {
		s.index[key] = len(s.levels)
		s.levels = append(s.levels, level)
	}
	s.sorted.Set(level)
}

// remove deletes the level at price, if present.
func (s *bookSide) remove(price decimal.Decimal) {
	key := priceKey(price)
	i, ok := s.index[key]
	if !ok {
		return
	}
	s.sorted.Delete(s.levels[i])
	delete(s.index, key)
	s.levels = append(s.levels[:i], s.levels[i+1:]...)
	for j := i; j < len(s.levels); j++ {
		s.index[priceKey(s.levels[j].Price)] = j
	}
}

func (s *bookSide) get(price decimal.Decimal) (decimal.Decimal, bool) {
	i, ok := s.index[priceKey(price)]
	if !ok {
		return decimal.Zero, false
	}
	return s.levels[i].Size, true
}

// newest returns the last n inserted levels, newest first.
func (s *bookSide) newest(n int) []model.PriceLevel {
	n = max(0, min(n, len(s.levels)))
	out := make([]model.PriceLevel, 0, n)
	for i := len(s.levels) - 1; i >= len(s.levels)-n; i-- {
		out = append(out, s.levels[i])
	}
	return out
}

// oldest returns the first n inserted levels in insertion order.
func (s *bookSide) oldest(n int) []model.PriceLevel {
	n = max(0, min(n, len(s.levels)))
	return append([]model.PriceLevel(nil), s.levels[:n]...)
}

// highest returns up to n levels by descending price.
func (s *bookSide) highest(n int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, max(0, min(n, s.len())))
	if n <= 0 {
		return out
	}
	s.sorted.Reverse(func(l model.PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}

// lowest returns up to n levels by ascending price.
func (s *bookSide) lowest(n int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, max(0, min(n, s.len())))
	if n <= 0 {
		return out
	}
	s.sorted.Scan(func(l model.PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}
