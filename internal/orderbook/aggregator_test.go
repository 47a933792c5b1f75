package orderbook

import (
	"errors"
	"testing"
	"time"

	"github.com/rickgao/marketrelay/internal/model"
)

func TestAggregator_UpdateWithoutSnapshot(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	_, applied, err := a.Update("ETH-USD", []Change{{Side: model.SideBuy, Price: d("1"), Size: d("1")}}, t0)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	if applied {
		t.Error("applied should be false")
	}
	if _, ok := a.View("ETH-USD"); ok {
		t.Error("View should report no book")
	}
}

func TestAggregator_SnapshotThenUpdate(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	view := a.Snapshot("BTC-USD", []model.PriceLevel{lvl("100.00", "1.0")}, []model.PriceLevel{lvl("101.00", "2.0")}, t0)
	assertLevels(t, "snapshot bids", view.Bids, lvl("100", "1"))
	assertLevels(t, "snapshot asks", view.Asks, lvl("101", "2"))

	_, applied, err := a.Update("BTC-USD", []Change{{Side: model.SideBuy, Price: d("100.00"), Size: d("0.5")}}, t0.Add(time.Second))
	if err != nil || applied {
		t.Fatalf("Update inside interval = %v, %v; want false, nil", applied, err)
	}

	view, applied, err = a.Update("BTC-USD", []Change{{Side: model.SideBuy, Price: d("100.00"), Size: d("0.5")}}, t0.Add(8*time.Second))
	if err != nil || !applied {
		t.Fatalf("Update at interval = %v, %v; want true, nil", applied, err)
	}
	assertLevels(t, "bids", view.Bids, lvl("100", "0.5"))

	at, ok := a.UpdatedAt("BTC-USD")
	if !ok || !at.Equal(t0.Add(8*time.Second)) {
		t.Errorf("UpdatedAt = %v, %v", at, ok)
	}

	current, ok := a.View("BTC-USD")
	if !ok {
		t.Fatal("View should report the book")
	}
	assertLevels(t, "view bids", current.Bids, lvl("100", "0.5"))
}

func TestAggregator_RestoreRoundTrip(t *testing.T) {
	for _, ordering := range []Ordering{OrderingInsertion, OrderingPrice} {
		t.Run(string(ordering), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Ordering = ordering
			src := NewAggregator(cfg)
			src.Snapshot("BTC-USD",
				[]model.PriceLevel{lvl("100", "1"), lvl("99", "2"), lvl("98", "3")},
				[]model.PriceLevel{lvl("101", "1"), lvl("102", "2")},
				t0,
			)
			want, _ := src.View("BTC-USD")

			dst := NewAggregator(cfg)
			dst.Restore("BTC-USD", want, t0)

			got, ok := dst.View("BTC-USD")
			if !ok {
				t.Fatal("restored book should be ready")
			}
			assertLevels(t, "bids", got.Bids, want.Bids...)
			assertLevels(t, "asks", got.Asks, want.Asks...)
		})
	}
}

func TestAggregator_SnapshotKeepsFeedOrder(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	view := a.Snapshot("BTC-USD",
		[]model.PriceLevel{lvl("100", "1"), lvl("99", "2"), lvl("98", "3")},
		[]model.PriceLevel{lvl("101", "1"), lvl("102", "2")},
		t0,
	)
	assertLevels(t, "snapshot bids", view.Bids, lvl("100", "1"), lvl("99", "2"), lvl("98", "3"))
	assertLevels(t, "snapshot asks", view.Asks, lvl("101", "1"), lvl("102", "2"))

	// Replays and update broadcasts list the newest level first.
	current, _ := a.View("BTC-USD")
	assertLevels(t, "view bids", current.Bids, lvl("98", "3"), lvl("99", "2"), lvl("100", "1"))

	updated, applied, err := a.Update("BTC-USD", []Change{{Side: model.SideSell, Price: d("103"), Size: d("4")}}, t0.Add(8*time.Second))
	if err != nil || !applied {
		t.Fatalf("Update = %v, %v; want true, nil", applied, err)
	}
	assertLevels(t, "updated asks", updated.Asks, lvl("103", "4"), lvl("102", "2"), lvl("101", "1"))
}

func TestAggregator_SnapshotPriceOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ordering = OrderingPrice
	a := NewAggregator(cfg)

	view := a.Snapshot("BTC-USD",
		[]model.PriceLevel{lvl("99", "2"), lvl("100", "1")},
		[]model.PriceLevel{lvl("102", "2"), lvl("101", "1")},
		t0,
	)
	assertLevels(t, "bids", view.Bids, lvl("100", "1"), lvl("99", "2"))
	assertLevels(t, "asks", view.Asks, lvl("101", "1"), lvl("102", "2"))
}
