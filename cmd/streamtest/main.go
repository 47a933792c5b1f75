// streamtest connects to the Coinbase feed and prints decoded events to the console.
// Usage: go run ./cmd/streamtest --products BTC-USD,ETH-USD
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/marketrelay/internal/config"
	"github.com/rickgao/marketrelay/internal/connection"
	"github.com/rickgao/marketrelay/internal/model"
	"github.com/rickgao/marketrelay/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	products := flag.String("products", "", "comma separated product ids (defaults to the configured instruments)")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	ids := cfg.Instruments
	if *products != "" {
		ids = strings.Split(*products, ",")
	}
	instruments := make([]model.Instrument, 0, len(ids))
	for _, id := range ids {
		instruments = append(instruments, model.Instrument(strings.ToUpper(strings.TrimSpace(id))))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.WSURL = cfg.Upstream.WSURL
	mgrCfg.Channels = cfg.Upstream.Channels
	connMgr := connection.NewManager(mgrCfg, logger)
	connMgr.OnStateChange(func(s connection.State) {
		logger.Info("upstream state", "state", s)
	})

	rtr := router.NewRouter(router.DefaultRouterConfig(), connMgr.Messages(), router.HandlerFunc(func(ev router.Event) {
		printEvent(ev, *verbose)
	}), nil, logger)

	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Subscriptions are replayed once the manager connects.
	if err := connMgr.Subscribe(ctx, instruments); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	if err := connMgr.EnsureConnected(ctx); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				connStats := connMgr.Stats()
				logger.Info("stats",
					"state", connStats.State,
					"generation", connStats.Generation,
					"reconnects", connStats.Reconnects,
					"router_received", routerStats.MessagesReceived,
					"router_routed", routerStats.MessagesRouted,
					"parse_errors", routerStats.ParseErrors,
					"queue_len", routerStats.Queue.Len,
					"queue_high_water", routerStats.Queue.HighWater,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "products", instruments)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvent(ev router.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(ev.FrameType()), data)
		return
	}

	switch e := ev.(type) {
	case router.TickerEvent:
		var t struct {
			Price   string `json:"price"`
			BestBid string `json:"best_bid"`
			BestAsk string `json:"best_ask"`
		}
		json.Unmarshal(e.Raw, &t)
		fmt.Printf("[TICKER] product=%s price=%s bid=%s ask=%s\n", e.Product, t.Price, t.BestBid, t.BestAsk)
	case router.SnapshotEvent:
		fmt.Printf("[SNAPSHOT] product=%s bids=%d asks=%d\n", e.Product, len(e.Bids), len(e.Asks))
	case router.UpdateEvent:
		for _, c := range e.Changes {
			fmt.Printf("[L2UPDATE] product=%s side=%s price=%s size=%s time=%s\n",
				e.Product, c.Side, c.Price, c.Size, e.Time.Format(time.RFC3339Nano))
		}
	}
}
