// relay serves Coinbase ticker and level 2 data to websocket clients over a
// single shared upstream connection.
// Usage: go run ./cmd/relay --config configs/relay.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketrelay/internal/api"
	"github.com/rickgao/marketrelay/internal/config"
	"github.com/rickgao/marketrelay/internal/connection"
	"github.com/rickgao/marketrelay/internal/database"
	"github.com/rickgao/marketrelay/internal/instrument"
	"github.com/rickgao/marketrelay/internal/metrics"
	"github.com/rickgao/marketrelay/internal/orderbook"
	"github.com/rickgao/marketrelay/internal/relay"
	"github.com/rickgao/marketrelay/internal/router"
	"github.com/rickgao/marketrelay/internal/server"
	"github.com/rickgao/marketrelay/internal/version"
	"github.com/rickgao/marketrelay/internal/writer"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	envFile := flag.String("env-file", ".env", "optional env file loaded before the config")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := config.LoadEnvFile(*envFile); err != nil {
		bootLogger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting relay", version.Attr(), "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func loadConfig(path string) (*config.RelayConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) error {
	instruments, err := instrument.New(cfg.Instruments)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"instruments", cfg.Instruments,
		"upstream", cfg.Upstream.WSURL,
		"addr", cfg.Server.Addr,
	)

	// Metrics
	var m *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Order books and engine
	bookCfg := orderbook.Config{
		Depth:             cfg.Orderbook.Depth,
		MinUpdateInterval: cfg.Orderbook.MinUpdateInterval,
		Ordering:          orderbook.Ordering(cfg.Orderbook.Ordering),
		DropEmptyLevels:   cfg.Orderbook.DropEmptyLevels,
	}
	if err := bookCfg.Validate(); err != nil {
		return err
	}
	books := orderbook.NewAggregator(bookCfg)

	manager := connection.NewManager(managerConfig(cfg.Upstream), logger)
	engine := relay.NewEngine(instruments, manager, books, m, logger)
	manager.OnStateChange(engine.UpstreamStateChanged)

	// Startup checks run concurrently; neither is fatal to serving.
	var pool *pgxpool.Pool
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Upstream.VerifyProducts {
		g.Go(func() error {
			client := api.NewClient(cfg.Upstream.RestURL, api.WithLogger(logger))
			checks := client.VerifyProducts(gctx, cfg.Instruments)
			ok := 0
			for _, c := range checks {
				if c.OK() {
					ok++
				}
			}
			logger.Info("products verified", "ok", ok, "total", len(checks))
			return nil
		})
	}
	if cfg.Database.Enabled {
		g.Go(func() error {
			var err error
			pool, err = database.Open(gctx, cfg.Database)
			if err != nil {
				return err
			}
			states, err := writer.Load(gctx, pool)
			if err != nil {
				logger.Warn("checkpoint load failed, starting cold", "error", err)
				return nil
			}
			logger.Info("restored checkpoint", "instruments", engine.Restore(states))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if pool != nil {
			pool.Close()
		}
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// Upstream feed and router
	if err := manager.Start(ctx); err != nil {
		return err
	}
	rt := router.NewRouter(router.DefaultRouterConfig(), manager.Messages(), engine, m, logger)
	if err := rt.Start(ctx); err != nil {
		return err
	}

	var checkpointer *writer.Checkpointer
	if pool != nil {
		checkpointer = writer.NewCheckpointer(writer.CheckpointConfig{
			Interval: cfg.Database.CheckpointInterval,
		}, pool, engine, m, logger)
		if err := checkpointer.Start(ctx); err != nil {
			return err
		}
	}

	srv := server.New(serverConfig(cfg), engine, m, metricsHandler, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	logger.Info("relay running", "addr", srv.Addr())

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Clients first so their unsubscribes reach the manager, then the feed.
	var errs []error
	errs = append(errs, srv.Stop(shutdownCtx))
	errs = append(errs, manager.Stop(shutdownCtx))
	errs = append(errs, rt.Stop(shutdownCtx))
	if checkpointer != nil {
		errs = append(errs, checkpointer.Stop(shutdownCtx))
	}
	return errors.Join(errs...)
}

func managerConfig(up config.UpstreamConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.WSURL = up.WSURL
	mc.Channels = up.Channels
	mc.ConnectTimeout = up.ConnectTimeout
	mc.ReconnectBaseWait = up.ReconnectBaseDelay
	mc.ReconnectMaxWait = up.ReconnectMaxDelay
	mc.Client.HandshakeTimeout = up.ConnectTimeout
	mc.Client.PingInterval = up.PingInterval
	mc.Client.PingTimeout = up.PingTimeout
	mc.Client.WriteTimeout = up.WriteTimeout
	return mc
}

func serverConfig(cfg *config.RelayConfig) server.Config {
	sc := server.DefaultConfig()
	sc.Addr = cfg.Server.Addr
	sc.SendBuffer = cfg.Server.SendBuffer
	sc.WriteTimeout = cfg.Server.WriteTimeout
	sc.PongWait = cfg.Server.PongWait
	sc.MetricsPath = ""
	if cfg.Metrics.Enabled {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc
}
