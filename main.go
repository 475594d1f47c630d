package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/auth"
	"github.com/talentpath/orchestrator/internal/config"
	"github.com/talentpath/orchestrator/internal/guard"
	"github.com/talentpath/orchestrator/internal/health"
	"github.com/talentpath/orchestrator/internal/httpapi"
	"github.com/talentpath/orchestrator/internal/results"
	"github.com/talentpath/orchestrator/internal/store"
	"github.com/talentpath/orchestrator/internal/transport"
	"github.com/talentpath/orchestrator/internal/tuning"
	"github.com/talentpath/orchestrator/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	tun := tuning.Current()

	guardOpts := []guard.Option{guard.WithCooldown(tun.Cooldown)}
	if tun.RatePerMinute > 0 {
		guardOpts = append(guardOpts, guard.WithRateLimit(tun.RatePerMinute, time.Minute))
	}
	registry := guard.NewRegistry(kv, logger, guardOpts...)

	client := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.APITimeout(),
	}, logger)

	balance := api.NewBalanceTracker(client, logger)
	fetcher := results.NewFetcher(client, logger)

	// Each submission attempt gets a fresh socket channel, poller, and
	// coordinator; tunables are re-read so a hot reload applies to the next
	// attempt without restarting.
	monitors := func() workflow.Monitor {
		t := tuning.Current()
		poller := transport.NewPoller(client, logger, t.PollInterval, t.PollMaxAttempts)
		var sock transport.SocketTransport
		if cfg.Socket.Enabled && cfg.Socket.URL != "" && auth.Usable(cfg.API.Token, time.Now) {
			sock = transport.NewChannel(cfg.Socket.URL, logger)
		}
		return transport.NewCoordinator(sock, poller, cfg.API.Token, logger,
			transport.WithGracePeriod(t.SocketGrace))
	}

	machine := workflow.NewMachine(client, registry, monitors, fetcher, logger,
		workflow.WithTimeout(tun.OverallTimeout),
		workflow.WithTokenBalance(balance))
	defer machine.Close()

	healthMgr := health.NewManager(logger)
	if pinger, ok := kv.(health.Pinger); ok {
		healthMgr.RegisterChecker(health.NewStoreChecker("store", pinger))
	}
	if cfg.API.BaseURL != "" {
		healthMgr.RegisterChecker(health.NewAPIChecker(cfg.API.BaseURL))
	}
	healthMgr.Start(ctx)
	defer healthMgr.Stop()

	// Hot reload of transport tunables.
	if watcher, err := config.NewWatcher("./config", logger); err == nil {
		watcher.RegisterHandler("transport.yaml", func(string) error {
			tuning.Reload()
			logger.Info("Transport tuning reloaded")
			return nil
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	} else {
		logger.Debug("Config watcher unavailable", zap.Error(err))
	}

	mux := http.NewServeMux()
	handler := httpapi.NewHandler(machine, logger)
	handler.RegisterRoutes(mux)
	healthMgr.RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE stream stays open
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	machine.Cancel(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisPassword, logger)
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
