package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlot/lotwatch/api"
	"github.com/openlot/lotwatch/browser"
	"github.com/openlot/lotwatch/cache"
	"github.com/openlot/lotwatch/config"
	"github.com/openlot/lotwatch/extract"
	"github.com/openlot/lotwatch/metrics"
	"github.com/openlot/lotwatch/retry"
	"github.com/openlot/lotwatch/scrape"
	"github.com/openlot/lotwatch/targets"
	"github.com/openlot/lotwatch/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("lotwatch starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"poolSize", cfg.Pool.Size,
		"targetsFile", cfg.TargetsFile,
	)

	// ── 3. Load target definitions ──────────────────────────────────
	reg, err := targets.Load(cfg.TargetsFile)
	if err != nil {
		slog.Error("failed to load targets", "file", cfg.TargetsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("targets loaded", "count", reg.Len())

	// ── 4. Launch browser and fill the session pool ─────────────────
	engine, err := browser.NewRodEngine(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	pool, err := browser.NewPool(engine, cfg.Pool)
	if err != nil {
		slog.Error("failed to fill session pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// ── 5. Wire the scrape pipeline ─────────────────────────────────
	m := metrics.New()
	m.RegisterPoolGauges(
		func() float64 { return float64(pool.Stats().Capacity) },
		func() float64 { return float64(pool.Stats().Leased) },
	)

	extractor := extract.NewExtractor(cfg.Browser.NavigationTimeout)
	httpFetch := extract.NewHTTPFetcher(cfg.Browser.Proxy, cfg.Scrape.HTTPTimeout)
	retrier := retry.NewController(cfg.Retry, m)
	runner := scrape.NewRunner(pool, extractor, httpFetch, retrier)

	cc, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.IdleEviction, cfg.Cache.SweepInterval)
	if err != nil {
		slog.Error("failed to create cache", "error", err)
		os.Exit(1)
	}
	defer cc.Stop()

	notifier := webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
	co := scrape.NewCoordinator(cc, runner, cfg.Scrape.RefreshTimeout, cfg.Cache.DefaultTTL, m, notifier)

	// ── 6. Setup router and start HTTP server ───────────────────────
	startTime := time.Now()
	router := api.NewRouter(reg, co, pool, cfg, m, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Deferred teardown drains the pool, kills Chrome and stops the
	// cache sweeper.
	slog.Info("lotwatch stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
