package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/use-agent/feedharvest/api"
	"github.com/use-agent/feedharvest/cache"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/credentials"
	"github.com/use-agent/feedharvest/engine"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/scraper"
	"github.com/use-agent/feedharvest/storage"
	"github.com/use-agent/feedharvest/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("feedharvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxConcurrency", cfg.Collector.MaxConcurrency,
	)

	ctx := context.Background()

	// ── 3. Credentials ──────────────────────────────────────────────
	source, err := credentials.NewSecretSource(ctx, cfg.Secrets)
	if err != nil {
		slog.Error("failed to initialise secret source", "backend", cfg.Secrets.Backend, "error", err)
		os.Exit(1)
	}
	provider := credentials.NewProvider(source, cfg.Secrets.ProxySecretName(), cfg.Moles.Dir)

	// A missing proxy is not fatal: the server comes up degraded and every
	// collection request retries the fetch, answering 503 while it fails.
	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	if err := provider.InitProxy(initCtx); err != nil {
		slog.Error("proxy credentials unavailable, collections disabled", "secret", cfg.Secrets.ProxySecretName(), "error", err)
	}
	cancelInit()

	// ── 4. Result store ─────────────────────────────────────────────
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to initialise result store", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Warn("result store close failed", "error", err)
		}
	}()

	// ── 5. Orchestrator ─────────────────────────────────────────────
	// The worker closure keeps engine/ free of any browser import.
	browser := scraper.NewRodBrowser(cfg.Browser)
	workerCfg := scraper.NewWorkerConfig(cfg.Browser, cfg.Collector)
	work := func(ctx context.Context, spec models.WorkerSpec) ([]models.VideoItem, error) {
		return scraper.NewWorker(spec, workerCfg, browser, provider).Collect(ctx)
	}

	orch := engine.New(engine.OptionsFrom(cfg.Collector), provider, store, work)
	if cfg.Webhook.URL != "" {
		orch.SetNotifier(webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret))
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}

	// ── 6. Cache ────────────────────────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer cc.Close()

	// ── 7. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Collector: orch,
		Moles:     provider,
		Store:     store,
		Cache:     cc,
		StartTime: time.Now(),
	}, cfg)

	// ── 8. Start HTTP server ────────────────────────────────────────
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

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Workers close their browsers and save session state on cancel.
	if orch.Cancel() {
		slog.Info("waiting for active collection to wind down")
		deadline := time.Now().Add(time.Minute)
		for orch.Busy() && time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
		}
	}

	slog.Info("feedharvest stopped")
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
