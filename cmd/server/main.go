// Package main is the entrypoint for the Cadence API and realtime server.
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

	"github.com/kiranshivaraju/cadence/internal/api"
	"github.com/kiranshivaraju/cadence/internal/api/handler"
	mw "github.com/kiranshivaraju/cadence/internal/api/middleware"
	"github.com/kiranshivaraju/cadence/internal/cache"
	"github.com/kiranshivaraju/cadence/internal/config"
	"github.com/kiranshivaraju/cadence/internal/generation"
	"github.com/kiranshivaraju/cadence/internal/notify"
	"github.com/kiranshivaraju/cadence/internal/realtime"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
	notifyTimeout        = 5 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(newLogger(cfg))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"redis", cfg.Redis.URL != "",
		"amqp", cfg.AMQP.URL != "",
		"fault_injection", cfg.Generation.FaultInjection,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Wire caches, registry, hub and router
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// 3. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout. Hijacked websocket connections are not
	// tracked by srv.Shutdown, so the hub closes them first.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("registry shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Server.Development() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// app is the wired server. close releases what build opened.
type app struct {
	handler   http.Handler
	registry  *generation.Registry
	hub       *realtime.Hub
	memory    *cache.MemoryCache
	limiter   cache.Cache
	publisher notify.Publisher
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{memory: cache.NewMemoryCache(cache.WithCleanupInterval(cacheCleanupInterval))}
	a.limiter = a.memory

	// Rate-limit counters go to Redis when configured so limits hold across
	// restarts; snapshots always stay in process memory.
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		a.limiter = rc
	}

	a.publisher = notify.Nop{}
	if cfg.AMQP.URL != "" {
		pub, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		slog.Info("amqp connected", "exchange", cfg.AMQP.Exchange)
		a.publisher = pub
	}

	var faults generation.FaultInjector = generation.NoFaults{}
	if cfg.Generation.FaultInjection {
		faults = generation.DefaultFaults()
	}

	snapshots := generation.NewSnapshots(a.memory, cfg.Generation.SnapshotTTL)
	a.registry = generation.NewRegistry(
		generation.Timing{
			TickInterval:  cfg.Generation.TickInterval,
			TotalDuration: cfg.Generation.TotalDuration,
		},
		generation.WithFaults(faults),
		generation.WithSnapshots(snapshots),
		generation.WithTerminalHook(notify.Hook(a.publisher, notifyTimeout)),
	)
	a.hub = realtime.NewHub(a.registry, realtime.WithAllowedOrigins(cfg.CORS.AllowedOrigins))

	checks := map[string]handler.Pinger{"cache": a.limiter}
	a.handler = api.NewRouter(api.Dependencies{
		RateLimit:      mw.NewRateLimit(a.limiter, cfg.RateLimit.RequestsPerMinute),
		AllowedOrigins: cfg.CORS.AllowedOrigins,

		HealthHandler: handler.NewHealthHandler(handler.HealthDeps{
			Version:     version,
			Checks:      checks,
			Active:      a.registry.Active,
			Connections: a.hub.Connections,
		}),
		GenerateHandler:      handler.NewGenerateHandler(faults, time.Now),
		GetGenerationHandler: handler.NewGetGenerationHandler(a.registry),
		Socket:               a.hub,
	})

	return a, nil
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			slog.Warn("closing publisher", "error", err)
		}
	}
	if a.limiter != nil && a.limiter != cache.Cache(a.memory) {
		a.limiter.Close()
	}
	a.memory.Close()
}
