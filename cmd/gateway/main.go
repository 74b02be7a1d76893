package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/persona-gateway/internal/auth"
	"github.com/af-corp/persona-gateway/internal/config"
	"github.com/af-corp/persona-gateway/internal/gateway"
	"github.com/af-corp/persona-gateway/internal/ratelimit"
	"github.com/af-corp/persona-gateway/internal/rooms"
	"github.com/af-corp/persona-gateway/internal/router"
	"github.com/af-corp/persona-gateway/internal/telemetry"
	"github.com/af-corp/persona-gateway/internal/ws"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Redis backs rate-limit counters and the stored-token cache. Without it
	// both degrade to in-process state.
	var rdb redis.Cmdable
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (rate limits fall back to in-process windows)", "error", err)
		} else {
			logger.Info("redis connected")
		}
		rdb = client
	}

	// Stored tokens are optional; the static allow-set always applies.
	var tokenStore auth.TokenStore
	if cfg.Database.Enabled {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(1)
		}
		if cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		if err := dbPool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (stored tokens will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		tokenStore = auth.NewCachedTokenStore(dbPool, rdb)
	}

	// Routing core. Breaker state survives reloads; the router snapshot does not.
	health := router.NewHealthTracker(
		cfg.Routing.CircuitBreaker.FailureThreshold,
		cfg.Routing.CircuitBreaker.RecoveryProbeInterval,
	)
	initial, err := router.Build(cfg, loader.Providers(), loader.Aliases(), health, logger)
	if err != nil {
		logger.Error("no usable provider configured", "error", err)
		os.Exit(1)
	}
	holder := router.NewHolder(initial)

	authn := auth.NewAuthenticator(cfg.Auth, tokenStore, logger)
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit, metrics, logger)
	go limiter.Run(ctx)

	wsServer := ws.NewServer(ws.Options{
		Router:        holder,
		Auth:          authn,
		Limiter:       limiter,
		Rooms:         rooms.NewRegistry(),
		Metrics:       metrics,
		Logger:        logger,
		Config:        cfg.WebSocket,
		StreamEnabled: cfg.AI.StreamEnabled,
	})

	loader.OnReload(func() {
		newCfg := loader.Config()
		next, err := router.Build(newCfg, loader.Providers(), loader.Aliases(), health, logger)
		if err != nil {
			metrics.RecordConfigReload("error")
			logger.Error("router reload rejected, keeping previous configuration", "error", err)
			return
		}
		holder.Store(next)
		wsServer.SetStreamEnabled(newCfg.AI.StreamEnabled)
		metrics.RecordConfigReload("ok")
		logger.Info("router reloaded", "providers", next.Providers(), "default_alias", next.DefaultAlias())
	})

	handler := gateway.NewHandler(holder, func() bool {
		return loader.Config().AI.StreamEnabled
	}, metrics, logger)

	mux := gateway.NewRouter(gateway.RouterDeps{
		Handler:     handler,
		WS:          wsServer,
		Auth:        authn,
		Limiter:     limiter,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MetricsPath: cfg.Telemetry.MetricsPath,
		Version:     version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// No WriteTimeout: streams and WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version,
			"providers", initial.Providers(), "stream_enabled", cfg.AI.StreamEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	wsServer.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
