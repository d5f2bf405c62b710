package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/bridge"
	"github.com/haasonsaas/chanbridge/internal/config"
	"github.com/haasonsaas/chanbridge/internal/gateway"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/ratelimit"
)

// runServe loads configuration, wires storage and telemetry into the bridge and
// serves until a shutdown signal or a server error.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewSlogLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting chanbridge",
		"version", version,
		"commit", commit,
		"config", configPath,
		"database", cfg.Database.Driver,
		"http_addr", cfg.Server.Addr(),
	)

	stores, channelFile, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}()
	if channelFile != nil {
		defer channelFile.Close() //nolint:errcheck
		if cfg.ChannelsFile.Watch {
			if err := channelFile.StartWatching(ctx, cfg.ChannelsFile.WatchDebounce); err != nil {
				return fmt.Errorf("watch channels file: %w", err)
			}
		}
	}

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer auditLogger.Close() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer := observability.NewTracer(cfg.Tracing)
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	var validator bridge.TokenValidator
	if tokens := auth.NewAdminTokenService(cfg.Auth.AdminTokenSecret, cfg.Auth.AdminTokenTTL); tokens != nil {
		validator = tokens.Validator()
		logger.Info("admin token authentication enabled", "ttl", cfg.Auth.AdminTokenTTL)
	}

	bridgeServer, err := bridge.NewServer(bridge.Options{
		Channels:       stores.Channels,
		History:        stores.History,
		TokenValidator: validator,
		Limits:         bridgeLimits(cfg.Bridge),
		Logger:         logger,
		Audit:          auditLogger,
		Metrics:        metrics,
		Tracer:         tracer,
		ConnectLimiter: ratelimit.NewLimiter(cfg.Bridge.ConnectRateLimit),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bridge: %w", err)
	}

	server, err := gateway.New(gateway.Options{
		Config:   cfg.Server,
		Bridge:   bridgeServer,
		Gatherer: registry,
		LockKey:  lockKey(cfg),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("chanbridge started", "addr", server.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err, ok := <-server.Done():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown failed: %w", err))
	}
	logger.Info("chanbridge stopped")
	return serveErr
}

func bridgeLimits(b config.BridgeConfig) bridge.Limits {
	limits := bridge.DefaultLimits()
	limits.AuthTimeout = b.AuthTimeout
	limits.MaxAuthAttempts = b.MaxAuthAttempts
	limits.KeepaliveInterval = b.KeepaliveInterval
	limits.WriteTimeout = b.WriteTimeout
	limits.MaxFrameBytes = b.MaxFrameBytes
	limits.MaxBufferedBytes = b.MaxBufferedBytes
	limits.HistoryDefaultLimit = b.HistoryDefaultLimit
	limits.HistoryMaxLimit = b.HistoryMaxLimit
	limits.UpstreamDialTimeout = b.UpstreamDialTimeout
	limits.UpstreamDialAttempts = b.UpstreamDialAttempts
	return limits
}
