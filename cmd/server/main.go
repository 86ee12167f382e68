// Package main provides the server entry point for the proxy-cheap
// integration service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/manjotsc/ha-proxy-cheap/internal/api"
	"github.com/manjotsc/ha-proxy-cheap/internal/cache"
	"github.com/manjotsc/ha-proxy-cheap/internal/config"
	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	"github.com/manjotsc/ha-proxy-cheap/internal/dispatcher"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
	"github.com/manjotsc/ha-proxy-cheap/internal/provider"
	"github.com/manjotsc/ha-proxy-cheap/internal/ratelimit"
	"github.com/manjotsc/ha-proxy-cheap/internal/service"
	"github.com/manjotsc/ha-proxy-cheap/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("structured logging initialized")

	client, err := provider.NewClient(&provider.ClientConfig{
		APIKey:    cfg.Provider.APIKey,
		APISecret: cfg.Provider.APISecret,
		BaseURL:   cfg.Provider.BaseURL,
		Timeout:   cfg.Provider.Timeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create provider client")
		os.Exit(1)
	}

	// One limiter instance is shared by the coordinator and the
	// dispatcher so both count against the provider's global ceiling.
	limiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxAttempts:       cfg.RateLimit.MaxAttempts,
		BaseDelay:         cfg.RateLimit.BaseDelay,
		MaxDelay:          cfg.RateLimit.MaxDelay,
		DefaultRetryAfter: cfg.RateLimit.DefaultRetryAfter,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create rate limiter")
		os.Exit(1)
	}

	stateCache := cache.NewStateCache()

	var publisher coordinator.SnapshotPublisher
	if cfg.Redis.Enabled {
		mirror, err := storage.NewSnapshotMirror(&cfg.Redis, cfg.Provider.PollInterval)
		if err != nil {
			logger.WithError(err).Error("failed to connect snapshot mirror")
			os.Exit(1)
		}
		defer mirror.Close()
		publisher = mirror
		logger.Info("redis snapshot mirror enabled")
	}

	coord, err := coordinator.New(&coordinator.Config{
		API:       client,
		Limiter:   limiter,
		Cache:     stateCache,
		Interval:  cfg.Provider.PollInterval,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create coordinator")
		os.Exit(1)
	}

	disp, err := dispatcher.New(&dispatcher.Config{
		API:     client,
		Limiter: limiter,
		Cache:   stateCache,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create dispatcher")
		os.Exit(1)
	}

	svc, err := service.NewProxyService(stateCache, coord, disp)
	if err != nil {
		logger.WithError(err).Error("failed to create service")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start coordinator")
		os.Exit(1)
	}
	defer coord.Stop()

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RequestsPerSec:  cfg.Server.RequestsPerSec,
	}, svc)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("server error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Warn("server shutdown error")
	}
}
