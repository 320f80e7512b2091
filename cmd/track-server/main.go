// Command track-server exposes batched shipment tracking over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/ups-track-resolver/pkg/client"
	"github.com/Sternrassler/ups-track-resolver/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := loadConfig()
	logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.NewLogger("track-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Redis (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid Redis configuration")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", opts.Addr).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", opts.Addr).Msg("Connected to Redis")
		cfg.Client.Redis = redisClient
	}

	upsClient, err := client.New(cfg.Client)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create tracking client")
	}
	defer upsClient.Close()

	srv := &server{
		lookup:  upsClient,
		resolve: cfg.Resolve,
		redis:   redisClient,
		logger:  logger,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("upstream", cfg.Client.BaseURL).
		Int("batch_size", cfg.Resolve.BatchSize).
		Int("max_attempts", cfg.Resolve.MaxAttempts).
		Dur("base_delay", cfg.Resolve.BaseDelay).
		Msg("Starting tracking server")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}

	logger.Info().Msg("Server stopped")
}
