package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"docuvault/engine/internal/blob"
	"docuvault/engine/internal/config"
	"docuvault/engine/internal/engine"
	"docuvault/engine/internal/permcache"
	"docuvault/engine/internal/store"
	"docuvault/engine/internal/sweep"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	blobs, err := blob.NewMinioStore(ctx, cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobUseSSL)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store connection failed")
	}

	var service *engine.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := permcache.NewRedisCache(cfg.RedisURL, cfg.PermCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		log.Info().Msg("permission cache enabled")
		service = engine.NewWithCache(dataStore, blobs, cache, cfg.DefaultAutoReleaseHours)
	} else {
		log.Info().Msg("permission cache disabled")
		service = engine.New(dataStore, blobs, cfg.DefaultAutoReleaseHours)
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeper := sweep.New(service, cfg.SweepInterval, log)
	go sweeper.Run(sweepCtx)

	log.Info().Msg("docuvault engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	stopSweep()
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
