package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/imagehub/internal/api"
	"github.com/dunamismax/imagehub/internal/config"
	"github.com/dunamismax/imagehub/internal/ratelimit"
	"github.com/dunamismax/imagehub/internal/storage"
	"github.com/dunamismax/imagehub/internal/store"
	"github.com/dunamismax/imagehub/internal/telemetry"
	"github.com/dunamismax/imagehub/internal/transform"
	"github.com/dunamismax/imagehub/internal/validate"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	records, closeStore, err := buildRecordStore(cfg, logger)
	if err != nil {
		logger.Fatalf("record store setup failed: %v", err)
	}
	defer closeStore()

	validator := validate.New(cfg.Storage.MaxUploadBytes, cfg.Storage.AllowedFormats)
	svc, err := storage.NewService(logger, cfg.Storage.Root, records, validator)
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	pipeline := transform.NewPipeline(logger, records, transform.DefaultStrategies(logger))
	app := api.NewServer(logger, svc, pipeline, cfg.Storage.MaxUploadBytes, cfg.API.UserIDHeader)

	if cfg.RateLimit.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		app.SetRateLimiter(limiter)
		logger.Printf("rate limiting enabled redis=%s capacity=%d window=%s",
			cfg.RateLimit.RedisAddr, cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s storage_root=%s", cfg.API.Addr, cfg.Storage.Root)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func buildRecordStore(cfg config.Config, logger *log.Logger) (store.RecordStore, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Printf("using in-memory record store")
		return store.NewMemoryRecordStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresRecordStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("using postgres record store")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("record store close error: %v", err)
		}
	}, nil
}
