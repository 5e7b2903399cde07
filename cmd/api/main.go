package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/bootstrap"
	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
	httpHandler "github.com/yokitheyo/batchflow/internal/handler/http"
	"github.com/yokitheyo/batchflow/internal/handler/middleware"
	"github.com/yokitheyo/batchflow/internal/infrastructure/cache"
	infradatabase "github.com/yokitheyo/batchflow/internal/infrastructure/database"
	"github.com/yokitheyo/batchflow/internal/infrastructure/kafka"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/retry"
	"github.com/yokitheyo/batchflow/internal/usecase"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Batchflow API Server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("")
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetLogLevel(cfg.Logging.Level)

	strategy := retry.FromConfig(cfg.Retry)

	repo, database, err := bootstrap.NewRepository(cfg, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize record store")
	}
	defer infradatabase.Close(database)

	storageService, err := storage.New(ctx, &cfg.Storage, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	taskProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TaskTopic, strategy)
	defer taskProducer.Close()
	notificationProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, strategy)
	defer notificationProducer.Close()

	var batchCache domain.BatchCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisBatchCache(ctx, &cfg.Cache)
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("Redis cache unavailable, serving status from the store only")
		} else {
			batchCache = redisCache
			defer redisCache.Close()
		}
	}

	aggregator := usecase.NewAggregatorUsecase(repo, kafka.NewNotificationProducer(notificationProducer), cfg.Notification.PublicURL)
	dispatcher := usecase.NewDispatchUsecase(repo, kafka.NewTaskProducer(taskProducer))
	batches := usecase.NewBatchUsecase(repo, storageService, batchCache, int64(cfg.Server.MaxUploadSizeMB)*1024*1024)

	engine := ginext.New(cfg.Server.GinMode)
	engine.Use(
		middleware.ErrorHandlerMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.CORSMiddleware(cfg.Server.AllowedOrigins...),
	)

	engine.GET("/health", func(c *ginext.Context) {
		c.JSON(http.StatusOK, ginext.H{"status": "ok"})
	})

	batchHandler := httpHandler.NewBatchHandler(batches, dispatcher, aggregator, cfg.Server.MaxUploadSizeMB)
	batchHandler.RegisterRoutes(engine)

	poolDone := make(chan struct{})
	if cfg.Worker.Embedded {
		pool, closePool := bootstrap.NewWorkerPool(cfg, strategy, storageService, aggregator, taskProducer)
		defer closePool()
		go func() {
			defer close(poolDone)
			if err := pool.Run(ctx); err != nil {
				zlog.Logger.Error().Err(err).Msg("Embedded worker pool stopped with error")
			}
		}()
	} else {
		close(poolDone)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	} else {
		zlog.Logger.Info().Msg("HTTP server stopped gracefully")
	}

	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		zlog.Logger.Warn().Msg("Embedded worker pool did not stop before shutdown timeout")
	}

	zlog.Logger.Info().Msg("API shutdown complete")
}
