package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/bootstrap"
	"github.com/yokitheyo/batchflow/internal/config"
	infradatabase "github.com/yokitheyo/batchflow/internal/infrastructure/database"
	"github.com/yokitheyo/batchflow/internal/infrastructure/kafka"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/retry"
	"github.com/yokitheyo/batchflow/internal/usecase"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Batchflow Worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := "config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "/app/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetLogLevel(cfg.Logging.Level)

	if cfg.Database.Driver == "memory" {
		zlog.Logger.Fatal().Msg("The worker needs a shared record store; use database.driver=postgres or run the api with worker.embedded=true")
	}

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

	// Reports go straight to the aggregator over the shared record store.
	aggregator := usecase.NewAggregatorUsecase(repo, kafka.NewNotificationProducer(notificationProducer), cfg.Notification.PublicURL)

	pool, closePool := bootstrap.NewWorkerPool(cfg, strategy, storageService, aggregator, taskProducer)
	defer closePool()

	if err := pool.Run(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("Worker pool stopped with error")
	}

	zlog.Logger.Info().Msg("Worker shutdown complete")
}
