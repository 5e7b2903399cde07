// Package bootstrap holds the wiring shared by the api and worker binaries.
package bootstrap

import (
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
	wbfretry "github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
	infradatabase "github.com/yokitheyo/batchflow/internal/infrastructure/database"
	"github.com/yokitheyo/batchflow/internal/infrastructure/kafka"
	"github.com/yokitheyo/batchflow/internal/infrastructure/processor"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/repository/memory"
	"github.com/yokitheyo/batchflow/internal/repository/postgres"
	"github.com/yokitheyo/batchflow/internal/usecase"
	"github.com/yokitheyo/batchflow/internal/worker"
)

func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zlog.Logger.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// NewRepository returns the record store and, for postgres, the pools the
// caller must close.
func NewRepository(cfg *config.Config, strategy wbfretry.Strategy) (domain.BatchRepository, *dbpg.DB, error) {
	if cfg.Database.Driver == "memory" {
		zlog.Logger.Warn().Msg("Using in-memory record store; state is lost on restart and not shared between processes")
		return memory.NewBatchRepository(), nil, nil
	}

	database, err := infradatabase.Connect(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	zlog.Logger.Info().Msg("Running database migrations...")
	if err := infradatabase.RunMigrations(database, cfg.Migrations.Path); err != nil {
		infradatabase.Close(database)
		return nil, nil, err
	}
	return postgres.NewBatchRepository(database, strategy), database, nil
}

// NewWorkerPool builds worker.concurrency Kafka consumers around one
// processing pipeline. Requeued tasks go back through taskProducer. The
// returned func closes the dead-letter producer.
func NewWorkerPool(
	cfg *config.Config,
	strategy wbfretry.Strategy,
	objects storage.Storage,
	reporter domain.CompletionReporter,
	taskProducer *kafka.Producer,
) (*worker.Pool, func()) {
	deadLetter := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, strategy)
	processorUsecase := usecase.NewProcessorUsecase(objects, processor.NewImageProcessor(&cfg.Processing), reporter)

	backoff := kafka.BackoffFromConfig(cfg.Worker)
	consumers := make([]worker.Consumer, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		consumers = append(consumers, kafka.NewConsumer(&cfg.Kafka, cfg.Worker.MaxAttempts, strategy, backoff, taskProducer, deadLetter))
	}

	zlog.Logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_attempts", cfg.Worker.MaxAttempts).
		Str("dead_letter_topic", cfg.Kafka.DeadLetterTopic).
		Msg("Worker pool configured")

	return worker.NewPool(worker.NewImageWorker(processorUsecase), consumers...), func() { _ = deadLetter.Close() }
}
