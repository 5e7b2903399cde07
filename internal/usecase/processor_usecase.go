package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// ProcessorUsecase runs one task message through
// validate, download, transform, upload and report.
type ProcessorUsecase struct {
	storage  domain.ObjectStorage
	engine   domain.FilterEngine
	reporter domain.CompletionReporter
}

func NewProcessorUsecase(
	storage domain.ObjectStorage,
	engine domain.FilterEngine,
	reporter domain.CompletionReporter,
) *ProcessorUsecase {
	return &ProcessorUsecase{
		storage:  storage,
		engine:   engine,
		reporter: reporter,
	}
}

var _ domain.ProcessorService = (*ProcessorUsecase)(nil)

// Process returns StateReported on success. Any failure returns
// StateRejected with an error that is wrapped by domain.Permanent when
// redelivery cannot help.
func (u *ProcessorUsecase) Process(ctx context.Context, msg *domain.TaskMessage) (domain.TaskState, error) {
	log := zlog.Logger.With().
		Str("record_key", msg.RecordKey).
		Str("correlation_id", msg.CorrelationID).
		Int("attempt", msg.Attempt).
		Logger()

	state := domain.StateReceived
	log.Debug().Str("state", string(state)).Msg("task received")

	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Msg("task rejected at validation")
		return domain.StateRejected, domain.Permanent(err)
	}
	state = domain.StateValidated
	log.Debug().Str("state", string(state)).Msg("task validated")

	input, err := u.storage.Get(ctx, msg.InputPath())
	if err != nil {
		log.Error().Err(err).Str("path", msg.InputPath()).Msg("failed to download input image")
		return domain.StateRejected, fmt.Errorf("download %s: %w", msg.InputPath(), err)
	}
	state = domain.StateDownloaded
	log.Debug().Str("state", string(state)).Int("bytes", len(input)).Msg("input downloaded")

	result, err := u.engine.Apply(input, msg.Filters)
	if err != nil {
		log.Warn().Err(err).Msg("failed to transform image")
		return domain.StateRejected, domain.Permanent(fmt.Errorf("transform: %w", err))
	}
	state = domain.StateTransformed
	if result.Anomaly != "" {
		log.Warn().Str("anomaly", result.Anomaly).Msg("filter engine flagged output")
	}
	log.Debug().Str("state", string(state)).Str("format", result.Format).Msg("image transformed")

	if err := u.storage.Put(ctx, msg.OutputPath(), result.Data, domain.ContentType(msg.ImageName)); err != nil {
		log.Error().Err(err).Str("path", msg.OutputPath()).Msg("failed to upload output image")
		return domain.StateRejected, fmt.Errorf("upload %s: %w", msg.OutputPath(), err)
	}
	state = domain.StateUploaded
	log.Debug().Str("state", string(state)).Msg("output uploaded")

	res, err := u.reporter.Report(ctx, domain.CompletionReport{
		RecordKey:     msg.RecordKey,
		BatchID:       msg.BatchID,
		Anomaly:       result.Anomaly,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to report completion")
		if errors.Is(err, domain.ErrImageTaskNotFound) || errors.Is(err, domain.ErrInvalidTask) {
			return domain.StateRejected, domain.Permanent(fmt.Errorf("report: %w", err))
		}
		return domain.StateRejected, fmt.Errorf("report: %w", err)
	}
	state = domain.StateReported
	log.Info().
		Str("state", string(state)).
		Bool("marked", res.Marked).
		Int("remaining", res.Remaining).
		Msg("image processed")

	return state, nil
}
