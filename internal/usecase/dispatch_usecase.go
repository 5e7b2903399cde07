package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// DispatchUsecase fans a batch out into one task message per image.
type DispatchUsecase struct {
	repo      domain.BatchRepository
	publisher domain.TaskPublisher
}

func NewDispatchUsecase(repo domain.BatchRepository, publisher domain.TaskPublisher) *DispatchUsecase {
	return &DispatchUsecase{
		repo:      repo,
		publisher: publisher,
	}
}

var _ domain.DispatchService = (*DispatchUsecase)(nil)

// Dispatch does not deduplicate. Calling it twice for the same batch emits
// every message twice, which workers and the aggregator tolerate.
func (u *DispatchUsecase) Dispatch(ctx context.Context, batchID uuid.UUID) (*domain.DispatchResult, error) {
	batch, err := u.repo.GetBatch(ctx, batchID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to load batch for dispatch")
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch.IsCompleted() {
		zlog.Logger.Warn().Str("batch_id", batchID.String()).Msg("dispatch requested for completed batch")
		return nil, domain.ErrBatchCompleted
	}

	tasks, err := u.repo.ListImageTasks(ctx, batchID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to list image tasks")
		return nil, fmt.Errorf("list image tasks: %w", err)
	}
	if len(tasks) == 0 {
		zlog.Logger.Warn().Str("batch_id", batchID.String()).Msg("batch has no image tasks")
		return nil, domain.ErrEmptyBatch
	}

	changed, err := u.repo.MarkInProgress(ctx, batchID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to mark batch in progress")
		return nil, fmt.Errorf("mark in progress: %w", err)
	}
	if !changed {
		zlog.Logger.Info().Str("batch_id", batchID.String()).Str("status", string(batch.Status)).Msg("batch already dispatched, emitting again")
	}

	result := &domain.DispatchResult{BatchID: batchID}
	for _, task := range tasks {
		msg := domain.NewTaskMessage(task)
		if err := u.publisher.PublishTask(ctx, msg); err != nil {
			result.Failed++
			zlog.Logger.Error().
				Err(err).
				Str("batch_id", batchID.String()).
				Str("record_key", msg.RecordKey).
				Msg("failed to publish task message")
			continue
		}
		result.Enqueued++
	}

	zlog.Logger.Info().
		Str("batch_id", batchID.String()).
		Int("enqueued", result.Enqueued).
		Int("failed", result.Failed).
		Msg("batch dispatched")

	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d", domain.ErrPartialDispatch, result.Failed, len(tasks))
	}
	return result, nil
}
