package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// AggregatorUsecase accepts completion reports and fires the notifier the
// one time a batch reaches zero outstanding images.
type AggregatorUsecase struct {
	repo      domain.BatchRepository
	notifier  domain.Notifier
	publicURL string
}

func NewAggregatorUsecase(repo domain.BatchRepository, notifier domain.Notifier, publicURL string) *AggregatorUsecase {
	return &AggregatorUsecase{
		repo:      repo,
		notifier:  notifier,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

var _ domain.CompletionReporter = (*AggregatorUsecase)(nil)

func (u *AggregatorUsecase) Report(ctx context.Context, report domain.CompletionReport) (*domain.CompletionResult, error) {
	if report.RecordKey == "" || report.BatchID == uuid.Nil {
		return nil, fmt.Errorf("%w: report needs record_key and batch_id", domain.ErrInvalidTask)
	}

	res, err := u.repo.CompleteImage(ctx, report)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("batch_id", report.BatchID.String()).
			Str("record_key", report.RecordKey).
			Msg("failed to record image completion")
		return nil, fmt.Errorf("complete image: %w", err)
	}

	if !res.Marked {
		zlog.Logger.Debug().
			Str("record_key", report.RecordKey).
			Int("remaining", res.Remaining).
			Msg("duplicate completion report ignored")
	}

	if res.Completed {
		zlog.Logger.Info().
			Str("batch_id", report.BatchID.String()).
			Int("image_count", res.Batch.ImageCount).
			Msg("batch completed")
		u.notify(ctx, res.Batch)
	}

	return res, nil
}

// notify failures are logged only; the completed state is already durable
// and notification_sent is never reset.
func (u *AggregatorUsecase) notify(ctx context.Context, batch *domain.Batch) {
	n := domain.Notification{
		BatchID:    batch.ID,
		OwnerEmail: batch.OwnerEmail,
		ImageCount: batch.ImageCount,
		Link:       u.link(batch.ID),
	}
	if err := u.notifier.Notify(ctx, n); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("batch_id", batch.ID.String()).
			Msg("failed to trigger batch notification")
	}
}

func (u *AggregatorUsecase) link(id uuid.UUID) string {
	return u.publicURL + "/#/processed/" + id.String()
}
