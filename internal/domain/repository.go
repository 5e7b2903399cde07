package domain

import (
	"context"

	"github.com/google/uuid"
)

type BatchRepository interface {
	// CreateBatch stores the batch together with all of its image tasks.
	CreateBatch(ctx context.Context, batch *Batch, tasks []*ImageTask) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	// MarkInProgress moves a pending batch to in_progress and reports whether it did.
	MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error)
	ListImageTasks(ctx context.Context, batchID uuid.UUID) ([]*ImageTask, error)
	ListImageTasksByProcessed(ctx context.Context, batchID uuid.UUID, processed bool) ([]*ImageTask, error)
	// CompleteImage marks one task processed, decrements the batch counter on the
	// first mark only, and completes the batch when the counter reaches zero.
	// All three steps are atomic with respect to other reports for the batch.
	CompleteImage(ctx context.Context, report CompletionReport) (*CompletionResult, error)
	CountUnprocessed(ctx context.Context, batchID uuid.UUID) (int, error)
	CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
}
