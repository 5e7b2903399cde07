package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// BatchRepository is an in-process record store. One mutex guards all
// state, which makes every method atomic with respect to the others.
type BatchRepository struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*domain.Batch
	tasks   map[string]*domain.ImageTask
	byBatch map[uuid.UUID][]string
}

func NewBatchRepository() *BatchRepository {
	return &BatchRepository{
		batches: make(map[uuid.UUID]*domain.Batch),
		tasks:   make(map[string]*domain.ImageTask),
		byBatch: make(map[uuid.UUID][]string),
	}
}

var _ domain.BatchRepository = (*BatchRepository)(nil)

func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.Batch, tasks []*domain.ImageTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[batch.ID]; ok {
		return domain.ErrBatchAlreadyExists
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.Key]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateImage, t.ImageName)
		}
		if _, ok := r.tasks[t.Key]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateImage, t.ImageName)
		}
		seen[t.Key] = struct{}{}
	}

	b := *batch
	r.batches[b.ID] = &b
	keys := make([]string, 0, len(tasks))
	for _, t := range tasks {
		c := cloneTask(t)
		r.tasks[c.Key] = c
		keys = append(keys, c.Key)
	}
	r.byBatch[b.ID] = keys
	return nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	c := *b
	return &c, nil
}

func (r *BatchRepository) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok {
		return false, domain.ErrBatchNotFound
	}
	if b.Status != domain.BatchPending {
		return false, nil
	}
	b.Status = domain.BatchInProgress
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *BatchRepository) ListImageTasks(ctx context.Context, batchID uuid.UUID) ([]*domain.ImageTask, error) {
	return r.list(batchID, func(*domain.ImageTask) bool { return true }), nil
}

func (r *BatchRepository) ListImageTasksByProcessed(ctx context.Context, batchID uuid.UUID, processed bool) ([]*domain.ImageTask, error) {
	return r.list(batchID, func(t *domain.ImageTask) bool { return t.Processed == processed }), nil
}

func (r *BatchRepository) list(batchID uuid.UUID, keep func(*domain.ImageTask) bool) []*domain.ImageTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.ImageTask, 0, len(r.byBatch[batchID]))
	for _, key := range r.byBatch[batchID] {
		if t := r.tasks[key]; keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageName < out[j].ImageName })
	return out
}

func (r *BatchRepository) CompleteImage(ctx context.Context, report domain.CompletionReport) (*domain.CompletionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[report.RecordKey]
	if !ok || t.BatchID != report.BatchID {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageTaskNotFound, report.RecordKey)
	}
	b, ok := r.batches[report.BatchID]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}

	result := &domain.CompletionResult{}
	if !t.Processed {
		if b.Remaining == 0 {
			return nil, fmt.Errorf("decrement batch %s: counter already at zero", b.ID)
		}
		now := time.Now().UTC()
		t.Processed = true
		t.ProcessedAt = &now
		t.Anomaly = report.Anomaly
		b.Remaining--
		b.UpdatedAt = now
		result.Marked = true

		if b.Remaining == 0 && b.Status != domain.BatchCompleted && !b.NotificationSent {
			b.Status = domain.BatchCompleted
			b.NotificationSent = true
			b.CompletedAt = &now
			result.Completed = true
		}
	}

	result.Remaining = b.Remaining
	c := *b
	result.Batch = &c
	return result, nil
}

func (r *BatchRepository) CountUnprocessed(ctx context.Context, batchID uuid.UUID) (int, error) {
	return len(r.list(batchID, func(t *domain.ImageTask) bool { return !t.Processed })), nil
}

func (r *BatchRepository) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byBatch[batchID]), nil
}

func cloneTask(t *domain.ImageTask) *domain.ImageTask {
	c := *t
	c.Filters = append([]domain.Filter(nil), t.Filters...)
	if t.ProcessedAt != nil {
		at := *t.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}
