package usecase

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/singleflight"

	"github.com/yokitheyo/batchflow/internal/domain"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
)

type BatchUsecase struct {
	repo         domain.BatchRepository
	storage      storage.Storage
	cache        domain.BatchCache
	maxFileBytes int64
	sf           singleflight.Group
}

// NewBatchUsecase accepts a nil cache. maxFileBytes <= 0 disables the size check.
func NewBatchUsecase(
	repo domain.BatchRepository,
	storage storage.Storage,
	cache domain.BatchCache,
	maxFileBytes int64,
) *BatchUsecase {
	return &BatchUsecase{
		repo:         repo,
		storage:      storage,
		cache:        cache,
		maxFileBytes: maxFileBytes,
	}
}

var _ domain.BatchService = (*BatchUsecase)(nil)

// Submit writes every input object and then creates the batch with its
// records in one step. Objects already written are removed if a later
// step fails.
func (u *BatchUsecase) Submit(ctx context.Context, in domain.SubmitBatchInput) (*domain.Batch, error) {
	email := strings.TrimSpace(in.OwnerEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEmail, in.OwnerEmail)
	}
	if len(in.Images) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	seen := make(map[string]struct{}, len(in.Images))
	for _, img := range in.Images {
		if err := domain.ValidateImageName(img.Name); err != nil {
			return nil, err
		}
		if _, dup := seen[img.Name]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateImage, img.Name)
		}
		seen[img.Name] = struct{}{}
		if u.maxFileBytes > 0 && img.Size > u.maxFileBytes {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileTooLarge, img.Name)
		}
	}
	for name := range in.ImageFilters {
		if _, ok := seen[name]; !ok {
			return nil, fmt.Errorf("%w: no uploaded image named %q", domain.ErrInvalidMetadata, name)
		}
	}

	batch := domain.NewBatch(email, len(in.Images))
	tasks := make([]*domain.ImageTask, 0, len(in.Images))
	written := make([]string, 0, len(in.Images))

	for _, img := range in.Images {
		data, err := u.readImage(img)
		if err != nil {
			u.cleanup(ctx, written)
			return nil, err
		}

		path := domain.InputPath(batch.ID, img.Name)
		if err := u.storage.Put(ctx, path, data, domain.ContentType(img.Name)); err != nil {
			zlog.Logger.Error().Err(err).Str("batch_id", batch.ID.String()).Str("path", path).Msg("failed to save input image")
			u.cleanup(ctx, written)
			return nil, fmt.Errorf("save input image: %w", err)
		}
		written = append(written, path)
		tasks = append(tasks, domain.NewImageTask(batch.ID, img.Name, in.FiltersFor(img.Name)))
	}

	if err := u.repo.CreateBatch(ctx, batch, tasks); err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("failed to create batch record")
		u.cleanup(ctx, written)
		return nil, fmt.Errorf("create batch: %w", err)
	}

	zlog.Logger.Info().
		Str("batch_id", batch.ID.String()).
		Int("image_count", batch.ImageCount).
		Int("filters", len(in.Filters)).
		Int("custom_chains", len(in.ImageFilters)).
		Msg("batch submitted")

	return batch, nil
}

func (u *BatchUsecase) readImage(img domain.UploadedImage) ([]byte, error) {
	r := img.Reader
	if u.maxFileBytes > 0 {
		r = io.LimitReader(r, u.maxFileBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", img.Name, err)
	}
	if u.maxFileBytes > 0 && int64(len(data)) > u.maxFileBytes {
		return nil, fmt.Errorf("%w: %s", domain.ErrFileTooLarge, img.Name)
	}
	return data, nil
}

func (u *BatchUsecase) cleanup(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := u.storage.Delete(ctx, p); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", p).Msg("failed to remove input image after failed submit")
		}
	}
}

// GetBatch collapses concurrent loads of the same id. Completed batches are
// served from the cache when one is configured.
func (u *BatchUsecase) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	v, err, shared := u.sf.Do(id.String(), func() (interface{}, error) {
		if u.cache != nil {
			cached, err := u.cache.Get(ctx, id)
			if err != nil {
				zlog.Logger.Warn().Err(err).Str("batch_id", id.String()).Msg("batch cache read failed")
			} else if cached != nil {
				return cached, nil
			}
		}

		batch, err := u.repo.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}

		if u.cache != nil && batch.IsCompleted() {
			if err := u.cache.Set(ctx, batch); err != nil {
				zlog.Logger.Warn().Err(err).Str("batch_id", id.String()).Msg("batch cache write failed")
			}
		}
		return batch, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zlog.Logger.Debug().Str("batch_id", id.String()).Msg("batch lookup shared with concurrent request")
	}

	b := *v.(*domain.Batch)
	return &b, nil
}

// ListImages returns all records of the batch, or only those whose
// processed flag equals *processed.
func (u *BatchUsecase) ListImages(ctx context.Context, id uuid.UUID, processed *bool) ([]*domain.ImageTask, error) {
	if _, err := u.repo.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	if processed == nil {
		return u.repo.ListImageTasks(ctx, id)
	}
	return u.repo.ListImageTasksByProcessed(ctx, id, *processed)
}

func (u *BatchUsecase) ListProcessed(ctx context.Context, id uuid.UUID) ([]*domain.ImageTask, error) {
	processed := true
	return u.ListImages(ctx, id, &processed)
}

func (u *BatchUsecase) GetObject(ctx context.Context, id uuid.UUID, imageName string, output bool) ([]byte, error) {
	if err := domain.ValidateImageName(imageName); err != nil {
		return nil, err
	}
	path := domain.InputPath(id, imageName)
	if output {
		path = domain.OutputPath(id, imageName)
	}

	data, err := u.storage.Get(ctx, path)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", id.String()).Str("path", path).Msg("failed to get image object")
		return nil, err
	}
	return data, nil
}
