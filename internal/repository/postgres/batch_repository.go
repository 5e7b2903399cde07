package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

const batchColumns = `id, owner_email, image_count, remaining, status, notification_sent, created_at, updated_at, completed_at`

const taskColumns = `key, batch_id, image_name, filters, processed, anomaly, created_at, processed_at`

type batchRepository struct {
	db       *dbpg.DB
	strategy retry.Strategy
}

func NewBatchRepository(db *dbpg.DB, strategy retry.Strategy) domain.BatchRepository {
	return &batchRepository{
		db:       db,
		strategy: strategy,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	var completedAt sql.NullTime
	if err := row.Scan(
		&b.ID,
		&b.OwnerEmail,
		&b.ImageCount,
		&b.Remaining,
		&b.Status,
		&b.NotificationSent,
		&b.CreatedAt,
		&b.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}

func scanTask(row rowScanner) (*domain.ImageTask, error) {
	var t domain.ImageTask
	var filters []byte
	var anomaly sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(
		&t.Key,
		&t.BatchID,
		&t.ImageName,
		&filters,
		&t.Processed,
		&anomaly,
		&t.CreatedAt,
		&processedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filters, &t.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of %s: %w", t.Key, err)
	}
	if anomaly.Valid {
		t.Anomaly = anomaly.String
	}
	if processedAt.Valid {
		t.ProcessedAt = &processedAt.Time
	}
	return &t, nil
}

func (r *batchRepository) CreateBatch(ctx context.Context, batch *domain.Batch, tasks []*domain.ImageTask) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, owner_email, image_count, remaining, status, notification_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`, batch.ID, batch.OwnerEmail, batch.ImageCount, batch.Remaining, batch.Status, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrBatchAlreadyExists
		}
		zlog.Logger.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("failed to create batch")
		return fmt.Errorf("create batch: %w", err)
	}

	for _, t := range tasks {
		filters, err := json.Marshal(t.Filters)
		if err != nil {
			return fmt.Errorf("encode filters of %s: %w", t.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO image_tasks (key, batch_id, image_name, filters, processed, created_at)
			VALUES ($1, $2, $3, $4, FALSE, $5)
		`, t.Key, t.BatchID, t.ImageName, string(filters), t.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateImage, t.ImageName)
			}
			zlog.Logger.Error().Err(err).Str("key", t.Key).Msg("failed to create image task")
			return fmt.Errorf("create image task %s: %w", t.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}

	zlog.Logger.Info().
		Str("batch_id", batch.ID.String()).
		Int("image_count", batch.ImageCount).
		Msg("batch created successfully")
	return nil
}

func (r *batchRepository) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	row := r.db.Master.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", id.String()).Msg("failed to find batch")
		return nil, fmt.Errorf("find batch: %w", err)
	}
	return b, nil
}

func (r *batchRepository) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecWithRetry(ctx, r.strategy, `
		UPDATE batches
		SET status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", id.String()).Msg("failed to mark batch in progress")
		return false, fmt.Errorf("mark batch in progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *batchRepository) ListImageTasks(ctx context.Context, batchID uuid.UUID) ([]*domain.ImageTask, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM image_tasks WHERE batch_id = $1 ORDER BY image_name`, batchID)
}

func (r *batchRepository) ListImageTasksByProcessed(ctx context.Context, batchID uuid.UUID, processed bool) ([]*domain.ImageTask, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM image_tasks WHERE batch_id = $1 AND processed = $2 ORDER BY image_name`, batchID, processed)
}

func (r *batchRepository) listTasks(ctx context.Context, query string, args ...any) ([]*domain.ImageTask, error) {
	rows, err := r.db.QueryWithRetry(ctx, r.strategy, query, args...)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list image tasks")
		return nil, fmt.Errorf("list image tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.ImageTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image tasks: %w", err)
	}
	return tasks, nil
}

// CompleteImage runs in one transaction. The decrement takes the batch row
// lock, so reports for the same batch serialize on it and only one of them
// can observe remaining reach zero and win the conditional status update.
func (r *batchRepository) CompleteImage(ctx context.Context, report domain.CompletionReport) (*domain.CompletionResult, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete image: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE image_tasks
		SET processed = TRUE, anomaly = $3, processed_at = NOW()
		WHERE key = $1 AND batch_id = $2 AND processed = FALSE
	`, report.RecordKey, report.BatchID, nullString(report.Anomaly))
	if err != nil {
		return nil, fmt.Errorf("mark image processed: %w", err)
	}
	marked, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}

	result := &domain.CompletionResult{Marked: marked == 1}

	if !result.Marked {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM image_tasks WHERE key = $1 AND batch_id = $2)`,
			report.RecordKey, report.BatchID,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check image task: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrImageTaskNotFound, report.RecordKey)
		}

		b, err := scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, report.BatchID))
		if err != nil {
			return nil, fmt.Errorf("load batch: %w", err)
		}
		result.Batch = b
		result.Remaining = b.Remaining
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit complete image: %w", err)
		}
		return result, nil
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE batches
		SET remaining = remaining - 1, updated_at = NOW()
		WHERE id = $1 AND remaining > 0
		RETURNING remaining
	`, report.BatchID).Scan(&result.Remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decrement batch %s: counter already at zero", report.BatchID)
	}
	if err != nil {
		return nil, fmt.Errorf("decrement batch counter: %w", err)
	}

	if result.Remaining == 0 {
		b, err := scanBatch(tx.QueryRowContext(ctx, `
			UPDATE batches
			SET status = 'completed', notification_sent = TRUE, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status <> 'completed' AND notification_sent = FALSE
			RETURNING `+batchColumns, report.BatchID))
		switch {
		case err == nil:
			result.Completed = true
			result.Batch = b
		case errors.Is(err, sql.ErrNoRows):
		default:
			return nil, fmt.Errorf("complete batch: %w", err)
		}
	}

	if result.Batch == nil {
		b, err := scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, report.BatchID))
		if err != nil {
			return nil, fmt.Errorf("load batch: %w", err)
		}
		result.Batch = b
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete image: %w", err)
	}
	return result, nil
}

func (r *batchRepository) CountUnprocessed(ctx context.Context, batchID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM image_tasks WHERE batch_id = $1 AND processed = FALSE`, batchID)
}

func (r *batchRepository) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM image_tasks WHERE batch_id = $1`, batchID)
}

func (r *batchRepository) count(ctx context.Context, query string, batchID uuid.UUID) (int, error) {
	var n int
	if err := r.db.Master.QueryRowContext(ctx, query, batchID).Scan(&n); err != nil {
		zlog.Logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to count image tasks")
		return 0, fmt.Errorf("count image tasks: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
