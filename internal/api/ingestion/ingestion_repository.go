package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/internal/api/features"
	"github.com/serene416/friend/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository persists ingestion jobs and their per-place items.
type Repository interface {
	CreateJob(ctx context.Context, job types.IngestionJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.IngestionJob, error)
	ListItems(ctx context.Context, jobID uuid.UUID) ([]types.IngestionJobItem, error)
	MarkJobRunning(ctx context.Context, jobID uuid.UUID) error
	UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status types.IngestionJobStatus, errMsg *string) error
	FinishJob(ctx context.Context, jobID uuid.UUID, status types.IngestionJobStatus, processed, failed int, errMsg *string) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool features.DB
}

func NewRepository(pgpool features.DB, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

// CreateJob inserts the job row and all of its items in one transaction.
func (r *RepositoryImpl) CreateJob(ctx context.Context, job types.IngestionJob) error {
	meta, err := encodeObject(job.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode job meta: %w", err)
	}
	requestContext, err := encodeObject(job.RequestContext)
	if err != nil {
		return fmt.Errorf("failed to encode request context: %w", err)
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobQuery := `
        INSERT INTO ingestion_jobs (
            id, source, status, total_items, processed_items, failed_items,
            meta, request_context, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7, $7)
    `
	if _, err := tx.Exec(ctx, jobQuery,
		job.ID, job.Source, string(job.Status), job.TotalItems, meta, requestContext, job.CreatedAt,
	); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to insert ingestion job", slog.Any("error", err),
			slog.String("job_id", job.ID.String()))
		return fmt.Errorf("failed to insert ingestion job: %w", err)
	}

	itemQuery := `
        INSERT INTO ingestion_job_items (id, job_id, kakao_place_id, payload, status, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for _, item := range job.Items {
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode item payload: %w", err)
		}
		if _, err := tx.Exec(ctx, itemQuery,
			item.ID, job.ID, item.KakaoPlaceID, payload, string(item.Status), job.CreatedAt,
		); err != nil {
			metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
			r.logger.ErrorContext(ctx, "Failed to insert ingestion job item", slog.Any("error", err),
				slog.String("job_id", job.ID.String()), slog.String("kakao_place_id", item.KakaoPlaceID))
			return fmt.Errorf("failed to insert ingestion job item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ingestion job: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetJob(ctx context.Context, jobID uuid.UUID) (*types.IngestionJob, error) {
	query := `
        SELECT id, source, status, total_items, processed_items, failed_items,
               meta, request_context, error_message, created_at, updated_at
        FROM ingestion_jobs
        WHERE id = $1
    `
	var (
		job                     types.IngestionJob
		status                  string
		meta, requestContextRaw []byte
	)
	err := r.pgpool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Source, &status, &job.TotalItems, &job.ProcessedItems, &job.FailedItems,
		&meta, &requestContextRaw, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFound(fmt.Sprintf("ingestion job %s not found", jobID))
	}
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to load ingestion job", slog.Any("error", err),
			slog.String("job_id", jobID.String()))
		return nil, fmt.Errorf("failed to load ingestion job: %w", err)
	}
	job.Status = types.IngestionJobStatus(status)
	if job.Meta, err = decodeObject(meta); err != nil {
		return nil, fmt.Errorf("failed to decode job meta: %w", err)
	}
	if job.RequestContext, err = decodeObject(requestContextRaw); err != nil {
		return nil, fmt.Errorf("failed to decode request context: %w", err)
	}
	return &job, nil
}

func (r *RepositoryImpl) ListItems(ctx context.Context, jobID uuid.UUID) ([]types.IngestionJobItem, error) {
	query := `
        SELECT id, job_id, kakao_place_id, payload, status, error_message
        FROM ingestion_job_items
        WHERE job_id = $1
        ORDER BY kakao_place_id
    `
	rows, err := r.pgpool.Query(ctx, query, jobID)
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to query ingestion job items", slog.Any("error", err))
		return nil, fmt.Errorf("failed to query ingestion job items: %w", err)
	}
	defer rows.Close()

	var items []types.IngestionJobItem
	for rows.Next() {
		var (
			item    types.IngestionJobItem
			payload []byte
			status  string
		)
		if err := rows.Scan(&item.ID, &item.JobID, &item.KakaoPlaceID, &payload, &status, &item.ErrorMessage); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan ingestion job item", slog.Any("error", err))
			return nil, fmt.Errorf("failed to scan ingestion job item: %w", err)
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode item payload: %w", err)
		}
		item.Status = types.IngestionJobStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating ingestion job items", slog.Any("error", err))
		return nil, fmt.Errorf("error iterating ingestion job items: %w", err)
	}
	return items, nil
}

func (r *RepositoryImpl) MarkJobRunning(ctx context.Context, jobID uuid.UUID) error {
	query := `UPDATE ingestion_jobs SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pgpool.Exec(ctx, query, jobID, string(types.IngestionJobRunning), time.Now().UTC())
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("failed to mark ingestion job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewNotFound(fmt.Sprintf("ingestion job %s not found", jobID))
	}
	return nil
}

func (r *RepositoryImpl) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status types.IngestionJobStatus, errMsg *string) error {
	query := `UPDATE ingestion_job_items SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.pgpool.Exec(ctx, query, itemID, string(status), errMsg, time.Now().UTC()); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("failed to update ingestion job item: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) FinishJob(ctx context.Context, jobID uuid.UUID, status types.IngestionJobStatus, processed, failed int, errMsg *string) error {
	query := `
        UPDATE ingestion_jobs
        SET status = $2, processed_items = $3, failed_items = $4, error_message = $5, updated_at = $6
        WHERE id = $1
    `
	if _, err := r.pgpool.Exec(ctx, query, jobID, string(status), processed, failed, errMsg, time.Now().UTC()); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to finish ingestion job", slog.Any("error", err),
			slog.String("job_id", jobID.String()))
		return fmt.Errorf("failed to finish ingestion job: %w", err)
	}
	return nil
}

func encodeObject(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
