package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	CreateJob(ctx context.Context, hotplaces []types.IngestionHotplace, source string,
		requestContext map[string]any) (*types.CreateIngestionJobResponse, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.IngestionJob, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	queue  Queue
	now    func() time.Time
}

func NewServiceImpl(repo Repository, queue Queue, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		queue:  queue,
		now:    time.Now,
	}
}

// dedupeHotplaces keeps the first hotplace per trimmed kakao id and drops
// entries without one.
func dedupeHotplaces(hotplaces []types.IngestionHotplace) []types.IngestionHotplace {
	seen := make(map[string]struct{}, len(hotplaces))
	out := make([]types.IngestionHotplace, 0, len(hotplaces))
	for _, h := range hotplaces {
		h.KakaoPlaceID = strings.TrimSpace(h.KakaoPlaceID)
		if h.KakaoPlaceID == "" {
			continue
		}
		if _, dup := seen[h.KakaoPlaceID]; dup {
			continue
		}
		seen[h.KakaoPlaceID] = struct{}{}
		out = append(out, h)
	}
	return out
}

// CreateJob persists a PENDING job for the deduplicated hotplaces and then
// enqueues it. The job is never enqueued when persisting fails.
func (s *ServiceImpl) CreateJob(ctx context.Context, hotplaces []types.IngestionHotplace, source string,
	requestContext map[string]any) (*types.CreateIngestionJobResponse, error) {
	ctx, span := otel.Tracer("IngestionService").Start(ctx, "CreateJob", trace.WithAttributes(
		attribute.String("ingestion.source", source),
		attribute.Int("ingestion.requested", len(hotplaces)),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "CreateJob"), slog.String("source", source))

	deduped := dedupeHotplaces(hotplaces)
	if len(deduped) == 0 {
		err := types.NewValidationError("no hotplace carries a kakao_place_id", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Nothing to ingest")
		return nil, err
	}
	l.InfoContext(ctx, "Creating ingestion job",
		slog.Int("requested_items", len(hotplaces)), slog.Int("deduplicated_items", len(deduped)))

	if requestContext == nil {
		requestContext = map[string]any{}
	}
	now := s.now().UTC()
	job := types.IngestionJob{
		ID:         uuid.New(),
		Source:     source,
		Status:     types.IngestionJobPending,
		TotalItems: len(deduped),
		Meta: map[string]any{
			"requested_item_count":    len(hotplaces),
			"deduplicated_item_count": len(deduped),
		},
		RequestContext: requestContext,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          make([]types.IngestionJobItem, 0, len(deduped)),
	}
	for _, h := range deduped {
		job.Items = append(job.Items, types.IngestionJobItem{
			ID:           uuid.New(),
			JobID:        job.ID,
			KakaoPlaceID: h.KakaoPlaceID,
			Payload:      h,
			Status:       types.IngestionJobPending,
		})
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		l.ErrorContext(ctx, "Failed to persist ingestion job", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist job")
		return nil, fmt.Errorf("failed to persist ingestion job: %w", err)
	}
	span.SetAttributes(attribute.String("ingestion.job_id", job.ID.String()))

	if err := s.queue.Push(ctx, job.ID); err != nil {
		l.ErrorContext(ctx, "Failed to enqueue ingestion job", slog.Any("error", err),
			slog.String("job_id", job.ID.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to enqueue job")
		return nil, fmt.Errorf("failed to enqueue ingestion job: %w", err)
	}

	metrics.Get().IngestionJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "created")))
	l.InfoContext(ctx, "Ingestion job created and enqueued", slog.String("job_id", job.ID.String()))
	span.SetStatus(codes.Ok, "Ingestion job created")
	return &types.CreateIngestionJobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		TotalItems: job.TotalItems,
	}, nil
}

func (s *ServiceImpl) GetJob(ctx context.Context, jobID uuid.UUID) (*types.IngestionJob, error) {
	ctx, span := otel.Tracer("IngestionService").Start(ctx, "GetJob", trace.WithAttributes(
		attribute.String("ingestion.job_id", jobID.String()),
	))
	defer span.End()

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load job")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Ingestion job loaded")
	return job, nil
}
