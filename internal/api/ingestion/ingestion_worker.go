package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/api/features"
	"github.com/serene416/friend/internal/crawler"
	"github.com/serene416/friend/internal/types"
)

const (
	popErrorPause     = time.Second
	cancelledItemNote = "cancelled: job interrupted before this item ran"
)

// Resolver maps a directory place to its review-site identity.
type Resolver interface {
	Resolve(ctx context.Context, place crawler.Place) types.IdentityMapping
}

// Collector gathers reviews and photos for a resolved place.
type Collector interface {
	CollectMapping(ctx context.Context, mapping types.IdentityMapping) types.CrawlResult
}

// Worker drains the ingestion queue. Items of a job run one after another:
// each one owns a browser session for its whole duration.
type Worker struct {
	logger     *slog.Logger
	repo       Repository
	queue      Queue
	resolver   Resolver
	collector  Collector
	store      features.Repository
	cfg        config.IngestionConfig
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewWorker(
	repo Repository,
	queue Queue,
	resolver Resolver,
	collector Collector,
	store features.Repository,
	cfg config.IngestionConfig,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		logger:     logger,
		repo:       repo,
		queue:      queue,
		resolver:   resolver,
		collector:  collector,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Run pops and processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Ingestion worker started", slog.String("queue", w.cfg.QueueKey))
	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "Ingestion worker stopping")
			return nil
		}
		jobID, ok, err := w.queue.Pop(ctx, w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.WarnContext(ctx, "Failed to pop ingestion job", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(popErrorPause):
			}
			continue
		}
		if !ok {
			continue
		}
		if err := w.ProcessJob(ctx, jobID); err != nil {
			w.logger.ErrorContext(ctx, "Ingestion job failed", slog.Any("error", err),
				slog.String("job_id", jobID.String()))
		}
	}
}

// ProcessJob resolves and crawls every item of a job and records the job
// outcome: COMPLETED when every item succeeded, FAILED when none did and
// PARTIAL otherwise.
func (w *Worker) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := otel.Tracer("IngestionWorker").Start(ctx, "ProcessJob", trace.WithAttributes(
		attribute.String("ingestion.job_id", jobID.String()),
	))
	defer span.End()
	l := w.logger.With(slog.String("job_id", jobID.String()))

	if err := w.retry(ctx, func() error { return w.repo.MarkJobRunning(ctx, jobID) }); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to start job")
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	var items []types.IngestionJobItem
	if err := w.retry(ctx, func() error {
		var err error
		items, err = w.repo.ListItems(ctx, jobID)
		return err
	}); err != nil {
		msg := err.Error()
		finishCtx := context.WithoutCancel(ctx)
		if ferr := w.retry(finishCtx, func() error {
			return w.repo.FinishJob(finishCtx, jobID, types.IngestionJobFailed, 0, 0, &msg)
		}); ferr != nil {
			l.ErrorContext(ctx, "Failed to record job failure", slog.Any("error", ferr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load items")
		return fmt.Errorf("failed to load job items: %w", err)
	}
	l.InfoContext(ctx, "Processing ingestion job", slog.Int("items", len(items)))

	// Status writes outlive cancellation so an interrupted job is still
	// recorded accurately.
	persistCtx := context.WithoutCancel(ctx)
	processed, failed := 0, 0
	var lastErr error
	for i, item := range items {
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("job cancelled with %d items not processed: %w", len(items)-i, ctx.Err())
			failed += w.cancelItems(persistCtx, l, items[i:])
			break
		}
		note, err := w.processItem(ctx, item)
		status := types.IngestionJobCompleted
		if err != nil {
			failed++
			lastErr = err
			status = types.IngestionJobFailed
			msg := err.Error()
			note = &msg
			l.WarnContext(ctx, "Ingestion item failed", slog.Any("error", err),
				slog.String("kakao_place_id", item.KakaoPlaceID))
		} else {
			processed++
		}
		if err := w.retry(persistCtx, func() error {
			return w.repo.UpdateItemStatus(persistCtx, item.ID, status, note)
		}); err != nil {
			l.ErrorContext(ctx, "Failed to record item status", slog.Any("error", err),
				slog.String("kakao_place_id", item.KakaoPlaceID))
		}
	}

	status := jobStatus(processed, failed)
	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}
	if err := w.retry(persistCtx, func() error {
		return w.repo.FinishJob(persistCtx, jobID, status, processed, failed, errMsg)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to finish job")
		return fmt.Errorf("failed to finish job: %w", err)
	}

	metrics.Get().IngestionJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", strings.ToLower(string(status)))))
	l.InfoContext(ctx, "Ingestion job finished", slog.String("status", string(status)),
		slog.Int("processed", processed), slog.Int("failed", failed))
	span.SetAttributes(attribute.String("ingestion.status", string(status)))
	span.SetStatus(codes.Ok, "Ingestion job processed")
	return nil
}

// cancelItems marks items that never ran as failed and returns how many
// there were.
func (w *Worker) cancelItems(ctx context.Context, l *slog.Logger, items []types.IngestionJobItem) int {
	note := cancelledItemNote
	for _, item := range items {
		if err := w.retry(ctx, func() error {
			return w.repo.UpdateItemStatus(ctx, item.ID, types.IngestionJobFailed, &note)
		}); err != nil {
			l.ErrorContext(ctx, "Failed to record cancelled item", slog.Any("error", err),
				slog.String("kakao_place_id", item.KakaoPlaceID))
		}
	}
	return len(items)
}

func jobStatus(processed, failed int) types.IngestionJobStatus {
	switch {
	case failed == 0:
		return types.IngestionJobCompleted
	case processed == 0:
		return types.IngestionJobFailed
	default:
		return types.IngestionJobPartial
	}
}

// processItem runs one place through resolution, crawling and the feature
// store. The returned note records why a successful item carries no data.
func (w *Worker) processItem(ctx context.Context, item types.IngestionJobItem) (*string, error) {
	payload := item.Payload
	mapping := w.resolver.Resolve(ctx, crawler.Place{
		SourceID: item.KakaoPlaceID,
		Name:     payload.PlaceName,
		Lat:      payload.Y,
		Lng:      payload.X,
	})
	if err := w.retry(ctx, func() error { return w.store.UpsertMapping(ctx, mapping) }); err != nil {
		return nil, fmt.Errorf("failed to store mapping: %w", err)
	}
	if !mapping.Crawlable {
		note := "skipped:" + mapping.Reason
		w.logger.InfoContext(ctx, "Place not crawlable", slog.String("kakao_place_id", item.KakaoPlaceID),
			slog.Any("reason", mapping.Err()))
		return &note, nil
	}

	result := w.collector.CollectMapping(ctx, mapping)
	placeFeatures := w.buildFeatures(item, result)
	if err := w.retry(ctx, func() error { return w.store.UpsertCrawlResult(ctx, result, placeFeatures) }); err != nil {
		return nil, fmt.Errorf("failed to store crawl result: %w", err)
	}

	switch result.Status {
	case types.CrawlStatusFailed:
		return nil, fmt.Errorf("crawl failed: %s", strings.Join(result.Warnings, "; "))
	case types.CrawlStatusPartial:
		w.logger.WarnContext(ctx, "Crawl degraded", slog.String("kakao_place_id", item.KakaoPlaceID),
			slog.Any("error", result.Err()))
		note := strings.Join(result.Warnings, "; ")
		return &note, nil
	}
	return nil, nil
}

func (w *Worker) buildFeatures(item types.IngestionJobItem, result types.CrawlResult) types.PlaceFeatures {
	ingestedAt := w.now().UTC()
	f := types.PlaceFeatures{
		KakaoPlaceID:   item.KakaoPlaceID,
		PhotoURLs:      make([]string, 0, len(result.Photos)),
		ActivityIntro:  BuildPlaceIntro(item.Payload, result.Reviews, result.RatingSummary),
		LastIngestedAt: &ingestedAt,
	}
	if !result.RatingSummary.Empty() {
		f.Rating = result.RatingSummary.AverageRating
		f.RatingCount = result.RatingSummary.RatingCount
	}
	for _, p := range result.Photos {
		f.PhotoURLs = append(f.PhotoURLs, p.ImageURL)
	}

	switch {
	case result.Status == types.CrawlStatusFailed:
		f.PhotoCollectionStatus = types.PhotoCollectionFailed
		f.PhotoCollectionReason = "crawler_error"
	case len(f.PhotoURLs) > 0:
		f.PhotoCollectionStatus = types.PhotoCollectionReady
	default:
		f.PhotoCollectionStatus = types.PhotoCollectionEmpty
		for _, warning := range result.Warnings {
			if strings.HasPrefix(warning, "photo_error:") {
				f.PhotoCollectionStatus = types.PhotoCollectionFailed
				f.PhotoCollectionReason = "photo_error"
			}
		}
	}
	return f
}

// retry runs op with exponential backoff. A missing row is not retried.
func (w *Worker) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.cfg.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && errors.Is(err, types.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
