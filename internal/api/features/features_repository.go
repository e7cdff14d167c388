package features

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the feature store. Reads serve the recommendation path,
// writes come from the ingestion worker.
type Repository interface {
	GetFeatures(ctx context.Context, kakaoPlaceIDs []string) (map[string]types.PlaceFeatures, error)
	UpsertMapping(ctx context.Context, mapping types.IdentityMapping) error
	UpsertCrawlResult(ctx context.Context, result types.CrawlResult, features types.PlaceFeatures) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool DB
}

func NewRepository(pgpool DB, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

// GetFeatures returns the stored features keyed by directory place id. Ids
// without a row are absent from the map.
func (r *RepositoryImpl) GetFeatures(ctx context.Context, kakaoPlaceIDs []string) (map[string]types.PlaceFeatures, error) {
	out := make(map[string]types.PlaceFeatures, len(kakaoPlaceIDs))
	if len(kakaoPlaceIDs) == 0 {
		return out, nil
	}

	query := `
        SELECT kakao_place_id, rating, rating_count, photo_urls,
               COALESCE(activity_intro, ''), COALESCE(mapping_reason, ''),
               photo_collection_status, COALESCE(photo_collection_reason, ''), last_ingested_at
        FROM place_features
        WHERE kakao_place_id = ANY($1)
    `
	rows, err := r.pgpool.Query(ctx, query, kakaoPlaceIDs)
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to query place features", slog.Any("error", err))
		return nil, fmt.Errorf("failed to query place features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f types.PlaceFeatures
		var status string
		if err := rows.Scan(
			&f.KakaoPlaceID, &f.Rating, &f.RatingCount, &f.PhotoURLs,
			&f.ActivityIntro, &f.MappingReason,
			&status, &f.PhotoCollectionReason, &f.LastIngestedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan place features", slog.Any("error", err))
			return nil, fmt.Errorf("failed to scan place features: %w", err)
		}
		f.PhotoCollectionStatus = types.PhotoCollectionStatus(status)
		out[f.KakaoPlaceID] = f
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating place feature rows", slog.Any("error", err))
		return nil, fmt.Errorf("error iterating place feature rows: %w", err)
	}
	return out, nil
}

// UpsertMapping stores the latest resolution of a directory place and mirrors
// its outcome into place_features so the read path can hide mapping issues.
func (r *RepositoryImpl) UpsertMapping(ctx context.Context, mapping types.IdentityMapping) error {
	candidates, err := json.Marshal(mapping.TopCandidates)
	if err != nil {
		return fmt.Errorf("failed to encode top candidates: %w", err)
	}
	if mapping.TopCandidates == nil {
		candidates = []byte("[]")
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	mappingQuery := `
        INSERT INTO place_mappings (
            kakao_place_id, naver_place_id, matched_name, confidence, distance_m,
            status, reason, candidate_count, crawlable, top_candidates, resolved_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (kakao_place_id) DO UPDATE SET
            naver_place_id = EXCLUDED.naver_place_id,
            matched_name = EXCLUDED.matched_name,
            confidence = EXCLUDED.confidence,
            distance_m = EXCLUDED.distance_m,
            status = EXCLUDED.status,
            reason = EXCLUDED.reason,
            candidate_count = EXCLUDED.candidate_count,
            crawlable = EXCLUDED.crawlable,
            top_candidates = EXCLUDED.top_candidates,
            resolved_at = EXCLUDED.resolved_at
    `
	if _, err := tx.Exec(ctx, mappingQuery,
		mapping.SourceID, nullable(mapping.TargetID), nullable(mapping.MatchedName), mapping.Confidence,
		mapping.DistanceMeters, string(mapping.Status), nullable(mapping.Reason), mapping.CandidateCount,
		mapping.Crawlable, candidates, mapping.ResolvedAt,
	); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to upsert place mapping", slog.Any("error", err),
			slog.String("kakao_place_id", mapping.SourceID))
		return fmt.Errorf("failed to upsert place mapping: %w", err)
	}

	photoStatus := types.PhotoCollectionPending
	if mapping.Status != types.MappingStatusMapped {
		photoStatus = types.PhotoCollectionFailed
	}
	featureQuery := `
        INSERT INTO place_features (
            kakao_place_id, naver_place_id, mapping_reason, photo_collection_status,
            photo_collection_reason, updated_at
        ) VALUES ($1, $2, $3, $4, $3, NOW())
        ON CONFLICT (kakao_place_id) DO UPDATE SET
            naver_place_id = EXCLUDED.naver_place_id,
            mapping_reason = EXCLUDED.mapping_reason,
            photo_collection_status = CASE
                WHEN EXCLUDED.mapping_reason IS NOT NULL THEN EXCLUDED.photo_collection_status
                ELSE place_features.photo_collection_status
            END,
            photo_collection_reason = EXCLUDED.photo_collection_reason,
            updated_at = NOW()
    `
	if _, err := tx.Exec(ctx, featureQuery,
		mapping.SourceID, nullable(mapping.TargetID), nullable(mapping.Reason), string(photoStatus),
	); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to record mapping outcome", slog.Any("error", err),
			slog.String("kakao_place_id", mapping.SourceID))
		return fmt.Errorf("failed to record mapping outcome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mapping: %w", err)
	}
	return nil
}

// UpsertCrawlResult writes reviews, photos and the feature row in a single
// transaction. Reviews and photos are keyed by their dedupe ids so replays
// are idempotent.
func (r *RepositoryImpl) UpsertCrawlResult(ctx context.Context, result types.CrawlResult, features types.PlaceFeatures) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reviewQuery := `
        INSERT INTO place_reviews (
            naver_place_id, review_id, content, author, posted_at_raw, posted_at, source_url, collected_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (naver_place_id, review_id) DO UPDATE SET
            content = EXCLUDED.content,
            author = EXCLUDED.author,
            posted_at_raw = EXCLUDED.posted_at_raw,
            posted_at = EXCLUDED.posted_at,
            source_url = EXCLUDED.source_url,
            collected_at = EXCLUDED.collected_at
    `
	for _, review := range result.Reviews {
		if _, err := tx.Exec(ctx, reviewQuery,
			result.TargetID, review.ReviewID, review.Content, nullable(review.Author),
			nullable(review.PostedAtRaw), review.PostedAt, nullable(review.SourceURL), review.CollectedAt,
		); err != nil {
			metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
			r.logger.ErrorContext(ctx, "Failed to upsert review", slog.Any("error", err),
				slog.String("naver_place_id", result.TargetID))
			return fmt.Errorf("failed to upsert review: %w", err)
		}
	}

	photoQuery := `
        INSERT INTO place_photos (naver_place_id, photo_id, image_url, metadata, captured_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (naver_place_id, photo_id) DO UPDATE SET
            image_url = EXCLUDED.image_url,
            metadata = EXCLUDED.metadata,
            captured_at = EXCLUDED.captured_at
    `
	for _, photo := range result.Photos {
		meta := []byte("{}")
		if len(photo.Metadata) > 0 {
			if meta, err = json.Marshal(photo.Metadata); err != nil {
				return fmt.Errorf("failed to encode photo metadata: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, photoQuery,
			result.TargetID, photo.PhotoID, photo.ImageURL, meta, photo.CapturedAt,
		); err != nil {
			metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
			r.logger.ErrorContext(ctx, "Failed to upsert photo", slog.Any("error", err),
				slog.String("naver_place_id", result.TargetID))
			return fmt.Errorf("failed to upsert photo: %w", err)
		}
	}

	photoURLs := features.PhotoURLs
	if photoURLs == nil {
		photoURLs = []string{}
	}
	ingestedAt := time.Now().UTC()
	if features.LastIngestedAt != nil {
		ingestedAt = *features.LastIngestedAt
	}
	featureQuery := `
        INSERT INTO place_features (
            kakao_place_id, naver_place_id, rating, rating_count, photo_urls, activity_intro,
            mapping_reason, photo_collection_status, photo_collection_reason, last_ingested_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9, NOW())
        ON CONFLICT (kakao_place_id) DO UPDATE SET
            naver_place_id = EXCLUDED.naver_place_id,
            rating = COALESCE(EXCLUDED.rating, place_features.rating),
            rating_count = COALESCE(EXCLUDED.rating_count, place_features.rating_count),
            photo_urls = EXCLUDED.photo_urls,
            activity_intro = COALESCE(EXCLUDED.activity_intro, place_features.activity_intro),
            mapping_reason = NULL,
            photo_collection_status = EXCLUDED.photo_collection_status,
            photo_collection_reason = EXCLUDED.photo_collection_reason,
            last_ingested_at = EXCLUDED.last_ingested_at,
            updated_at = NOW()
    `
	if _, err := tx.Exec(ctx, featureQuery,
		features.KakaoPlaceID, nullable(result.TargetID), features.Rating, features.RatingCount, photoURLs,
		nullable(features.ActivityIntro), string(features.PhotoCollectionStatus),
		nullable(features.PhotoCollectionReason), ingestedAt,
	); err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to upsert place features", slog.Any("error", err),
			slog.String("kakao_place_id", features.KakaoPlaceID))
		return fmt.Errorf("failed to upsert place features: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit crawl result: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
