package types

import "time"

type MappingStatus string

const (
	MappingStatusMapped  MappingStatus = "MAPPED"
	MappingStatusSkipped MappingStatus = "SKIPPED"
)

// Machine-readable reasons attached to an unresolved IdentityMapping.
const (
	MappingReasonMissingName  = "missing_name"
	MappingReasonNoCandidates = "no_candidates"
	MappingReasonAmbiguous    = "ambiguous_candidates"
	MappingReasonLowConf      = "low_confidence"
	MappingReasonSearchError  = "search_error"
)

// PlaceCandidate is one counterpart found on the target web source.
type PlaceCandidate struct {
	PlaceID        string   `json:"naver_place_id"`
	Name           string   `json:"name"`
	URL            string   `json:"url,omitempty"`
	Query          string   `json:"query,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`
	NameScore      float64  `json:"name_score"`
	RegionScore    float64  `json:"region_score"`
	DistanceScore  float64  `json:"distance_score"`
	Confidence     float64  `json:"confidence"`
}

// IdentityMapping links a directory place to its counterpart on the target
// web source. It is recomputed from scratch on every resolution.
type IdentityMapping struct {
	SourceID       string           `json:"kakao_place_id"`
	TargetID       string           `json:"naver_place_id,omitempty"`
	MatchedName    string           `json:"matched_name,omitempty"`
	Confidence     float64          `json:"confidence"`
	DistanceMeters *float64         `json:"distance_m,omitempty"`
	Status         MappingStatus    `json:"status"`
	Reason         string           `json:"reason,omitempty"`
	CandidateCount int              `json:"candidate_count"`
	Crawlable      bool             `json:"crawlable"`
	TopCandidates  []PlaceCandidate `json:"top_candidates,omitempty"`
	ResolvedAt     time.Time        `json:"resolved_at"`
}

// Err reports an unresolved mapping as a coded error for logging. Resolution
// failures are never returned to callers.
func (m IdentityMapping) Err() error {
	if m.Status == MappingStatusMapped {
		return nil
	}
	code := ErrCodeResolutionFailed
	if m.Reason == MappingReasonAmbiguous {
		code = ErrCodeResolutionAmbiguous
	}
	return &AppError{Code: code, Message: m.Reason, Metadata: map[string]any{"kakao_place_id": m.SourceID}}
}

type Review struct {
	ReviewID    string     `json:"review_id"`
	Content     string     `json:"content"`
	Author      string     `json:"author,omitempty"`
	PostedAtRaw string     `json:"posted_at_raw,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
	TargetPlace string     `json:"naver_place_id,omitempty"`
}

type Photo struct {
	PhotoID     string            `json:"photo_id"`
	ImageURL    string            `json:"image_url"`
	CapturedAt  *time.Time        `json:"captured_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TargetPlace string            `json:"naver_place_id,omitempty"`
}

// RatingSummary fields are nil when the page did not expose them.
type RatingSummary struct {
	AverageRating *float64 `json:"average_rating,omitempty"`
	RatingCount   *int     `json:"rating_count,omitempty"`
}

func (r RatingSummary) Empty() bool { return r.AverageRating == nil && r.RatingCount == nil }

type CrawlStatus string

const (
	CrawlStatusCompleted CrawlStatus = "COMPLETED"
	CrawlStatusPartial   CrawlStatus = "PARTIAL"
	CrawlStatusFailed    CrawlStatus = "FAILED"
	CrawlStatusSkipped   CrawlStatus = "SKIPPED"
)

type CrawlResult struct {
	TargetID      string        `json:"naver_place_id"`
	Reviews       []Review      `json:"reviews"`
	Photos        []Photo       `json:"photos"`
	RatingSummary RatingSummary `json:"rating_summary"`
	Status        CrawlStatus   `json:"status"`
	Warnings      []string      `json:"warnings,omitempty"`
	SkipReason    string        `json:"skip_reason,omitempty"`
}

// Err reports a degraded crawl as a coded error for logging.
func (c CrawlResult) Err() error {
	if c.Status != CrawlStatusPartial {
		return nil
	}
	return &AppError{Code: ErrCodeCrawlPartial, Message: "one or more crawl channels failed",
		Metadata: map[string]any{"warnings": c.Warnings}}
}

// PlaceFeatures is the feature store record of one directory place.
type PlaceFeatures struct {
	KakaoPlaceID          string                `json:"kakao_place_id"`
	Rating                *float64              `json:"rating,omitempty"`
	RatingCount           *int                  `json:"rating_count,omitempty"`
	PhotoURLs             []string              `json:"photo_urls,omitempty"`
	ActivityIntro         string                `json:"activity_intro,omitempty"`
	MappingReason         string                `json:"mapping_reason,omitempty"`
	PhotoCollectionStatus PhotoCollectionStatus `json:"photo_collection_status,omitempty"`
	PhotoCollectionReason string                `json:"photo_collection_reason,omitempty"`
	LastIngestedAt        *time.Time            `json:"last_ingested_at,omitempty"`
}
