package types

import (
	"time"

	"github.com/google/uuid"
)

type IngestionJobStatus string

const (
	IngestionJobPending   IngestionJobStatus = "PENDING"
	IngestionJobRunning   IngestionJobStatus = "RUNNING"
	IngestionJobCompleted IngestionJobStatus = "COMPLETED"
	IngestionJobPartial   IngestionJobStatus = "PARTIAL"
	IngestionJobFailed    IngestionJobStatus = "FAILED"
)

// IngestionHotplace is the subset of a Hotplace the ingestion pipeline needs.
type IngestionHotplace struct {
	KakaoPlaceID    string   `json:"kakao_place_id" validate:"required,max=64"`
	PlaceName       string   `json:"place_name" validate:"max=200"`
	CategoryName    string   `json:"category_name,omitempty"`
	AddressName     string   `json:"address_name,omitempty"`
	RoadAddressName string   `json:"road_address_name,omitempty"`
	X               *float64 `json:"x,omitempty"`
	Y               *float64 `json:"y,omitempty"`
	SourceStation   string   `json:"source_station,omitempty"`
	SourceKeyword   string   `json:"source_keyword,omitempty"`
}

type CreateIngestionJobRequest struct {
	Hotplaces      []IngestionHotplace `json:"hotplaces" validate:"required,min=1,max=500,dive"`
	Source         string              `json:"source" validate:"required,max=64"`
	RequestContext map[string]any      `json:"request_context,omitempty"`
}

type CreateIngestionJobResponse struct {
	JobID      uuid.UUID          `json:"job_id"`
	Status     IngestionJobStatus `json:"status"`
	TotalItems int                `json:"total_items"`
}

type IngestionJob struct {
	ID             uuid.UUID          `json:"id"`
	Source         string             `json:"source"`
	Status         IngestionJobStatus `json:"status"`
	TotalItems     int                `json:"total_items"`
	ProcessedItems int                `json:"processed_items"`
	FailedItems    int                `json:"failed_items"`
	Meta           map[string]any     `json:"meta,omitempty"`
	RequestContext map[string]any     `json:"request_context,omitempty"`
	ErrorMessage   *string            `json:"error_message,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Items          []IngestionJobItem `json:"items,omitempty"`
}

type IngestionJobItem struct {
	ID           uuid.UUID          `json:"id"`
	JobID        uuid.UUID          `json:"job_id"`
	KakaoPlaceID string             `json:"kakao_place_id"`
	Payload      IngestionHotplace  `json:"payload"`
	Status       IngestionJobStatus `json:"status"`
	ErrorMessage *string            `json:"error_message,omitempty"`
}
