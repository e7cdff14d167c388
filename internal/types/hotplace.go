package types

import (
	"strconv"
	"strings"
)

type Participant struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// MidpointHotplaceRequest is the input of a midpoint recommendation.
// StationLimit, Pages and Keywords are accepted for compatibility but the
// service always runs with its own fixed values for them.
type MidpointHotplaceRequest struct {
	Participants  []Participant `json:"participants" validate:"required,min=1,max=20,dive"`
	StationRadius int           `json:"station_radius,omitempty" validate:"omitempty,min=100,max=20000"`
	StationLimit  int           `json:"station_limit,omitempty" validate:"omitempty,min=1,max=15"`
	PlaceRadius   int           `json:"place_radius,omitempty" validate:"omitempty,min=100,max=20000"`
	Keywords      []string      `json:"keywords,omitempty" validate:"omitempty,max=100,dive,max=40"`
	Size          int           `json:"size,omitempty" validate:"omitempty,min=1,max=15"`
	Pages         int           `json:"pages,omitempty" validate:"omitempty,min=1,max=45"`
	WeatherKey    *string       `json:"weather_key,omitempty" validate:"omitempty,max=32"`
}

type Midpoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Anchor is a transit station used as the pivot of keyword searches.
type Anchor struct {
	KakaoPlaceID string  `json:"kakao_place_id"`
	StationName  string  `json:"station_name"`
	RawName      string  `json:"raw_name"`
	CategoryName string  `json:"category_name,omitempty"`
	AddressName  string  `json:"address_name,omitempty"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Distance     *int    `json:"distance,omitempty"`
}

type PhotoCollectionStatus string

const (
	PhotoCollectionPending PhotoCollectionStatus = "PENDING"
	PhotoCollectionReady   PhotoCollectionStatus = "READY"
	PhotoCollectionEmpty   PhotoCollectionStatus = "EMPTY"
	PhotoCollectionFailed  PhotoCollectionStatus = "FAILED"
)

// Hotplace is a candidate place found around an anchor. X is longitude and
// Y latitude, following the directory's convention.
type Hotplace struct {
	KakaoPlaceID    string  `json:"kakao_place_id"`
	PlaceName       string  `json:"place_name"`
	CategoryName    string  `json:"category_name,omitempty"`
	AddressName     string  `json:"address_name,omitempty"`
	RoadAddressName string  `json:"road_address_name,omitempty"`
	PlaceURL        string  `json:"place_url,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Distance        *int    `json:"distance,omitempty"`
	SourceStation   string  `json:"source_station"`
	SourceKeyword   string  `json:"source_keyword"`

	PhotoURLs              []string              `json:"photo_urls,omitempty"`
	RepresentativePhotoURL *string               `json:"representative_photo_url,omitempty"`
	Rating                 *float64              `json:"rating,omitempty"`
	RatingCount            *int                  `json:"rating_count,omitempty"`
	ActivityIntro          string                `json:"activity_intro,omitempty"`
	PhotoCollectionStatus  PhotoCollectionStatus `json:"photo_collection_status,omitempty"`
	PhotoCollectionReason  string                `json:"photo_collection_reason,omitempty"`
	MappingIssueReason     string                `json:"mapping_issue_reason,omitempty"`
	RankingScore           *float64              `json:"ranking_score,omitempty"`
	RankingReasons         []string              `json:"ranking_reasons,omitempty"`
}

type MidpointHotplaceMeta struct {
	StationLimit               int     `json:"station_limit"`
	Pages                      int     `json:"pages"`
	ExecutedKeywordCount       int     `json:"executed_keyword_count"`
	ExpectedKakaoAPICallCount  int     `json:"expected_kakao_api_call_count"`
	ActualKakaoAPICallCount    int     `json:"actual_kakao_api_call_count"`
	CacheHit                   bool    `json:"cache_hit"`
	HotplaceCount              int     `json:"hotplace_count"`
	WeatherKey                 *string `json:"weather_key,omitempty"`
	IngestionEnqueuedJobID     *string `json:"ingestion_job_id,omitempty"`
	HiddenForMappingIssueCount int     `json:"hidden_for_mapping_issue_count"`
}

type MidpointHotplaceResponse struct {
	Midpoint  Midpoint             `json:"midpoint"`
	Stations  []Anchor             `json:"stations"`
	Hotplaces []Hotplace           `json:"hotplaces"`
	Meta      MidpointHotplaceMeta `json:"meta"`
}

// DirectoryDocument is one search hit of the places directory. Numeric fields
// arrive as strings.
type DirectoryDocument struct {
	ID                string `json:"id"`
	PlaceName         string `json:"place_name"`
	CategoryName      string `json:"category_name"`
	CategoryGroupCode string `json:"category_group_code"`
	AddressName       string `json:"address_name"`
	RoadAddressName   string `json:"road_address_name"`
	PlaceURL          string `json:"place_url"`
	Phone             string `json:"phone"`
	X                 string `json:"x"`
	Y                 string `json:"y"`
	Distance          string `json:"distance"`
}

// Coordinates returns the document position as (lat, lng).
func (d DirectoryDocument) Coordinates() (lat, lng float64, ok bool) {
	x, errX := strconv.ParseFloat(strings.TrimSpace(d.X), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(d.Y), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return y, x, true
}

// DistanceMeters returns nil when the directory did not report a distance.
func (d DirectoryDocument) DistanceMeters() *int {
	raw := strings.TrimSpace(d.Distance)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	m := int(v)
	return &m
}
