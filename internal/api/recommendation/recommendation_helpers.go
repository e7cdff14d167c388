package recommendation

import (
	"math"
	"sort"
	"strings"

	"github.com/serene416/friend/internal/api/features"
	"github.com/serene416/friend/internal/api/ranking"
	"github.com/serene416/friend/internal/types"
)

// Directory hits containing these terms are construction or interior
// businesses that share keywords with leisure places.
var irrelevantTerms = []string{"인테리어", "디자인", "건설", "토목", "시공", "리모델링", "설계"}

func computeMidpoint(participants []types.Participant) types.Midpoint {
	var lat, lng float64
	for _, p := range participants {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(participants))
	return types.Midpoint{Lat: lat / n, Lng: lng / n}
}

// stationDisplayName keeps the first token of the raw station name, drops
// any parenthetical line suffix and guarantees the trailing "역".
// "강남역 2호선" and "강남(신분당)" both become "강남역".
func stationDisplayName(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if i := strings.IndexAny(name, "(（"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, "역") {
		name += "역"
	}
	return name
}

func buildAnchor(doc types.DirectoryDocument) (types.Anchor, bool) {
	id := strings.TrimSpace(doc.ID)
	name := stationDisplayName(doc.PlaceName)
	if id == "" || name == "" {
		return types.Anchor{}, false
	}
	lat, lng, ok := doc.Coordinates()
	if !ok {
		return types.Anchor{}, false
	}
	return types.Anchor{
		KakaoPlaceID: id,
		StationName:  name,
		RawName:      doc.PlaceName,
		CategoryName: doc.CategoryName,
		AddressName:  doc.AddressName,
		Lat:          lat,
		Lng:          lng,
		Distance:     doc.DistanceMeters(),
	}, true
}

func isIrrelevant(doc types.DirectoryDocument) bool {
	haystack := doc.PlaceName + " " + doc.CategoryName + " " + doc.AddressName
	for _, term := range irrelevantTerms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func buildHotplace(doc types.DirectoryDocument, station, keyword string) (types.Hotplace, bool) {
	id := strings.TrimSpace(doc.ID)
	name := strings.TrimSpace(doc.PlaceName)
	if id == "" || name == "" || isIrrelevant(doc) {
		return types.Hotplace{}, false
	}
	h := types.Hotplace{
		KakaoPlaceID:    id,
		PlaceName:       name,
		CategoryName:    doc.CategoryName,
		AddressName:     doc.AddressName,
		RoadAddressName: doc.RoadAddressName,
		PlaceURL:        doc.PlaceURL,
		Phone:           doc.Phone,
		Distance:        doc.DistanceMeters(),
		SourceStation:   station,
		SourceKeyword:   keyword,
	}
	if lat, lng, ok := doc.Coordinates(); ok {
		h.Y, h.X = lat, lng
	}
	return h, true
}

// cacheKeyPayload holds every input that changes the aggregation result.
// Participants are rounded and sorted so that the same group in any order
// shares an entry.
func cacheKeyPayload(participants []types.Participant, opts effectiveOptions, weather string) map[string]any {
	points := make([][2]float64, len(participants))
	for i, p := range participants {
		points[i] = [2]float64{round5(p.Lat), round5(p.Lng)}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i][0] != points[j][0] {
			return points[i][0] < points[j][0]
		}
		return points[i][1] < points[j][1]
	})
	return map[string]any{
		"participants":   points,
		"station_radius": opts.StationRadius,
		"station_limit":  opts.StationLimit,
		"place_radius":   opts.PlaceRadius,
		"size":           opts.Size,
		"pages":          opts.Pages,
		"keywords":       opts.Keywords,
		"weather":        weather,
	}
}

// cacheWeatherKey normalizes the weather input for cache keys. Unrecognized
// values are kept verbatim so distinct inputs never collide.
func cacheWeatherKey(raw *string) string {
	if raw == nil {
		return ""
	}
	trimmed := strings.TrimSpace(*raw)
	if w := ranking.NormalizeWeather(trimmed); w != ranking.WeatherUnknown {
		return string(w)
	}
	return strings.ToLower(trimmed)
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// hasBatchim reports whether the last Hangul syllable of s ends in a final
// consonant. Non-Hangul endings count as vowel endings.
func hasBatchim(s string) bool {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) == 0 {
		return false
	}
	last := runes[len(runes)-1]
	if last < 0xAC00 || last > 0xD7A3 {
		return false
	}
	return (last-0xAC00)%28 != 0
}

func topicParticle(s string) string {
	if hasBatchim(s) {
		return "은"
	}
	return "는"
}

func objectParticle(s string) string {
	if hasBatchim(s) {
		return "을"
	}
	return "를"
}

// defaultActivityIntro is shown until the ingestion worker stores a real
// intro for the place.
func defaultActivityIntro(placeName, station, keyword, category string) string {
	activity := strings.TrimSpace(keyword)
	if activity == "" {
		if parts := strings.Split(category, ">"); len(parts) > 0 {
			activity = strings.TrimSpace(parts[len(parts)-1])
		}
	}
	if activity == "" {
		activity = "시간"
	}
	name := strings.TrimSpace(placeName)
	if station == "" {
		return name + topicParticle(name) + " " + activity + objectParticle(activity) + " 즐기기 좋은 장소예요."
	}
	return name + topicParticle(name) + " " + station + " 근처에서 " + activity + objectParticle(activity) + " 즐기기 좋은 장소예요."
}

// applyFeatures copies stored signals onto h. It reports false when the
// features hide the place.
func applyFeatures(h *types.Hotplace, f types.PlaceFeatures, found bool) bool {
	if found && features.Hidden(f) {
		return false
	}
	h.PhotoCollectionStatus = types.PhotoCollectionPending
	h.ActivityIntro = defaultActivityIntro(h.PlaceName, h.SourceStation, h.SourceKeyword, h.CategoryName)
	if !found {
		return true
	}

	h.Rating = f.Rating
	h.RatingCount = f.RatingCount
	if len(f.PhotoURLs) > 0 {
		h.PhotoURLs = append([]string(nil), f.PhotoURLs...)
		first := f.PhotoURLs[0]
		h.RepresentativePhotoURL = &first
	}
	if intro := strings.TrimSpace(f.ActivityIntro); intro != "" {
		h.ActivityIntro = intro
	}
	h.PhotoCollectionStatus = features.PhotoStatus(f)
	h.PhotoCollectionReason = f.PhotoCollectionReason
	if h.PhotoCollectionReason == "" {
		h.PhotoCollectionReason = f.MappingReason
	}
	h.MappingIssueReason = f.MappingReason
	return true
}
