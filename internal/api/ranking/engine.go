package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/serene416/friend/internal/types"
)

const (
	neutralScore = 0.5
	maxReasons   = 3
)

type Weights struct {
	Distance   float64
	Rating     float64
	Weather    float64
	Confidence float64
}

func (w Weights) sum() float64 { return w.Distance + w.Rating + w.Weather + w.Confidence }

type Config struct {
	DistanceDecayMeters    float64
	DistanceFairnessMeters float64
	PriorMean              float64
	PriorWeight            float64
	RatingBaseline         float64
	RatingSpread           float64
	ConfidenceMaxCount     float64
	ConfidenceExponent     float64
	Neutral                Weights
	Precipitation          Weights
}

func DefaultConfig() Config {
	return Config{
		DistanceDecayMeters:    3000,
		DistanceFairnessMeters: 1500,
		PriorMean:              4.0,
		PriorWeight:            20,
		RatingBaseline:         4.0,
		RatingSpread:           2.0,
		ConfidenceMaxCount:     3000,
		ConfidenceExponent:     1.6,
		Neutral:                Weights{Distance: 0.40, Rating: 0.25, Weather: 0.15, Confidence: 0.20},
		Precipitation:          Weights{Distance: 0.25, Rating: 0.20, Weather: 0.40, Confidence: 0.15},
	}
}

// Engine scores and orders candidates. It holds no mutable state.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

type scored struct {
	hotplace types.Hotplace
	score    float64
}

// Rank returns a new slice ordered by score desc, rating count desc,
// directory distance asc (nil last), then id. Candidates rated exactly 0 are
// dropped when any candidate carries a positive rating.
func (e *Engine) Rank(hotplaces []types.Hotplace, participants []types.Participant, weatherKey string) []types.Hotplace {
	weather := NormalizeWeather(weatherKey)
	weights := e.cfg.Neutral
	if weather.IsPrecipitation() {
		weights = e.cfg.Precipitation
	}
	total := weights.sum()
	if total <= 0 {
		total = 1
	}

	hasPositive := false
	for _, h := range hotplaces {
		if h.Rating != nil && *h.Rating > 0 {
			hasPositive = true
			break
		}
	}

	results := make([]scored, 0, len(hotplaces))
	for _, h := range hotplaces {
		if hasPositive && h.Rating != nil && *h.Rating == 0 {
			continue
		}

		dist, distOK, meanMeters, stdMeters := e.distanceScore(h, participants)
		rating := e.ratingScore(h)
		confidence := e.confidenceScore(h)
		category := CategorizeActivity(h.SourceKeyword, h.CategoryName, h.PlaceName)
		weatherFit, weatherOK := WeatherSuitability(category, weather)

		score := (weights.Distance*dist + weights.Rating*rating +
			weights.Weather*weatherFit + weights.Confidence*confidence) / total
		score = round4(clamp01(score))

		h.RankingScore = &score
		h.RankingReasons = buildReasons(h, len(participants), distOK, meanMeters, stdMeters,
			weatherOK, weatherFit, weather, category)
		results = append(results, scored{hotplace: h, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		ca, cb := countOf(a.hotplace), countOf(b.hotplace)
		if ca != cb {
			return ca > cb
		}
		da, db := a.hotplace.Distance, b.hotplace.Distance
		switch {
		case da != nil && db == nil:
			return true
		case da == nil && db != nil:
			return false
		case da != nil && db != nil && *da != *db:
			return *da < *db
		}
		return a.hotplace.KakaoPlaceID < b.hotplace.KakaoPlaceID
	})

	ranked := make([]types.Hotplace, len(results))
	for i, r := range results {
		ranked[i] = r.hotplace
	}
	return ranked
}

// distanceScore is exp(-mean/decay)*exp(-std/fairness) over the distances
// to every valid participant, or neutral when no distance can be computed.
func (e *Engine) distanceScore(h types.Hotplace, participants []types.Participant) (score float64, ok bool, mean, std float64) {
	if !ValidCoordinate(h.Y, h.X) {
		return neutralScore, false, 0, 0
	}
	distances := make([]float64, 0, len(participants))
	for _, p := range participants {
		if !ValidCoordinate(p.Lat, p.Lng) {
			continue
		}
		distances = append(distances, HaversineMeters(p.Lat, p.Lng, h.Y, h.X))
	}
	if len(distances) == 0 {
		return neutralScore, false, 0, 0
	}
	mean, std = meanStd(distances)
	score = math.Exp(-mean/e.cfg.DistanceDecayMeters) * math.Exp(-std/e.cfg.DistanceFairnessMeters)
	return score, true, mean, std
}

// ratingScore shrinks the observed rating toward the prior by evidence
// count, then maps it linearly around the baseline.
func (e *Engine) ratingScore(h types.Hotplace) float64 {
	if h.Rating == nil {
		return neutralScore
	}
	n := float64(countOf(h))
	if n < 0 {
		n = 0
	}
	k := e.cfg.PriorWeight
	shrunk := (n/(n+k))*(*h.Rating) + (k/(n+k))*e.cfg.PriorMean
	return clamp01(neutralScore + (shrunk-e.cfg.RatingBaseline)/e.cfg.RatingSpread)
}

func (e *Engine) confidenceScore(h types.Hotplace) float64 {
	n := float64(countOf(h))
	if n <= 0 {
		return 0
	}
	ratio := math.Log1p(n) / math.Log1p(e.cfg.ConfidenceMaxCount)
	return math.Pow(math.Min(1, ratio), e.cfg.ConfidenceExponent)
}

func buildReasons(h types.Hotplace, participantCount int, distOK bool, mean, std float64,
	weatherOK bool, weatherFit float64, weather Weather, category ActivityCategory) []string {
	reasons := make([]string, 0, maxReasons)

	if distOK {
		km := mean / 1000
		if participantCount > 1 && std < 500 {
			reasons = append(reasons, fmt.Sprintf("모두에게 평균 %.1fkm로 비슷한 거리예요", km))
		} else {
			reasons = append(reasons, fmt.Sprintf("참여자 평균 %.1fkm 거리예요", km))
		}
	}

	if weatherOK {
		switch {
		case weatherFit >= 0.8:
			reasons = append(reasons, fmt.Sprintf("%s 날씨에 어울리는 %s예요", weather.label(), category.label()))
		case weatherFit <= 0.35:
			reasons = append(reasons, fmt.Sprintf("%s 날씨에는 아쉬울 수 있는 %s예요", weather.label(), category.label()))
		}
	}

	if h.Rating != nil && *h.Rating > 0 {
		if h.RatingCount != nil && *h.RatingCount > 0 {
			reasons = append(reasons, fmt.Sprintf("네이버 평점 %.1f점 (%d명 참여)", *h.Rating, *h.RatingCount))
		} else {
			reasons = append(reasons, fmt.Sprintf("네이버 평점 %.1f점", *h.Rating))
		}
	}

	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	return reasons
}

func countOf(h types.Hotplace) int {
	if h.RatingCount == nil {
		return 0
	}
	return *h.RatingCount
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
