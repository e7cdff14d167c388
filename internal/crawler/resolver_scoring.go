package crawler

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/serene416/friend/internal/api/ranking"
	"github.com/serene416/friend/internal/types"
)

const (
	ambiguityGap        = 0.08
	strongRegionSignal  = 0.34
	maxTopCandidates    = 3
	maxRegionTokens     = 3
	contextProximityMax = 2000.0
)

var (
	nonWordPattern    = regexp.MustCompile(`[^0-9a-z가-힣\s]+`)
	addressSuffixTrim = regexp.MustCompile(`(?:\s+\d+[층호]\S*)+$`)

	noisyNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^이미지수\s*\d+`),
		regexp.MustCompile(`지도보기`),
		regexp.MustCompile(`영업\s*중`),
		regexp.MustCompile(`운영\s*중`),
		regexp.MustCompile(`운영\s*종료`),
	}

	placeIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/place/(\d+)`),
		regexp.MustCompile(`/restaurant/(\d+)`),
		regexp.MustCompile(`entry/place/(\d+)`),
		regexp.MustCompile(`[?&]placeId=(\d+)`),
	}
)

func normalizeText(s string) string {
	return squash(nonWordPattern.ReplaceAllString(strings.ToLower(s), " "))
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}

// NameSimilarity blends a character sequence ratio with token overlap and
// lifts names where one contains the other.
func NameSimilarity(left, right string) float64 {
	l, r := normalizeText(left), normalizeText(right)
	if l == "" || r == "" {
		return 0
	}
	lc, rc := strings.ReplaceAll(l, " ", ""), strings.ReplaceAll(r, " ", "")
	ratio := difflib.NewMatcher(runeStrings(lc), runeStrings(rc)).Ratio()

	lt, rt := tokenSet(l), tokenSet(r)
	overlap := 0.0
	if len(lt) > 0 && len(rt) > 0 {
		shared := 0
		for t := range lt {
			if _, ok := rt[t]; ok {
				shared++
			}
		}
		overlap = float64(shared) / float64(max(len(lt), len(rt)))
	}

	score := ratio*0.8 + overlap*0.2
	if strings.Contains(rc, lc) || strings.Contains(lc, rc) {
		score = math.Max(score, math.Min(0.99, ratio+0.12))
	}
	return clamp01(score)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// regionTokens returns up to n leading address tokens usable as region hints.
func regionTokens(address string, n int) []string {
	var tokens []string
	for _, raw := range strings.Fields(address) {
		t := nonWordPattern.ReplaceAllString(strings.ToLower(raw), "")
		t = strings.Join(strings.Fields(t), "")
		if len([]rune(t)) < 2 || isAllDigits(t) {
			continue
		}
		tokens = append(tokens, t)
		if len(tokens) >= n {
			break
		}
	}
	return tokens
}

func regionSimilarity(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	compact := strings.ReplaceAll(normalizeText(text), " ", "")
	if compact == "" {
		return 0
	}
	matched := 0
	for _, t := range tokens {
		if strings.Contains(compact, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func distanceBand(d *float64) float64 {
	switch {
	case d == nil:
		return 0
	case *d <= 300:
		return 1
	case *d <= 1000:
		return 0.8
	case *d <= 3000:
		return 0.5
	case *d <= 5000:
		return 0.2
	default:
		return 0
	}
}

func cleanCandidateName(s string) string {
	s = squash(s)
	if before, _, found := strings.Cut(s, ","); found {
		s = strings.TrimSpace(before)
	}
	return s
}

func isNoisyName(s string) bool {
	name := cleanCandidateName(s)
	compact := strings.ReplaceAll(name, " ", "")
	if len([]rune(compact)) < 2 || isAllDigits(compact) {
		return true
	}
	for _, p := range noisyNamePatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

func parsePlaceID(href string) string {
	for _, p := range placeIDPatterns {
		if m := p.FindStringSubmatch(href); m != nil {
			return m[1]
		}
	}
	return ""
}

func distanceBetween(lat, lng, candLat, candLng *float64) *float64 {
	if lat == nil || lng == nil || candLat == nil || candLng == nil {
		return nil
	}
	d := ranking.HaversineMeters(*lat, *lng, *candLat, *candLng)
	return &d
}

// rawCandidate is one place link found on a search page.
type rawCandidate struct {
	PlaceID   string
	Name      string
	Lat, Lng  *float64
	Snippet   string
	SourceURL string
	Query     string
}

// scoreCandidates ranks candidates by confidence. The best one is nil when
// nothing was scored or when the top two cannot be told apart.
func scoreCandidates(name string, candidates []rawCandidate, lat, lng *float64, address string) (*types.PlaceCandidate, []types.PlaceCandidate) {
	tokens := regionTokens(address, maxRegionTokens)
	scored := make([]types.PlaceCandidate, 0, len(candidates))

	for _, c := range candidates {
		if strings.TrimSpace(c.PlaceID) == "" || strings.TrimSpace(c.Name) == "" {
			continue
		}
		dist := distanceBetween(lat, lng, c.Lat, c.Lng)
		region := regionSimilarity(tokens, strings.Join(nonEmpty(c.Name, c.Snippet, c.SourceURL), " "))
		nameScore := NameSimilarity(name, c.Name)
		band := distanceBand(dist)

		var confidence float64
		if dist == nil {
			confidence = nameScore*0.78 + region*0.22
		} else {
			confidence = nameScore*0.55 + region*0.10 + band*0.35
			switch {
			case *dist > 10000:
				confidence -= 0.35
			case *dist > 5000:
				confidence -= 0.18
			}
		}

		pc := types.PlaceCandidate{
			PlaceID:       c.PlaceID,
			Name:          c.Name,
			URL:           c.SourceURL,
			Query:         c.Query,
			Lat:           c.Lat,
			Lng:           c.Lng,
			NameScore:     round4(nameScore),
			RegionScore:   round4(region),
			DistanceScore: round4(band),
			Confidence:    round4(clamp01(confidence)),
		}
		if dist != nil {
			rounded := math.Round(*dist*100) / 100
			pc.DistanceMeters = &rounded
		}
		scored = append(scored, pc)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.RegionScore != b.RegionScore {
			return a.RegionScore > b.RegionScore
		}
		if a.NameScore != b.NameScore {
			return a.NameScore > b.NameScore
		}
		da, db := math.Inf(1), math.Inf(1)
		if a.DistanceMeters != nil {
			da = *a.DistanceMeters
		}
		if b.DistanceMeters != nil {
			db = *b.DistanceMeters
		}
		if da != db {
			return da < db
		}
		return a.PlaceID < b.PlaceID
	})

	best := scored[0]
	if len(scored) > 1 {
		second := scored[1]
		gap := best.Confidence - second.Confidence
		noDistance := best.DistanceMeters == nil && second.DistanceMeters == nil
		weakRegion := math.Max(best.RegionScore, second.RegionScore) < strongRegionSignal
		if gap < ambiguityGap && noDistance && weakRegion {
			return nil, scored
		}
	}
	return &best, scored
}

// pickContextDocument chooses the directory record describing the place. A
// document with the same id wins outright; otherwise name similarity plus a
// proximity bonus of up to 0.35 within 2 km decides.
func pickContextDocument(sourceID, name string, docs []types.DirectoryDocument, lat, lng *float64) (types.DirectoryDocument, bool) {
	if id := strings.TrimSpace(sourceID); id != "" {
		for _, d := range docs {
			if strings.TrimSpace(d.ID) == id {
				return d, true
			}
		}
	}

	var (
		best      types.DirectoryDocument
		bestScore = -1.0
		found     bool
	)
	for _, d := range docs {
		docName := strings.TrimSpace(d.PlaceName)
		if docName == "" {
			continue
		}
		score := NameSimilarity(name, docName)
		if dLat, dLng, ok := d.Coordinates(); ok {
			if dist := distanceBetween(lat, lng, &dLat, &dLng); dist != nil {
				score += math.Max(0, 0.35-math.Min(*dist, contextProximityMax)/contextProximityMax*0.35)
			}
		}
		if score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	return best, found
}

func addressQueryVariants(address string) []string {
	normalized := squash(address)
	if normalized == "" {
		return nil
	}
	variants := []string{normalized}
	if trimmed := strings.TrimSpace(addressSuffixTrim.ReplaceAllString(normalized, "")); trimmed != "" && trimmed != normalized {
		variants = append(variants, trimmed)
	}
	tokens := strings.Fields(normalized)
	if len(tokens) >= 3 {
		variants = append(variants, strings.Join(tokens[:3], " "))
	}
	if len(tokens) >= 4 {
		variants = append(variants, strings.Join(tokens[:4], " "))
	}
	return dedupeFold(variants)
}

// buildMappingQueries orders search queries from most to least specific:
// address variants, region tokens with the name, then the bare name.
func buildMappingQueries(name, address string) []string {
	name = squash(name)
	if name == "" {
		return nil
	}
	var queries []string
	for _, a := range addressQueryVariants(address) {
		queries = append(queries, a, a+" "+name)
	}
	if tokens := regionTokens(address, maxRegionTokens); len(tokens) > 0 {
		queries = append(queries,
			strings.Join(tokens, " ")+" "+name,
			strings.Join(tokens[:min(2, len(tokens))], " ")+" "+name,
		)
	}
	queries = append(queries, name)
	return dedupeFold(queries)
}

func dedupeFold(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = squash(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
