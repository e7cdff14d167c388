package crawler

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/serene416/friend/internal/types"
)

// Visible text is read first. Embedded JSON fields are the fallback.
var (
	ratingScoreCountHTMLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"visitorReviewsScore"\s*:\s*"?([0-5](?:\.\d{1,3})?)"?[\s\S]{0,240}?"visitorReviewsTotal"\s*:\s*"?([0-9][0-9,]*)"?`),
		regexp.MustCompile(`(?i)"avgRating"\s*:\s*"?([0-5](?:\.\d{1,3})?)"?[\s\S]{0,240}?"totalCount"\s*:\s*"?([0-9][0-9,]*)"?`),
	}
	ratingScoreTextPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:별점|평점)\s*([0-5](?:[.,]\d{1,2})?)`),
		regexp.MustCompile(`([0-5](?:[.,]\d{1,2})?)\s*(?:점|/5)`),
	}
	ratingScoreHTMLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"(?:visitorReviewScore|starScore|averageRating|ratingScore)"\s*:\s*"?([0-5](?:\.\d{1,3})?)"?`),
		regexp.MustCompile(`(?i)"visitorReviewsScore"\s*:\s*"?([0-5](?:\.\d{1,3})?)"?`),
		regexp.MustCompile(`(?i)"avgRating"\s*:\s*"?([0-5](?:\.\d{1,3})?)"?`),
	}
	ratingCountTextPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:평점|별점)\s*(?:참여|인원|인증)?\s*([0-9][0-9,]*)\s*명`),
		regexp.MustCompile(`([0-9][0-9,]*)\s*명(?:이|의)?\s*(?:평점|별점)`),
		regexp.MustCompile(`([0-9][0-9,]*)\s*명\s*참여`),
		regexp.MustCompile(`([0-9][0-9,]*)\s*개\s*평점`),
	}
	ratingCountHTMLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"(?:visitorReviewScoreCount|visitorReviewCount|ratingCount|starCount)"\s*:\s*"?([0-9][0-9,]*)"?`),
		regexp.MustCompile(`(?i)"visitorReviewsTotal"\s*:\s*"?([0-9][0-9,]*)"?`),
	}
	nonDecimal = regexp.MustCompile(`[^0-9.]+`)
)

// ParseRatingSummary reads the average rating and the number of raters from
// the visible page text, falling back to fields embedded in the HTML.
func ParseRatingSummary(text, html string) types.RatingSummary {
	text = squash(text)
	var (
		score *float64
		count *int
	)

	for _, p := range ratingScoreCountHTMLPatterns {
		m := p.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		if s, ok := parseRatingScore(m[1]); ok {
			score = &s
		}
		if c, ok := parseRatingCount(m[2]); ok {
			count = &c
		}
		if score != nil && count != nil {
			break
		}
	}

	if s, ok := firstScore(ratingScoreTextPatterns, text); ok {
		score = &s
	}
	if score == nil {
		if s, ok := firstScore(ratingScoreHTMLPatterns, html); ok {
			score = &s
		}
	}
	if count == nil {
		if c, ok := firstCount(ratingCountTextPatterns, text); ok {
			count = &c
		}
	}
	if count == nil {
		if c, ok := firstCount(ratingCountHTMLPatterns, html); ok {
			count = &c
		}
	}
	return types.RatingSummary{AverageRating: score, RatingCount: count}
}

// VisibleText returns the rendered text of the page body without script and
// style contents. doc is left untouched.
func VisibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}

func firstScore(patterns []*regexp.Regexp, s string) (float64, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			if v, ok := parseRatingScore(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func firstCount(patterns []*regexp.Regexp, s string) (int, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			if v, ok := parseRatingCount(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func parseRatingScore(raw string) (float64, bool) {
	cleaned := nonDecimal.ReplaceAllString(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return math.Round(v*100) / 100, true
}

func parseRatingCount(raw string) (int, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.Atoi(b.String())
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
