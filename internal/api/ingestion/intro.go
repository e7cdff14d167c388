package ingestion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/serene416/friend/internal/types"
)

const (
	minReviewTextRunes = 3
	maxIntroLabels     = 3
	fallbackIntroTail  = "아직 리뷰가 충분하지 않아 기본 정보 중심으로 소개해요."
)

// introLabels maps a review signal to the phrases that evidence it. Order
// breaks ties between equally frequent labels.
var introLabels = []struct {
	label   string
	phrases []string
}{
	{"분위기", []string{"분위기", "감성", "아늑"}},
	{"친절", []string{"친절", "서비스"}},
	{"가성비", []string{"가성비", "저렴", "가격"}},
	{"청결", []string{"청결", "깨끗", "깔끔"}},
	{"인테리어", []string{"인테리어", "예쁘", "예뻐"}},
	{"맛", []string{"맛있", "맛집", "음식"}},
	{"재방문", []string{"재방문", "또 오", "또 가", "다시 오", "다시 가"}},
	{"데이트", []string{"데이트", "커플", "연인"}},
}

// extractReviewTexts returns whitespace-normalized review bodies, first
// occurrence only, skipping texts too short to carry a signal.
func extractReviewTexts(reviews []types.Review) []string {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]string, 0, len(reviews))
	for _, r := range reviews {
		text := strings.Join(strings.Fields(r.Content), " ")
		if len([]rune(text)) < minReviewTextRunes {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// reviewSignals counts, per label, how many reviews mention it and returns
// the most frequent labels.
func reviewSignals(texts []string) []string {
	type hit struct {
		label string
		order int
		count int
	}
	var hits []hit
	for i, l := range introLabels {
		count := 0
		for _, text := range texts {
			for _, p := range l.phrases {
				if strings.Contains(text, p) {
					count++
					break
				}
			}
		}
		if count > 0 {
			hits = append(hits, hit{label: l.label, order: i, count: count})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].order < hits[j].order
	})

	labels := make([]string, 0, maxIntroLabels)
	for _, h := range hits {
		if len(labels) == maxIntroLabels {
			break
		}
		labels = append(labels, h.label)
	}
	return labels
}

// ratingText renders a summary such as "네이버 평점 4.4점(231명)".
func ratingText(summary types.RatingSummary) string {
	if summary.AverageRating == nil {
		return ""
	}
	text := fmt.Sprintf("네이버 평점 %.1f점", math.Round(*summary.AverageRating*10)/10)
	if summary.RatingCount != nil && *summary.RatingCount > 0 {
		text += fmt.Sprintf("(%d명)", *summary.RatingCount)
	}
	return text
}

// BuildPlaceIntro writes the short description stored with a place's
// features. Review signals lead when present; otherwise the intro says it is
// based on basic information only.
func BuildPlaceIntro(item types.IngestionHotplace, reviews []types.Review, summary types.RatingSummary) string {
	name := strings.TrimSpace(item.PlaceName)
	if name == "" {
		name = "이곳"
	}

	var b strings.Builder
	b.WriteString(name + withParticle(name, "은", "는") + " ")
	if station := strings.TrimSpace(item.SourceStation); station != "" {
		b.WriteString(station + " 근처 ")
	}
	if keyword := strings.TrimSpace(item.SourceKeyword); keyword != "" {
		b.WriteString(keyword + " ")
	}
	b.WriteString("장소예요.")

	if labels := reviewSignals(extractReviewTexts(reviews)); len(labels) > 0 {
		joined := strings.Join(labels, ", ")
		b.WriteString(" 리뷰에서는 " + joined + withParticle(joined, "이", "가") + " 자주 언급돼요.")
	} else {
		b.WriteString(" " + fallbackIntroTail)
	}

	if rating := ratingText(summary); rating != "" {
		b.WriteString(" " + rating + "이에요.")
	}
	return b.String()
}

// withParticle picks the particle form that follows the last syllable of s.
// Non-Hangul endings take the vowel form.
func withParticle(s, afterConsonant, afterVowel string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) == 0 {
		return afterVowel
	}
	last := runes[len(runes)-1]
	if last < 0xAC00 || last > 0xD7A3 || (last-0xAC00)%28 == 0 {
		return afterVowel
	}
	return afterConsonant
}
