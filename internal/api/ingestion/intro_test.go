package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/serene416/friend/internal/types"
)

func ptr[T any](v T) *T { return &v }

func reviews(contents ...string) []types.Review {
	out := make([]types.Review, 0, len(contents))
	for _, c := range contents {
		out = append(out, types.Review{Content: c})
	}
	return out
}

func TestExtractReviewTexts_DeduplicatesAndTrims(t *testing.T) {
	got := extractReviewTexts(reviews("  분위기가 좋아요  ", "분위기가    좋아요", "ok", ""))
	assert.Equal(t, []string{"분위기가 좋아요"}, got)
}

func TestBuildPlaceIntro_UsesReviewSignalsAndRating(t *testing.T) {
	item := types.IngestionHotplace{
		PlaceName:     "테스트 플레이스",
		SourceKeyword: "보드게임카페",
		SourceStation: "강남역",
	}

	intro := BuildPlaceIntro(item,
		reviews("분위기도 좋고 서비스가 친절해서 만족했어요.", "가성비가 괜찮고 인테리어가 깔끔해요."),
		types.RatingSummary{AverageRating: ptr(4.36), RatingCount: ptr(231)},
	)

	assert.Contains(t, intro, "강남역 근처")
	assert.Contains(t, intro, "분위기")
	assert.Contains(t, intro, "네이버 평점 4.4점(231명)")
	assert.Equal(t,
		"테스트 플레이스는 강남역 근처 보드게임카페 장소예요. 리뷰에서는 분위기, 친절, 가성비가 자주 언급돼요. "+
			"네이버 평점 4.4점(231명)이에요.",
		intro)
}

func TestBuildPlaceIntro_FallsBackWithoutReviews(t *testing.T) {
	intro := BuildPlaceIntro(
		types.IngestionHotplace{PlaceName: "테스트 플레이스", SourceStation: "잠실역"},
		nil,
		types.RatingSummary{},
	)

	assert.Contains(t, intro, "잠실역 근처")
	assert.Contains(t, intro, "기본 정보 중심")
	assert.NotContains(t, intro, "네이버 평점")
}

func TestReviewSignals_OrderedByFrequency(t *testing.T) {
	texts := extractReviewTexts(reviews("맛있어요", "음식이 맛있고 분위기도 좋아요", "여기 맛집", "깔끔한 곳"))
	assert.Equal(t, []string{"맛", "분위기", "청결"}, reviewSignals(texts))
}

func TestRatingText(t *testing.T) {
	assert.Equal(t, "", ratingText(types.RatingSummary{RatingCount: ptr(10)}))
	assert.Equal(t, "네이버 평점 4.0점", ratingText(types.RatingSummary{AverageRating: ptr(4.0)}))
	assert.Equal(t, "네이버 평점 3.5점(12명)", ratingText(types.RatingSummary{AverageRating: ptr(3.46), RatingCount: ptr(12)}))
}

func TestWithParticle(t *testing.T) {
	assert.Equal(t, "는", withParticle("카페", "은", "는"))
	assert.Equal(t, "은", withParticle("식당", "은", "는"))
	assert.Equal(t, "는", withParticle("PC", "은", "는"))
	assert.Equal(t, "는", withParticle("", "은", "는"))
}
