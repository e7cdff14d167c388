package recommendation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/internal/api/cache"
	"github.com/serene416/friend/internal/api/ranking"
	"github.com/serene416/friend/internal/types"
)

func TestPredefinedPlayKeywords(t *testing.T) {
	require.Len(t, PredefinedPlayKeywords, 57)
	seen := map[string]bool{}
	for _, keyword := range PredefinedPlayKeywords {
		assert.False(t, seen[keyword], "duplicate keyword %s", keyword)
		seen[keyword] = true
		assert.NotEqual(t, ranking.CategoryUnknown, ranking.CategorizeActivity(keyword, "", ""), keyword)
	}
}

func TestSearchPhrase(t *testing.T) {
	assert.Equal(t, "방탈출 카페", SearchPhrase("방탈출"))
	assert.Equal(t, "반지만들기", SearchPhrase("반지공방"))
	assert.Equal(t, "소품샵 구경", SearchPhrase("소품샵"))
	assert.Equal(t, "볼링장", SearchPhrase("볼링장"))
}

func TestStationDisplayName(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"강남역 2호선", "강남역"},
		{"강남역", "강남역"},
		{"강남(신분당)", "강남역"},
		{"  홍대입구  ", "홍대입구역"},
		{"", ""},
		{"(공사중)", ""},
		{"서울역 경의중앙선", "서울역"},
		{"신촌역(경의중앙선)", "신촌역"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stationDisplayName(tc.raw), tc.raw)
	}
}

func TestDefaultActivityIntro(t *testing.T) {
	assert.Equal(t,
		"테스트 장소는 강남역 근처에서 보드게임카페를 즐기기 좋은 장소예요.",
		defaultActivityIntro("테스트 장소", "강남역", "보드게임카페", "게임 카페"))
	assert.Equal(t,
		"볼링센터는 잠실역 근처에서 볼링장을 즐기기 좋은 장소예요.",
		defaultActivityIntro("볼링센터", "잠실역", "볼링장", ""))
	assert.Equal(t,
		"한강공원은 산책로를 즐기기 좋은 장소예요.",
		defaultActivityIntro("한강공원", "", "", "여행 > 공원 > 산책로"))
}

func TestHasBatchim(t *testing.T) {
	assert.True(t, hasBatchim("강남역"))
	assert.True(t, hasBatchim("공원"))
	assert.False(t, hasBatchim("카페"))
	assert.False(t, hasBatchim("VR"))
	assert.False(t, hasBatchim(""))
}

func TestBuildHotplace(t *testing.T) {
	h, ok := buildHotplace(types.DirectoryDocument{
		ID: " 42 ", PlaceName: "스트라이크 볼링", X: "127.03", Y: "37.50", Distance: "350",
	}, "강남역", "볼링장")
	require.True(t, ok)
	assert.Equal(t, "42", h.KakaoPlaceID)
	assert.Equal(t, 37.50, h.Y)
	assert.Equal(t, 127.03, h.X)
	require.NotNil(t, h.Distance)
	assert.Equal(t, 350, *h.Distance)

	_, ok = buildHotplace(types.DirectoryDocument{ID: "1", PlaceName: "한빛 리모델링"}, "강남역", "공방")
	assert.False(t, ok)
	_, ok = buildHotplace(types.DirectoryDocument{ID: "", PlaceName: "이름"}, "강남역", "공방")
	assert.False(t, ok)
}

func TestCacheKeyPayload(t *testing.T) {
	opts := effectiveOptions{StationRadius: 2000, StationLimit: 1, PlaceRadius: 800, Size: 15, Pages: 1,
		Keywords: PredefinedPlayKeywords}
	a := []types.Participant{{Lat: 37.1, Lng: 127.1}, {Lat: 37.2, Lng: 127.2}}
	b := []types.Participant{{Lat: 37.2, Lng: 127.2}, {Lat: 37.1000001, Lng: 127.1000001}}

	keyA, err := cache.BuildKey("p", cacheKeyPayload(a, opts, ""))
	require.NoError(t, err)
	keyB, err := cache.BuildKey("p", cacheKeyPayload(b, opts, ""))
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	rainy, err := cache.BuildKey("p", cacheKeyPayload(a, opts, "rain"))
	require.NoError(t, err)
	assert.NotEqual(t, keyA, rainy)

	rain, drizzle, custom := "비", "소나기", "Typhoon "
	assert.Equal(t, "rain", cacheWeatherKey(&rain))
	assert.Equal(t, "rain", cacheWeatherKey(&drizzle))
	assert.Equal(t, "typhoon", cacheWeatherKey(&custom))
	assert.Equal(t, "", cacheWeatherKey(nil))
}

func TestApplyFeatures(t *testing.T) {
	h := types.Hotplace{KakaoPlaceID: "1", PlaceName: "카페", SourceStation: "강남역", SourceKeyword: "보드게임카페"}
	assert.False(t, applyFeatures(&h, types.PlaceFeatures{MappingReason: types.MappingReasonAmbiguous}, true))

	h = types.Hotplace{KakaoPlaceID: "1", PlaceName: "카페", SourceStation: "강남역", SourceKeyword: "보드게임카페"}
	require.True(t, applyFeatures(&h, types.PlaceFeatures{}, false))
	assert.Equal(t, types.PhotoCollectionPending, h.PhotoCollectionStatus)
	assert.Equal(t, "카페는 강남역 근처에서 보드게임카페를 즐기기 좋은 장소예요.", h.ActivityIntro)
	assert.Nil(t, h.RepresentativePhotoURL)
}
