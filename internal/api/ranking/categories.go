package ranking

import "strings"

// ActivityCategory groups keywords by how weather affects them.
type ActivityCategory string

const (
	CategoryUnknown       ActivityCategory = ""
	CategoryActiveIndoor  ActivityCategory = "active_indoor"
	CategoryCalmIndoor    ActivityCategory = "calm_indoor"
	CategoryCraft         ActivityCategory = "craft"
	CategoryStroll        ActivityCategory = "stroll"
	CategoryOutdoorActive ActivityCategory = "outdoor_active"
	CategoryFoodDrink     ActivityCategory = "food_drink"
)

var keywordCategories = map[string]ActivityCategory{
	"볼링장": CategoryActiveIndoor, "당구장": CategoryActiveIndoor, "탁구장": CategoryActiveIndoor,
	"스크린야구": CategoryActiveIndoor, "스크린골프": CategoryActiveIndoor, "클라이밍": CategoryActiveIndoor,
	"실내사격장": CategoryActiveIndoor, "양궁카페": CategoryActiveIndoor, "노래방": CategoryActiveIndoor,
	"코인노래방": CategoryActiveIndoor, "오락실": CategoryActiveIndoor, "VR체험": CategoryActiveIndoor,
	"롤러스케이트장": CategoryActiveIndoor, "아이스링크": CategoryActiveIndoor, "트램폴린": CategoryActiveIndoor,
	"실내풋살장": CategoryActiveIndoor,

	"보드게임카페": CategoryCalmIndoor, "방탈출": CategoryCalmIndoor, "만화카페": CategoryCalmIndoor,
	"영화관": CategoryCalmIndoor, "전시회": CategoryCalmIndoor, "미술관": CategoryCalmIndoor,
	"박물관": CategoryCalmIndoor, "북카페": CategoryCalmIndoor, "고양이카페": CategoryCalmIndoor,
	"강아지카페": CategoryCalmIndoor, "타로카페": CategoryCalmIndoor, "아쿠아리움": CategoryCalmIndoor,
	"찜질방": CategoryCalmIndoor,

	"공방": CategoryCraft, "반지공방": CategoryCraft, "향수공방": CategoryCraft, "도자기공방": CategoryCraft,
	"가죽공방": CategoryCraft, "캔들공방": CategoryCraft, "원데이클래스": CategoryCraft,
	"쿠킹클래스": CategoryCraft, "베이킹클래스": CategoryCraft, "그림카페": CategoryCraft,

	"인생네컷": CategoryStroll, "소품샵": CategoryStroll, "팝업스토어": CategoryStroll,
	"플리마켓": CategoryStroll, "공원": CategoryStroll, "산책로": CategoryStroll,
	"한강공원": CategoryStroll, "전망대": CategoryStroll, "야경명소": CategoryStroll,

	"놀이공원": CategoryOutdoorActive, "동물원": CategoryOutdoorActive,
	"자전거대여": CategoryOutdoorActive, "카트장": CategoryOutdoorActive,

	"맛집": CategoryFoodDrink, "디저트카페": CategoryFoodDrink, "브런치카페": CategoryFoodDrink,
	"이자카야": CategoryFoodDrink, "와인바": CategoryFoodDrink,
}

type lexicalRule struct {
	token    string
	category ActivityCategory
}

// Specific tokens precede generic ones ("보드" before "카페").
var lexicalRules = []lexicalRule{
	{"보드", CategoryCalmIndoor}, {"방탈출", CategoryCalmIndoor}, {"만화", CategoryCalmIndoor},
	{"영화", CategoryCalmIndoor}, {"전시", CategoryCalmIndoor}, {"미술", CategoryCalmIndoor},
	{"박물관", CategoryCalmIndoor}, {"찜질", CategoryCalmIndoor},
	{"공방", CategoryCraft}, {"클래스", CategoryCraft}, {"공예", CategoryCraft},
	{"네컷", CategoryStroll}, {"포토", CategoryStroll}, {"사진", CategoryStroll}, {"소품", CategoryStroll},
	{"공원", CategoryStroll}, {"산책", CategoryStroll}, {"전망", CategoryStroll},
	{"테마파크", CategoryOutdoorActive}, {"놀이", CategoryOutdoorActive}, {"동물원", CategoryOutdoorActive},
	{"볼링", CategoryActiveIndoor}, {"당구", CategoryActiveIndoor}, {"노래", CategoryActiveIndoor},
	{"오락", CategoryActiveIndoor}, {"스크린", CategoryActiveIndoor}, {"스포츠", CategoryActiveIndoor},
	{"레저", CategoryActiveIndoor}, {"클라이밍", CategoryActiveIndoor},
	{"음식점", CategoryFoodDrink}, {"카페", CategoryFoodDrink}, {"술집", CategoryFoodDrink},
}

// CategorizeActivity resolves the source keyword first, then lexical rules
// over the keyword, the directory category and the place name.
func CategorizeActivity(sourceKeyword, categoryName, placeName string) ActivityCategory {
	if c, ok := keywordCategories[strings.TrimSpace(sourceKeyword)]; ok {
		return c
	}
	for _, text := range []string{sourceKeyword, categoryName, placeName} {
		lowered := strings.ToLower(text)
		if lowered == "" {
			continue
		}
		for _, rule := range lexicalRules {
			if strings.Contains(lowered, rule.token) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

var suitability = map[ActivityCategory]map[Weather]float64{
	CategoryActiveIndoor: {
		WeatherClear: 0.60, WeatherCloudy: 0.70, WeatherRain: 0.95, WeatherSnow: 0.95,
		WeatherDust: 0.90, WeatherHot: 0.90, WeatherCold: 0.90,
	},
	CategoryCalmIndoor: {
		WeatherClear: 0.55, WeatherCloudy: 0.70, WeatherRain: 0.95, WeatherSnow: 0.95,
		WeatherDust: 0.90, WeatherHot: 0.90, WeatherCold: 0.90,
	},
	CategoryCraft: {
		WeatherClear: 0.60, WeatherCloudy: 0.70, WeatherRain: 0.90, WeatherSnow: 0.90,
		WeatherDust: 0.90, WeatherHot: 0.85, WeatherCold: 0.85,
	},
	CategoryStroll: {
		WeatherClear: 0.95, WeatherCloudy: 0.75, WeatherRain: 0.25, WeatherSnow: 0.30,
		WeatherDust: 0.30, WeatherHot: 0.45, WeatherCold: 0.45,
	},
	CategoryOutdoorActive: {
		WeatherClear: 0.95, WeatherCloudy: 0.70, WeatherRain: 0.15, WeatherSnow: 0.20,
		WeatherDust: 0.20, WeatherHot: 0.35, WeatherCold: 0.40,
	},
	CategoryFoodDrink: {
		WeatherClear: 0.75, WeatherCloudy: 0.75, WeatherRain: 0.75, WeatherSnow: 0.75,
		WeatherDust: 0.80, WeatherHot: 0.75, WeatherCold: 0.80,
	},
}

// WeatherSuitability is neutral (0.5) for unknown weather or category.
func WeatherSuitability(category ActivityCategory, weather Weather) (float64, bool) {
	row, ok := suitability[category]
	if !ok || weather == WeatherUnknown {
		return neutralScore, false
	}
	v, ok := row[weather]
	if !ok {
		return neutralScore, false
	}
	return v, true
}

func (c ActivityCategory) label() string {
	switch c {
	case CategoryActiveIndoor:
		return "실내 액티비티"
	case CategoryCalmIndoor:
		return "실내 놀거리"
	case CategoryCraft:
		return "실내 체험"
	case CategoryStroll:
		return "야외 나들이"
	case CategoryOutdoorActive:
		return "야외 액티비티"
	case CategoryFoodDrink:
		return "먹거리"
	}
	return ""
}
