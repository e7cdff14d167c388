package ranking

import "strings"

// Weather is a normalized weather key. The empty value means unknown.
type Weather string

const (
	WeatherUnknown Weather = ""
	WeatherClear   Weather = "clear"
	WeatherCloudy  Weather = "cloudy"
	WeatherRain    Weather = "rain"
	WeatherSnow    Weather = "snow"
	WeatherDust    Weather = "dust"
	WeatherHot     Weather = "hot"
	WeatherCold    Weather = "cold"
)

type weatherAlias struct {
	token   string
	weather Weather
}

// Precipitation aliases come first so mixed forecasts like "맑음 후 비"
// resolve to the wetter condition.
var weatherAliases = []weatherAlias{
	{"천둥번개", WeatherRain}, {"뇌우", WeatherRain}, {"소나기", WeatherRain}, {"이슬비", WeatherRain},
	{"장마", WeatherRain}, {"thunderstorm", WeatherRain}, {"drizzle", WeatherRain}, {"shower", WeatherRain},
	{"rain", WeatherRain}, {"비", WeatherRain},
	{"진눈깨비", WeatherSnow}, {"sleet", WeatherSnow}, {"snow", WeatherSnow}, {"눈", WeatherSnow},
	{"미세먼지", WeatherDust}, {"황사", WeatherDust}, {"dust", WeatherDust},
	{"폭염", WeatherHot}, {"더움", WeatherHot}, {"hot", WeatherHot},
	{"한파", WeatherCold}, {"추움", WeatherCold}, {"cold", WeatherCold},
	{"구름", WeatherCloudy}, {"흐림", WeatherCloudy}, {"안개", WeatherCloudy}, {"cloud", WeatherCloudy},
	{"overcast", WeatherCloudy}, {"fog", WeatherCloudy}, {"mist", WeatherCloudy},
	{"맑음", WeatherClear}, {"화창", WeatherClear}, {"clear", WeatherClear}, {"sunny", WeatherClear},
}

// NormalizeWeather maps a free-form weather key (Korean or English) to a
// Weather. Unrecognized input is WeatherUnknown.
func NormalizeWeather(raw string) Weather {
	key := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	if key == "" {
		return WeatherUnknown
	}
	for _, alias := range weatherAliases {
		if key == alias.token {
			return alias.weather
		}
	}
	for _, alias := range weatherAliases {
		if strings.Contains(key, alias.token) {
			return alias.weather
		}
	}
	return WeatherUnknown
}

func (w Weather) IsPrecipitation() bool {
	return w == WeatherRain || w == WeatherSnow
}

func (w Weather) label() string {
	switch w {
	case WeatherClear:
		return "맑은"
	case WeatherCloudy:
		return "흐린"
	case WeatherRain:
		return "비 오는"
	case WeatherSnow:
		return "눈 오는"
	case WeatherDust:
		return "미세먼지 많은"
	case WeatherHot:
		return "더운"
	case WeatherCold:
		return "추운"
	}
	return ""
}
