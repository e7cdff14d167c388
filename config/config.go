package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode     string `mapstructure:"mode"`
	Handlers struct {
		Prometheus struct {
			Port string `mapstructure:"port"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
		Redis struct {
			URL string `mapstructure:"url"`
		} `mapstructure:"redis"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Kakao          KakaoConfig          `mapstructure:"kakao"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Crawler        CrawlerConfig        `mapstructure:"crawler"`
	Ingestion      IngestionConfig      `mapstructure:"ingestion"`
}

type KakaoConfig struct {
	BaseURL    string        `mapstructure:"baseURL"`
	RestAPIKey string        `mapstructure:"restAPIKey"`
	Timeout    time.Duration `mapstructure:"timeout"`
	QPS        float64       `mapstructure:"qps"`
	Burst      int           `mapstructure:"burst"`
}

type RecommendationConfig struct {
	MaxCallsPerRequest       int    `mapstructure:"maxCallsPerRequest"`
	CacheTTLSeconds          int    `mapstructure:"cacheTTLSeconds"`
	CachePrefix              string `mapstructure:"cachePrefix"`
	KeywordConcurrency       int    `mapstructure:"keywordConcurrency"`
	StationRadius            int    `mapstructure:"stationRadius"`
	PlaceRadius              int    `mapstructure:"placeRadius"`
	Size                     int    `mapstructure:"size"`
	EnableIngestionEnqueue   bool   `mapstructure:"enableIngestionEnqueue"`
	IngestionCooldownSeconds int    `mapstructure:"ingestionCooldownSeconds"`
}

type CrawlerConfig struct {
	Headless           bool    `mapstructure:"headless"`
	UserAgent          string  `mapstructure:"userAgent"`
	TimeoutMS          int     `mapstructure:"timeoutMS"`
	RequestDelayMS     int     `mapstructure:"requestDelayMS"`
	ReviewMaxClicks    int     `mapstructure:"reviewMaxClicks"`
	PhotoMaxScrolls    int     `mapstructure:"photoMaxScrolls"`
	NoGrowthLimit      int     `mapstructure:"noGrowthLimit"`
	RetryCount         int     `mapstructure:"retryCount"`
	CandidateLimit     int     `mapstructure:"candidateLimit"`
	MapMinConfidence   float64 `mapstructure:"mapMinConfidence"`
	MaxPhotosPerPlace  int     `mapstructure:"maxPhotosPerPlace"`
	MaxReviewsPerPlace int     `mapstructure:"maxReviewsPerPlace"`
}

type IngestionConfig struct {
	QueueKey     string        `mapstructure:"queueKey"`
	Source       string        `mapstructure:"source"`
	BlockTimeout time.Duration `mapstructure:"blockTimeout"`
	MaxRetries   uint64        `mapstructure:"maxRetries"`
	MetricsPort  string        `mapstructure:"metricsPort"`
}

// envBindings keeps the deployment variable names used by the existing
// services working alongside the nested config keys.
var envBindings = map[string]string{
	"kakao.restAPIKey":                        "KAKAO_REST_API_KEY",
	"repositories.redis.url":                  "REDIS_URL",
	"recommendation.maxCallsPerRequest":       "MAX_KAKAO_CALLS_PER_REQUEST",
	"recommendation.cacheTTLSeconds":          "MIDPOINT_CACHE_TTL_SECONDS",
	"recommendation.keywordConcurrency":       "MIDPOINT_KEYWORD_CONCURRENCY",
	"recommendation.enableIngestionEnqueue":   "MIDPOINT_ENABLE_INGESTION_ENQUEUE",
	"recommendation.ingestionCooldownSeconds": "MIDPOINT_INGESTION_COOLDOWN_SECONDS",
	"crawler.headless":                        "NAVER_MAP_HEADLESS",
	"crawler.timeoutMS":                       "NAVER_MAP_TIMEOUT_MS",
	"crawler.requestDelayMS":                  "NAVER_MAP_REQUEST_DELAY_MS",
	"crawler.reviewMaxClicks":                 "NAVER_MAP_REVIEW_MAX_CLICKS",
	"crawler.photoMaxScrolls":                 "NAVER_MAP_PHOTO_MAX_SCROLLS",
	"crawler.noGrowthLimit":                   "NAVER_MAP_NO_GROWTH_LIMIT",
	"crawler.mapMinConfidence":                "NAVER_MAP_MIN_CONFIDENCE",
	"repositories.postgres.host":              "POSTGRES_HOST",
	"repositories.postgres.port":              "POSTGRES_PORT",
	"repositories.postgres.username":          "POSTGRES_USER",
	"repositories.postgres.password":          "POSTGRES_PASSWORD",
	"repositories.postgres.db":                "POSTGRES_DB",
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err = v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&config)
	return config, nil
}

// applyDefaults replaces non-positive tunables with the documented defaults,
// so a bad env value degrades to the default rather than disabling a guard.
func applyDefaults(cfg *Config) {
	r := &cfg.Recommendation
	if r.MaxCallsPerRequest <= 0 {
		r.MaxCallsPerRequest = 70
	}
	if r.CacheTTLSeconds <= 0 {
		r.CacheTTLSeconds = 900
	}
	if r.KeywordConcurrency <= 0 {
		r.KeywordConcurrency = 8
	}
	if r.CachePrefix == "" {
		r.CachePrefix = "midpoint_hotplaces:v1"
	}
	if r.StationRadius <= 0 {
		r.StationRadius = 2000
	}
	if r.PlaceRadius <= 0 {
		r.PlaceRadius = 800
	}
	if r.Size <= 0 {
		r.Size = 15
	}
	if r.IngestionCooldownSeconds <= 0 {
		r.IngestionCooldownSeconds = 6 * 60 * 60
	}

	c := &cfg.Crawler
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 12000
	}
	if c.RequestDelayMS < 0 {
		c.RequestDelayMS = 350
	}
	if c.ReviewMaxClicks <= 0 {
		c.ReviewMaxClicks = 20
	}
	if c.PhotoMaxScrolls <= 0 {
		c.PhotoMaxScrolls = 30
	}
	if c.NoGrowthLimit <= 0 {
		c.NoGrowthLimit = 3
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 3
	}
	if c.MapMinConfidence <= 0 || c.MapMinConfidence > 1 {
		c.MapMinConfidence = 0.50
	}

	k := &cfg.Kakao
	if k.BaseURL == "" {
		k.BaseURL = "https://dapi.kakao.com"
	}
	if k.Timeout <= 0 {
		k.Timeout = 10 * time.Second
	}

	in := &cfg.Ingestion
	if in.QueueKey == "" {
		in.QueueKey = "ingestion:jobs"
	}
	if in.BlockTimeout <= 0 {
		in.BlockTimeout = 5 * time.Second
	}
	if in.MaxRetries == 0 {
		in.MaxRetries = 5
	}
	if in.MetricsPort == "" {
		in.MetricsPort = "9091"
	}
}
