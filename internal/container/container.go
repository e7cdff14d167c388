package container

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	database "github.com/serene416/friend/app/db"
	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/api/cache"
	"github.com/serene416/friend/internal/api/directory"
	"github.com/serene416/friend/internal/api/features"
	"github.com/serene416/friend/internal/api/ingestion"
	"github.com/serene416/friend/internal/api/ranking"
	"github.com/serene416/friend/internal/api/recommendation"
	"github.com/serene416/friend/internal/crawler"
)

const localCacheCleanup = 5 * time.Minute

// Container holds all application dependencies
type Container struct {
	Config                *config.Config
	Logger                *slog.Logger
	Pool                  *pgxpool.Pool
	Redis                 *redis.Client
	Directory             directory.Client
	FeatureRepo           features.Repository
	IngestionRepo         ingestion.Repository
	IngestionQueue        ingestion.Queue
	IngestionService      ingestion.Service
	RecommendationHandler *recommendation.HandlerImpl
	IngestionHandler      *ingestion.HandlerImpl
}

// NewContainer initializes and returns a new dependency container. The
// caller owns pool; Close releases it together with the Redis client.
func NewContainer(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*Container, error) {
	redisClient, err := cache.NewRedisClient(cfg.Repositories.Redis.URL)
	if err != nil {
		logger.Error("Failed to configure redis client", slog.Any("error", err))
		return nil, err
	}

	// Repositories
	featureRepo := features.NewRepository(pool, logger)
	ingestionRepo := ingestion.NewRepository(pool, logger)
	queue := ingestion.NewRedisQueue(redisClient, cfg.Ingestion.QueueKey)

	// Services
	kakao := directory.NewKakaoClient(cfg.Kakao, logger)
	selector := cache.NewSelector(cache.NewSharedBackend(redisClient), cache.NewLocalBackend(localCacheCleanup), logger)
	responseCache := cache.NewResponseCache(selector, cfg.Recommendation.CachePrefix,
		time.Duration(cfg.Recommendation.CacheTTLSeconds)*time.Second, logger)
	ingestionService := ingestion.NewServiceImpl(ingestionRepo, queue, logger)
	recommendationService := recommendation.NewServiceImpl(
		kakao,
		responseCache,
		featureRepo,
		ranking.NewEngine(ranking.DefaultConfig()),
		ingestionService,
		cfg.Recommendation,
		logger,
	)

	return &Container{
		Config:                cfg,
		Logger:                logger,
		Pool:                  pool,
		Redis:                 redisClient,
		Directory:             kakao,
		FeatureRepo:           featureRepo,
		IngestionRepo:         ingestionRepo,
		IngestionQueue:        queue,
		IngestionService:      ingestionService,
		RecommendationHandler: recommendation.NewHandler(recommendationService, logger),
		IngestionHandler:      ingestion.NewHandler(ingestionService, logger),
	}, nil
}

// NewWorker builds the ingestion worker on top of the container's stores.
// Each resolution and crawl launches its own headless browser.
func (c *Container) NewWorker() *ingestion.Worker {
	launcher := crawler.NewChromeLauncher(c.Config.Crawler, c.Logger)
	resolver := crawler.NewResolver(launcher, c.Directory, c.Config.Crawler, c.Logger)
	collector := crawler.NewCollector(launcher, c.Config.Crawler, c.Logger)
	return ingestion.NewWorker(c.IngestionRepo, c.IngestionQueue, resolver, collector,
		c.FeatureRepo, c.Config.Ingestion, c.Logger)
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis client", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
