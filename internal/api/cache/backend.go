package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/serene416/friend/internal/types"
)

// Backend is a string store with per-key expiry.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Name() string
}

var (
	_ Backend = (*SharedBackend)(nil)
	_ Backend = (*LocalBackend)(nil)
)

// NewRedisClient parses a redis:// URL and applies the pool settings used by
// every Redis consumer of the service.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	return redis.NewClient(opts), nil
}

// SharedBackend stores entries in Redis so every instance sees them.
type SharedBackend struct {
	client *redis.Client
}

func NewSharedBackend(client *redis.Client) *SharedBackend {
	return &SharedBackend{client: client}
}

func (b *SharedBackend) Name() string { return "redis" }

func (b *SharedBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.NewCacheBackendDown(err)
	}
	return val, true, nil
}

func (b *SharedBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return types.NewCacheBackendDown(err)
	}
	return nil
}

// LocalBackend is the in-process fallback. go-cache guards its key to
// (expiry, payload) map with a single mutex, and Get never returns an
// expired entry.
type LocalBackend struct {
	store *gocache.Cache
}

func NewLocalBackend(cleanupInterval time.Duration) *LocalBackend {
	return &LocalBackend{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := b.store.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (b *LocalBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	b.store.Set(key, value, ttl)
	return nil
}
