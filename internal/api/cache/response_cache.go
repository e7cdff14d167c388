package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/serene416/friend/app/observability/metrics"
)

// ResponseCache stores JSON documents under content-addressed keys.
type ResponseCache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
}

func NewResponseCache(backend Backend, prefix string, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{backend: backend, prefix: prefix, ttl: ttl, logger: logger}
}

// Key hashes the canonical JSON of payload: "<prefix>:<sha256 hex>".
// Map keys are emitted sorted, so equal payloads always hash equally.
func (c *ResponseCache) Key(payload any) (string, error) {
	return BuildKey(c.prefix, payload)
}

func BuildKey(prefix string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

// Get decodes the entry at key into dst. A corrupt entry counts as a miss.
func (c *ResponseCache) Get(ctx context.Context, key string, dst any) bool {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "Response cache read failed", slog.String("key", key), slog.Any("error", err))
		ok = false
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			c.logger.WarnContext(ctx, "Discarding undecodable cache entry", slog.String("key", key), slog.Any("error", err))
			ok = false
		}
	}
	if ok {
		metrics.Get().CacheHitsTotal.Add(ctx, 1)
	} else {
		metrics.Get().CacheMissesTotal.Add(ctx, 1)
	}
	return ok
}

func (c *ResponseCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.backend.Set(ctx, key, string(raw), c.ttl); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
