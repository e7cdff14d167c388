package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// countingBackend records calls and fails every one when err is set.
type countingBackend struct {
	name  string
	err   error
	gets  int
	sets  int
	store map[string]string
}

func newCountingBackend(name string, err error) *countingBackend {
	return &countingBackend{name: name, err: err, store: map[string]string{}}
}

func (b *countingBackend) Name() string { return b.name }

func (b *countingBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.gets++
	if b.err != nil {
		return "", false, b.err
	}
	v, ok := b.store[key]
	return v, ok, nil
}

func (b *countingBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	b.sets++
	if b.err != nil {
		return b.err
	}
	b.store[key] = value
	return nil
}

func TestSharedBackend(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	backend := NewSharedBackend(client)

	_, ok, err := backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "k", "v", time.Minute))
	val, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	mr.FastForward(2 * time.Minute)
	_, ok, err = backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.Close()
	_, _, err = backend.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheBackendDown))
}

func TestLocalBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	backend := NewLocalBackend(time.Minute)

	require.NoError(t, backend.Set(ctx, "k", "v", 30*time.Millisecond))
	val, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	time.Sleep(60 * time.Millisecond)
	_, ok, _ = backend.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSelector(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy shared backend serves all calls", func(t *testing.T) {
		shared := newCountingBackend("shared", nil)
		local := newCountingBackend("local", nil)
		sel := NewSelector(shared, local, testLogger())

		require.NoError(t, sel.Set(ctx, "k", "v", time.Minute))
		val, ok, err := sel.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", val)
		assert.False(t, sel.Demoted())
		assert.Equal(t, 0, local.gets+local.sets)
	})

	t.Run("first failure demotes permanently", func(t *testing.T) {
		shared := newCountingBackend("shared", errors.New("connection refused"))
		local := newCountingBackend("local", nil)
		sel := NewSelector(shared, local, testLogger())

		_, ok, err := sel.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, sel.Demoted())
		assert.Same(t, Backend(local), sel.Active())

		// Shared recovering must not flip the selector back.
		shared.err = nil
		require.NoError(t, sel.Set(ctx, "k", "v", time.Minute))
		val, ok, err := sel.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", val)

		assert.Equal(t, 1, shared.gets)
		assert.Equal(t, 0, shared.sets)
		assert.Equal(t, 1, local.sets)
	})

	t.Run("nil shared starts demoted", func(t *testing.T) {
		local := newCountingBackend("local", nil)
		sel := NewSelector(nil, local, testLogger())
		assert.True(t, sel.Demoted())
		require.NoError(t, sel.Set(ctx, "k", "v", time.Minute))
		assert.Equal(t, 1, local.sets)
	})

	t.Run("redis outage falls back to local", func(t *testing.T) {
		mr, client := setupRedis(t)
		sel := NewSelector(NewSharedBackend(client), NewLocalBackend(time.Minute), testLogger())
		mr.Close()

		require.NoError(t, sel.Set(ctx, "k", "v", time.Minute))
		val, ok, err := sel.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", val)
		assert.True(t, sel.Demoted())
	})

	t.Run("cancelled caller does not demote", func(t *testing.T) {
		_, client := setupRedis(t)
		shared := NewSharedBackend(client)
		sel := NewSelector(shared, NewLocalBackend(time.Minute), testLogger())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, ok, err := sel.Get(cancelled, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, sel.Set(cancelled, "k", "v", time.Minute))
		assert.False(t, sel.Demoted())

		require.NoError(t, sel.Set(ctx, "k", "v", time.Minute))
		val, ok, err := shared.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", val)
		assert.Same(t, Backend(shared), sel.Active())
	})

	t.Run("deadline from the backend call does not demote", func(t *testing.T) {
		shared := newCountingBackend("shared", types.NewCacheBackendDown(context.DeadlineExceeded))
		local := newCountingBackend("local", nil)
		sel := NewSelector(shared, local, testLogger())

		_, ok, err := sel.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, sel.Demoted())
		assert.Equal(t, 0, local.gets)
	})
}

func TestBuildKey(t *testing.T) {
	a := map[string]any{"weather": "rain", "radius": 800, "keywords": []string{"볼링장"}}
	b := map[string]any{"keywords": []string{"볼링장"}, "radius": 800, "weather": "rain"}

	keyA, err := BuildKey("midpoint_hotplaces:v1", a)
	require.NoError(t, err)
	keyB, err := BuildKey("midpoint_hotplaces:v1", b)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
	assert.True(t, strings.HasPrefix(keyA, "midpoint_hotplaces:v1:"))
	assert.Len(t, strings.TrimPrefix(keyA, "midpoint_hotplaces:v1:"), 64)

	b["weather"] = "clear"
	keyC, err := BuildKey("midpoint_hotplaces:v1", b)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC)
}

func TestResponseCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rc := NewResponseCache(NewLocalBackend(time.Minute), "test", time.Minute, testLogger())

	type entry struct {
		IDs []string `json:"ids"`
	}
	var got entry
	assert.False(t, rc.Get(ctx, "test:k", &got))

	require.NoError(t, rc.Set(ctx, "test:k", entry{IDs: []string{"a", "b"}}))
	require.True(t, rc.Get(ctx, "test:k", &got))
	assert.Equal(t, []string{"a", "b"}, got.IDs)

	backend := NewLocalBackend(time.Minute)
	require.NoError(t, backend.Set(ctx, "test:bad", "{not json", time.Minute))
	rc = NewResponseCache(backend, "test", time.Minute, testLogger())
	assert.False(t, rc.Get(ctx, "test:bad", &got))
}
