package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/types"
)

func setupKakaoTest(t *testing.T, apiKey string, handler http.HandlerFunc) *KakaoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewKakaoClient(config.KakaoConfig{
		BaseURL:    srv.URL,
		RestAPIKey: apiKey,
		Timeout:    2 * time.Second,
	}, logger)
}

func TestKakaoClient_SearchAnchors(t *testing.T) {
	var gotPath, gotAuth string
	var gotQuery map[string]string
	client := setupKakaoTest(t, "test-key", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documents":[{"id":"21160","place_name":"강남역 2호선","x":"127.0276","y":"37.4979","distance":"80"}]}`))
	})

	docs, err := client.SearchAnchors(context.Background(), 37.4979, 127.0276, 2000, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, categorySearchEndpoint, gotPath)
	assert.Equal(t, "KakaoAK test-key", gotAuth)
	assert.Equal(t, "SW8", gotQuery["category_group_code"])
	assert.Equal(t, "distance", gotQuery["sort"])
	assert.Equal(t, "1", gotQuery["size"])
	assert.Equal(t, "127.0276", gotQuery["x"])
	assert.Equal(t, "37.4979", gotQuery["y"])

	lat, lng, ok := docs[0].Coordinates()
	assert.True(t, ok)
	assert.InDelta(t, 37.4979, lat, 1e-9)
	assert.InDelta(t, 127.0276, lng, 1e-9)
	require.NotNil(t, docs[0].DistanceMeters())
	assert.Equal(t, 80, *docs[0].DistanceMeters())
}

func TestKakaoClient_SearchKeyword(t *testing.T) {
	var gotQuery, gotPage string
	client := setupKakaoTest(t, "test-key", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotPage = r.URL.Query().Get("page")
		_, _ = w.Write([]byte(`{"documents":[]}`))
	})

	docs, err := client.SearchKeyword(context.Background(), "강남역 방탈출 카페", 127.0276, 37.4979, 800, 15, 1)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, "강남역 방탈출 카페", gotQuery)
	assert.Equal(t, "1", gotPage)
}

func TestKakaoClient_Errors(t *testing.T) {
	t.Run("missing api key is unavailable without a call", func(t *testing.T) {
		called := false
		client := setupKakaoTest(t, "", func(w http.ResponseWriter, r *http.Request) {
			called = true
		})
		_, err := client.SearchAnchors(context.Background(), 37.5, 127.0, 2000, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrDirectoryUnavailable))
		assert.False(t, called)
	})

	t.Run("non-200 status is unavailable with status detail", func(t *testing.T) {
		client := setupKakaoTest(t, "test-key", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"errorType":"RequestThrottled"}`))
		})
		_, err := client.SearchKeyword(context.Background(), "강남역 볼링장", 127.0, 37.5, 800, 15, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrDirectoryUnavailable))

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "RequestThrottled")
	})

	t.Run("malformed body is unavailable", func(t *testing.T) {
		client := setupKakaoTest(t, "test-key", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"documents":`))
		})
		_, err := client.SearchKeyword(context.Background(), "강남역 볼링장", 127.0, 37.5, 800, 15, 1)
		assert.True(t, errors.Is(err, types.ErrDirectoryUnavailable))
	})
}
