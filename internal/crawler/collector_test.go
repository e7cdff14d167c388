package crawler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/internal/types"
)

const (
	reviewURL       = "https://pcmap.place.naver.com/restaurant/123/review/visitor"
	mobileReviewURL = "https://m.place.naver.com/place/123/review/visitor"
	photoURL        = "https://pcmap.place.naver.com/restaurant/123/photo"
)

func newTestCollector(page Page) (*Collector, *fakeLauncher) {
	launcher := &fakeLauncher{page: page}
	c := NewCollector(launcher, testCrawlerConfig(), testLogger())
	quiet(c.drv)
	c.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return c, launcher
}

func TestNoGrowthGuard(t *testing.T) {
	guard := NewNoGrowthGuard(2, 5)

	assert.False(t, guard.Observe(5))
	assert.True(t, guard.Observe(5))
	assert.False(t, guard.Observe(6))
	assert.False(t, guard.Observe(6))
	assert.True(t, guard.Observe(6))
}

func TestNoGrowthGuard_LimitFloor(t *testing.T) {
	guard := NewNoGrowthGuard(0, 0)
	assert.True(t, guard.Observe(0), "a limit below one behaves as one")
}

func TestCollect_StallStopsAfterLimit(t *testing.T) {
	page := &fakePage{html: placePages(constant(3), constant(4))}
	c, launcher := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	require.Equal(t, types.CrawlStatusCompleted, result.Status)
	assert.Empty(t, result.Warnings)
	assert.Len(t, result.Reviews, 3)
	assert.Len(t, result.Photos, 4)

	// With a stall limit of 3 and nothing new: 3 expansions, and 3+1
	// extraction passes after the probe that accepted the page.
	assert.Equal(t, 3, page.moreClicks)
	assert.Equal(t, 1+3+1, page.htmlCalls[reviewURL])
	assert.Equal(t, 3, page.scrolls)
	assert.Equal(t, 1+3+1, page.htmlCalls[photoURL])

	assert.Equal(t, 1, launcher.launches)
	assert.Equal(t, 1, launcher.closed, "session is torn down")
}

func TestCollect_GrowthResetsStall(t *testing.T) {
	grow := func(expansions int) int { return min(3+2*expansions, 9) }
	page := &fakePage{html: placePages(grow, constant(1))}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	assert.Len(t, result.Reviews, 9)
	assert.Equal(t, 3+3, page.moreClicks, "three growing expansions then three stalled ones")
}

func TestCollect_MoreButtonUnavailable(t *testing.T) {
	page := &fakePage{html: placePages(constant(2), constant(0)), noMore: true}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	assert.Equal(t, types.CrawlStatusCompleted, result.Status)
	assert.Len(t, result.Reviews, 2)
	assert.Equal(t, 0, page.moreClicks)
	assert.Empty(t, result.Photos)
}

func TestCollect_ReviewFields(t *testing.T) {
	page := &fakePage{html: placePages(constant(2), constant(0))}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")
	require.Len(t, result.Reviews, 2)

	r := result.Reviews[0]
	assert.Equal(t, "r1", r.ReviewID)
	assert.Equal(t, "리뷰 내용 1 분위기가 좋아요", r.Content)
	assert.Equal(t, "user1", r.Author)
	assert.Equal(t, "2025.01.02.", r.PostedAtRaw)
	require.NotNil(t, r.PostedAt)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), *r.PostedAt)
	assert.Equal(t, reviewURL, r.SourceURL)
	assert.Equal(t, "123", r.TargetPlace)

	require.NotNil(t, result.RatingSummary.AverageRating)
	require.NotNil(t, result.RatingSummary.RatingCount)
	assert.Equal(t, 4.42, *result.RatingSummary.AverageRating)
	assert.Equal(t, 1234, *result.RatingSummary.RatingCount)
}

func TestCollect_PhotosUnwrapProxy(t *testing.T) {
	page := &fakePage{html: placePages(constant(1), constant(2))}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")
	require.Len(t, result.Photos, 2)

	assert.Equal(t, photoOrigin(1), result.Photos[0].ImageURL)
	assert.Equal(t, photoOrigin(2), result.Photos[1].ImageURL)
	assert.True(t, strings.HasPrefix(result.Photos[0].PhotoID, "photo-"))
	assert.Equal(t, "사진 1", result.Photos[0].Metadata["alt"])
	assert.Equal(t, photoURL, result.Photos[0].Metadata["source_url"])
}

func TestCollect_ThinPageFallsBackToNextURL(t *testing.T) {
	base := placePages(constant(2), constant(1))
	page := &fakePage{html: func(u string, expansions, call int) (string, error) {
		if u == reviewURL {
			return thinPage, nil
		}
		return base(u, expansions, call)
	}}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	require.Len(t, result.Reviews, 2)
	assert.Equal(t, mobileReviewURL, result.Reviews[0].SourceURL)
	assert.Equal(t, types.CrawlStatusCompleted, result.Status)
}

func TestCollect_NoUsablePageIsNotAFailure(t *testing.T) {
	page := &fakePage{
		html:        placePages(constant(2), constant(2)),
		navigateErr: func(string) error { return errors.New("net::ERR_TIMED_OUT") },
	}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	assert.Equal(t, types.CrawlStatusCompleted, result.Status)
	assert.Empty(t, result.Reviews)
	assert.Empty(t, result.Photos)
	// two review urls and two photo urls, three attempts each
	assert.Len(t, page.visited, 4*3)
}

func TestCollect_ChannelFailureIsPartial(t *testing.T) {
	base := placePages(constant(2), constant(2))
	page := &fakePage{html: func(u string, expansions, call int) (string, error) {
		if u == photoURL && call > 1 {
			return "", errors.New("target closed")
		}
		return base(u, expansions, call)
	}}
	c, _ := newTestCollector(page)

	result := c.Collect(context.Background(), "123")

	assert.Equal(t, types.CrawlStatusPartial, result.Status)
	assert.Len(t, result.Reviews, 2, "review channel is unaffected")
	assert.Empty(t, result.Photos)
	require.Len(t, result.Warnings, 1)
	assert.True(t, strings.HasPrefix(result.Warnings[0], "photo_error:"))
	assert.ErrorIs(t, result.Err(), &types.AppError{Code: types.ErrCodeCrawlPartial})
}

func TestCollect_LaunchFailure(t *testing.T) {
	c, launcher := newTestCollector(nil)
	launcher.err = errors.New("chrome not found")

	result := c.Collect(context.Background(), "123")

	assert.Equal(t, types.CrawlStatusFailed, result.Status)
	assert.Equal(t, []string{"crawler_error:chrome not found"}, result.Warnings)
	assert.Empty(t, result.Reviews)
	assert.Empty(t, result.Photos)
}

func TestCollectMapping_SkipsUncrawlable(t *testing.T) {
	c, launcher := newTestCollector(&fakePage{})

	result := c.CollectMapping(context.Background(), types.IdentityMapping{
		SourceID: "k-1",
		Status:   types.MappingStatusSkipped,
		Reason:   types.MappingReasonLowConf,
	})

	assert.Equal(t, types.CrawlStatusSkipped, result.Status)
	assert.Equal(t, types.MappingReasonLowConf, result.SkipReason)
	assert.Equal(t, 0, launcher.launches)
}

func TestCollect_ReviewCap(t *testing.T) {
	page := &fakePage{html: placePages(constant(5), constant(0))}
	c, _ := newTestCollector(page)
	c.drv.cfg.MaxReviewsPerPlace = 4

	result := c.Collect(context.Background(), "123")

	assert.Len(t, result.Reviews, 4)
}
