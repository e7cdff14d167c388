package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/types"
)

const (
	photoScrollPx         = 1800
	maxReviewNodesPerPass = 500
	maxPhotoNodesPerMatch = 40
)

var (
	reviewURLTemplates = []string{
		"https://pcmap.place.naver.com/restaurant/%s/review/visitor",
		"https://m.place.naver.com/place/%s/review/visitor",
	}
	photoURLTemplates = []string{
		"https://pcmap.place.naver.com/restaurant/%s/photo",
		"https://m.place.naver.com/place/%s/photo",
	}
)

// NoGrowthGuard tracks consecutive expansions that did not raise the item
// count above its high-water mark.
type NoGrowthGuard struct {
	limit  int
	last   int
	streak int
}

func NewNoGrowthGuard(limit, baseline int) *NoGrowthGuard {
	return &NoGrowthGuard{limit: max(1, limit), last: max(0, baseline)}
}

// Observe records the count after one expansion and reports whether the
// stall streak reached the limit.
func (g *NoGrowthGuard) Observe(count int) bool {
	if count > g.last {
		g.last = count
		g.streak = 0
		return false
	}
	g.streak++
	return g.streak >= g.limit
}

// Collector gathers reviews, photos and a rating summary for a resolved
// place. Each channel fails on its own.
type Collector struct {
	launcher Launcher
	drv      *driver
	logger   *slog.Logger
	now      func() time.Time
}

func NewCollector(launcher Launcher, cfg config.CrawlerConfig, logger *slog.Logger) *Collector {
	return &Collector{
		launcher: launcher,
		drv:      newDriver(cfg, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// CollectMapping skips mappings that cannot be crawled and collects the rest.
func (c *Collector) CollectMapping(ctx context.Context, mapping types.IdentityMapping) types.CrawlResult {
	if !mapping.Crawlable || strings.TrimSpace(mapping.TargetID) == "" {
		reason := mapping.Reason
		if reason == "" {
			reason = "missing_naver_place_id"
		}
		c.logger.InfoContext(ctx, "Skipping crawl",
			slog.String("kakao_place_id", mapping.SourceID), slog.String("reason", reason))
		return types.CrawlResult{
			TargetID:   mapping.TargetID,
			Reviews:    []types.Review{},
			Photos:     []types.Photo{},
			Status:     types.CrawlStatusSkipped,
			SkipReason: reason,
		}
	}
	return c.Collect(ctx, mapping.TargetID)
}

// Collect opens one browser session and runs the review channel, then the
// photo channel. It never returns an error; degradation shows in Status and
// Warnings.
func (c *Collector) Collect(ctx context.Context, targetID string) types.CrawlResult {
	ctx, span := otel.Tracer("Crawler").Start(ctx, "Collect", trace.WithAttributes(
		attribute.String("naver.place_id", targetID),
	))
	defer span.End()
	l := c.logger.With(slog.String("naver_place_id", targetID))

	result := types.CrawlResult{
		TargetID: targetID,
		Reviews:  []types.Review{},
		Photos:   []types.Photo{},
		Status:   types.CrawlStatusCompleted,
	}

	session, err := c.launcher.Launch(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to open browser session", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Browser launch failed")
		result.Status = types.CrawlStatusFailed
		result.Warnings = []string{"crawler_error:" + err.Error()}
		return result
	}
	defer session.Close()

	reviews, summary, err := c.collectReviews(ctx, session.Page, targetID)
	if err != nil {
		l.WarnContext(ctx, "Review channel failed", slog.Any("error", err))
		result.Warnings = append(result.Warnings, "review_error:"+err.Error())
	}
	result.Reviews = reviews
	result.RatingSummary = summary

	photos, err := c.collectPhotos(ctx, session.Page, targetID)
	if err != nil {
		l.WarnContext(ctx, "Photo channel failed", slog.Any("error", err))
		result.Warnings = append(result.Warnings, "photo_error:"+err.Error())
	}
	result.Photos = photos

	if len(result.Warnings) > 0 {
		result.Status = types.CrawlStatusPartial
		span.RecordError(result.Err())
	}

	m := metrics.Get()
	m.CrawlItemsTotal.Add(ctx, int64(len(result.Reviews)), metric.WithAttributes(attribute.String("kind", "review")))
	m.CrawlItemsTotal.Add(ctx, int64(len(result.Photos)), metric.WithAttributes(attribute.String("kind", "photo")))

	span.SetAttributes(
		attribute.Int("reviews.count", len(result.Reviews)),
		attribute.Int("photos.count", len(result.Photos)),
		attribute.String("crawl.status", string(result.Status)),
	)
	span.SetStatus(codes.Ok, "Crawl finished")
	l.InfoContext(ctx, "Crawl finished",
		slog.Int("review_count", len(result.Reviews)),
		slog.Int("photo_count", len(result.Photos)),
		slog.String("status", string(result.Status)))
	return result
}

func placeURLs(templates []string, targetID string) []string {
	urls := make([]string, len(templates))
	for i, t := range templates {
		urls[i] = fmt.Sprintf(t, targetID)
	}
	return urls
}

func (c *Collector) collectReviews(ctx context.Context, page Page, targetID string) ([]types.Review, types.RatingSummary, error) {
	d := c.drv
	l := c.logger.With(slog.String("channel", "review"), slog.String("naver_place_id", targetID))

	sourceURL, ok := d.openFirstUsable(ctx, page, placeURLs(reviewURLTemplates, targetID), "review")
	if !ok {
		l.WarnContext(ctx, "No review page could be opened")
		return []types.Review{}, types.RatingSummary{}, ctx.Err()
	}
	d.click(ctx, page, reviewTabLabels, "review_open_tab")
	if err := d.pace(ctx, 1); err != nil {
		return []types.Review{}, types.RatingSummary{}, err
	}

	doc, html, err := d.document(ctx, page, "review_extract")
	if err != nil {
		return []types.Review{}, types.RatingSummary{}, fmt.Errorf("failed to read review page: %w", err)
	}
	summary := ParseRatingSummary(VisibleText(doc), html)
	collected := DedupeReviews(c.extractReviews(doc, targetID, sourceURL), c.now())
	guard := NewNoGrowthGuard(d.cfg.NoGrowthLimit, len(collected))

	for i := 1; i <= d.cfg.ReviewMaxClicks; i++ {
		if !d.click(ctx, page, reviewMoreLabels, fmt.Sprintf("review_more_click_%d", i)) {
			l.InfoContext(ctx, "Stopped expanding reviews", slog.String("reason", "button_unavailable"),
				slog.Int("iteration", i), slog.Int("count", len(collected)))
			break
		}
		if err := d.pace(ctx, 1); err != nil {
			return collected, summary, err
		}
		doc, _, err := d.document(ctx, page, "review_extract")
		if err != nil {
			return collected, summary, fmt.Errorf("failed to read review page: %w", err)
		}
		collected = DedupeReviews(append(collected, c.extractReviews(doc, targetID, sourceURL)...), c.now())
		if guard.Observe(len(collected)) {
			l.InfoContext(ctx, "Stopped expanding reviews", slog.String("reason", "no_growth"),
				slog.Int("iteration", i), slog.Int("count", len(collected)))
			break
		}
	}

	if limit := d.cfg.MaxReviewsPerPlace; limit > 0 && len(collected) > limit {
		collected = collected[:limit]
	}
	return collected, summary, nil
}

func (c *Collector) extractReviews(doc *goquery.Document, targetID, sourceURL string) []types.Review {
	collectedAt := c.now().UTC()
	var out []types.Review
	for _, selector := range reviewItemSelectors {
		doc.Find(selector).EachWithBreak(func(i int, item *goquery.Selection) bool {
			if i >= maxReviewNodesPerPass {
				return false
			}
			content, ok := reviewContentMatchers.First(item)
			if !ok {
				return true
			}
			content = strings.TrimSpace(strings.ReplaceAll(content, "더보기", ""))
			if len([]rune(content)) < 2 {
				return true
			}
			id, _ := reviewIDMatchers.First(item)
			author, _ := reviewAuthorMatchers.First(item)
			postedAt, _ := reviewDateMatchers.First(item)
			out = append(out, types.Review{
				ReviewID:    id,
				Content:     content,
				Author:      author,
				PostedAtRaw: postedAt,
				SourceURL:   sourceURL,
				CollectedAt: collectedAt,
				TargetPlace: targetID,
			})
			return true
		})
	}
	return out
}

func (c *Collector) collectPhotos(ctx context.Context, page Page, targetID string) ([]types.Photo, error) {
	d := c.drv
	l := c.logger.With(slog.String("channel", "photo"), slog.String("naver_place_id", targetID))

	sourceURL, ok := d.openFirstUsable(ctx, page, placeURLs(photoURLTemplates, targetID), "photo")
	if !ok {
		l.WarnContext(ctx, "No photo page could be opened")
		return []types.Photo{}, ctx.Err()
	}
	d.click(ctx, page, photoTabLabels, "photo_open_tab")
	if err := d.pace(ctx, 1); err != nil {
		return []types.Photo{}, err
	}

	doc, _, err := d.document(ctx, page, "photo_extract")
	if err != nil {
		return []types.Photo{}, fmt.Errorf("failed to read photo page: %w", err)
	}
	collected := c.capPhotos(DedupePhotos(c.extractPhotos(doc, targetID, sourceURL)))
	guard := NewNoGrowthGuard(d.cfg.NoGrowthLimit, len(collected))

	for i := 1; i <= d.cfg.PhotoMaxScrolls; i++ {
		if !d.scroll(ctx, page, photoScrollPx, fmt.Sprintf("photo_scroll_%d", i)) {
			l.InfoContext(ctx, "Stopped expanding photos", slog.String("reason", "scroll_failed"),
				slog.Int("iteration", i), slog.Int("count", len(collected)))
			break
		}
		if err := d.pace(ctx, 1); err != nil {
			return collected, err
		}
		doc, _, err := d.document(ctx, page, "photo_extract")
		if err != nil {
			return collected, fmt.Errorf("failed to read photo page: %w", err)
		}
		collected = c.capPhotos(DedupePhotos(append(collected, c.extractPhotos(doc, targetID, sourceURL)...)))
		if guard.Observe(len(collected)) {
			l.InfoContext(ctx, "Stopped expanding photos", slog.String("reason", "no_growth"),
				slog.Int("iteration", i), slog.Int("count", len(collected)))
			break
		}
	}
	return collected, nil
}

func (c *Collector) capPhotos(photos []types.Photo) []types.Photo {
	if limit := c.drv.cfg.MaxPhotosPerPlace; limit > 0 && len(photos) > limit {
		return photos[:limit]
	}
	return photos
}

func (c *Collector) extractPhotos(doc *goquery.Document, targetID, sourceURL string) []types.Photo {
	limit := c.drv.cfg.MaxPhotosPerPlace
	seen := map[string]struct{}{}
	var out []types.Photo
	for _, selector := range photoItemSelectors {
		if limit > 0 && len(out) >= limit {
			break
		}
		doc.Find(selector).EachWithBreak(func(i int, img *goquery.Selection) bool {
			if i >= maxPhotoNodesPerMatch || (limit > 0 && len(out) >= limit) {
				return false
			}
			src, ok := photoURLMatchers.First(img)
			if !ok || strings.HasPrefix(src, "data:") {
				return true
			}
			key := CanonicalImageURL(src)
			if _, dup := seen[key]; dup || key == "" {
				return true
			}
			seen[key] = struct{}{}
			meta := map[string]string{"source_url": sourceURL, "naver_place_id": targetID}
			if alt, ok := img.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
				meta["alt"] = strings.TrimSpace(alt)
			}
			if title, ok := img.Attr("title"); ok && strings.TrimSpace(title) != "" {
				meta["title"] = strings.TrimSpace(title)
			}
			out = append(out, types.Photo{ImageURL: src, Metadata: meta, TargetPlace: targetID})
			return true
		})
	}
	return out
}
