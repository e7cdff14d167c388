package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"

	"github.com/serene416/friend/config"
)

const (
	// Pages smaller than this with almost nothing interactive load but hold no
	// crawlable content.
	thinContentBytes   = 10000
	thinContentMinTags = 5

	retryInitialInterval = 200 * time.Millisecond
	jitterFraction       = 0.35
)

// driver wraps page actions with pacing and retries.
type driver struct {
	cfg    config.CrawlerConfig
	logger *slog.Logger

	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func(n int64) int64
	newBackOff func() backoff.BackOff
}

func newDriver(cfg config.CrawlerConfig, logger *slog.Logger) *driver {
	return &driver{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Int64N,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retryInitialInterval
			b.RandomizationFactor = jitterFraction
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pace waits the configured request delay scaled by multiplier, jittered by
// up to 35% either way.
func (d *driver) pace(ctx context.Context, multiplier float64) error {
	if d.cfg.RequestDelayMS <= 0 {
		return nil
	}
	base := int64(float64(d.cfg.RequestDelayMS) * max(multiplier, 0))
	spread := max(1, int64(float64(base)*jitterFraction))
	delayMS := max(0, base+d.jitter(2*spread+1)-spread)
	return d.sleep(ctx, time.Duration(delayMS)*time.Millisecond)
}

// retry runs op up to RetryCount times with jittered exponential backoff.
func (d *driver) retry(ctx context.Context, action string, op func() error) error {
	attempts := max(d.cfg.RetryCount, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(attempts-1)), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, b, func(err error, next time.Duration) {
		d.logger.WarnContext(ctx, "Browser action failed, retrying",
			slog.String("action", action),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("next", next),
			slog.Any("error", err))
	})
}

func (d *driver) navigate(ctx context.Context, page Page, url string) bool {
	err := d.retry(ctx, "goto", func() error { return page.Navigate(ctx, url) })
	if err != nil {
		d.logger.WarnContext(ctx, "Navigation failed", slog.String("url", url), slog.Any("error", err))
		return false
	}
	return true
}

// document snapshots the page and parses it.
func (d *driver) document(ctx context.Context, page Page, action string) (*goquery.Document, string, error) {
	var html string
	err := d.retry(ctx, action, func() error {
		var err error
		html, err = page.HTML(ctx)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, html, nil
}

// click reports whether a matching element was clicked. A page without a
// matching element is not retried.
func (d *driver) click(ctx context.Context, page Page, labels []string, action string) bool {
	var clicked bool
	err := d.retry(ctx, action, func() error {
		var err error
		clicked, err = page.ClickText(ctx, labels)
		return err
	})
	if err != nil {
		d.logger.DebugContext(ctx, "Click failed", slog.String("action", action), slog.Any("error", err))
		return false
	}
	return clicked
}

func (d *driver) scroll(ctx context.Context, page Page, px int, action string) bool {
	err := d.retry(ctx, action, func() error { return page.ScrollBy(ctx, px) })
	if err != nil {
		d.logger.WarnContext(ctx, "Scroll failed", slog.String("action", action), slog.Any("error", err))
		return false
	}
	return true
}

// openFirstUsable navigates through urls until one renders usable content.
func (d *driver) openFirstUsable(ctx context.Context, page Page, urls []string, channel string) (string, bool) {
	for _, url := range urls {
		if !d.navigate(ctx, page, url) {
			continue
		}
		if err := d.pace(ctx, 0.8); err != nil {
			return "", false
		}
		doc, html, err := d.document(ctx, page, channel+"_open")
		if err != nil {
			continue
		}
		if isThinContent(doc, html) {
			d.logger.InfoContext(ctx, "Rejected page with thin content",
				slog.String("channel", channel), slog.String("url", url))
			continue
		}
		return url, true
	}
	return "", false
}

func isThinContent(doc *goquery.Document, html string) bool {
	if len(html) >= thinContentBytes {
		return false
	}
	return doc.Find("a, button, img").Length() < thinContentMinTags
}
