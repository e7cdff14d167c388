package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/goccy/go-json"

	"github.com/serene416/friend/config"
)

var _ Launcher = (*ChromeLauncher)(nil)

// clickScript clicks the first button-like element whose text contains one
// of the labels passed as a JSON array.
const clickScript = `(function(labels) {
	const nodes = document.querySelectorAll("button, a, [role='button'], [role='tab']");
	for (const el of nodes) {
		const text = (el.innerText || "").trim();
		if (!text) continue;
		if (labels.some((label) => text.includes(label))) {
			el.scrollIntoView({block: "center"});
			el.click();
			return true;
		}
	}
	return false;
})(%s)`

// ChromeLauncher starts a headless Chrome per session through chromedp.
type ChromeLauncher struct {
	cfg    config.CrawlerConfig
	logger *slog.Logger
}

func NewChromeLauncher(cfg config.CrawlerConfig, logger *slog.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

func (l *ChromeLauncher) Launch(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("lang", "ko-KR"),
	)
	if ua := strings.TrimSpace(l.cfg.UserAgent); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// The first Run binds the browser to tabCtx, so it must not carry a
	// per-action deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	page := &chromePage{ctx: tabCtx, timeout: time.Duration(l.cfg.TimeoutMS) * time.Millisecond}
	return NewSession(page, l.logger,
		Closer{Name: "page", Close: func() error { return chromedp.Cancel(tabCtx) }},
		Closer{Name: "context", Close: func() error { cancelTab(); return nil }},
		Closer{Name: "browser", Close: func() error { cancelAlloc(); return nil }},
	), nil
}

type chromePage struct {
	ctx     context.Context
	timeout time.Duration
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) ClickText(ctx context.Context, labels []string) (bool, error) {
	encoded, err := json.Marshal(labels)
	if err != nil {
		return false, fmt.Errorf("failed to encode click labels: %w", err)
	}
	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, encoded), &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

func (p *chromePage) ScrollBy(ctx context.Context, px int) error {
	var offset float64
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d); window.scrollY", px), &offset))
}
