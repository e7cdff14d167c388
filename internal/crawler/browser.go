package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Page is the slice of a browser tab the resolver and the collector drive.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	// ClickText clicks the first clickable element whose visible text
	// contains one of labels. It reports false when no element matched.
	ClickText(ctx context.Context, labels []string) (bool, error)
	ScrollBy(ctx context.Context, px int) error
}

// Launcher opens one browser session per place.
type Launcher interface {
	Launch(ctx context.Context) (*Session, error)
}

// Closer is one teardown step of a session.
type Closer struct {
	Name  string
	Close func() error
}

// Session owns a page and everything that must be torn down with it.
type Session struct {
	Page    Page
	closers []Closer
	logger  *slog.Logger
	once    sync.Once
}

func NewSession(page Page, logger *slog.Logger, closers ...Closer) *Session {
	return &Session{Page: page, closers: closers, logger: logger}
}

// Close runs every teardown step in order. Failures are collected and logged,
// never returned, so Close is safe in a defer on every exit path.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		var failures []string
		for _, c := range s.closers {
			if c.Close == nil {
				continue
			}
			if err := c.Close(); err != nil {
				failures = append(failures, fmt.Sprintf("%s:%v", c.Name, err))
			}
		}
		if len(failures) > 0 && s.logger != nil {
			s.logger.Warn("Browser session teardown partially failed",
				slog.String("details", strings.Join(failures, ", ")))
		}
	})
}
