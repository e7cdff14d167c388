package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serene416/friend/app/observability/metrics"
)

var _ Backend = (*Selector)(nil)

// Selector routes to the shared backend until its first failure, then
// switches to the local backend for the rest of the process lifetime.
// There is no path back to shared.
type Selector struct {
	shared  Backend
	local   Backend
	demoted atomic.Bool
	once    sync.Once
	logger  *slog.Logger
}

// NewSelector starts demoted when shared is nil.
func NewSelector(shared, local Backend, logger *slog.Logger) *Selector {
	s := &Selector{shared: shared, local: local, logger: logger}
	if shared == nil {
		s.demoted.Store(true)
	}
	return s
}

func (s *Selector) Name() string { return "selector" }

// Demoted reports whether the local backend is now authoritative.
func (s *Selector) Demoted() bool { return s.demoted.Load() }

// Active returns the backend currently serving requests.
func (s *Selector) Active() Backend {
	if s.demoted.Load() {
		return s.local
	}
	return s.shared
}

func (s *Selector) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.demoted.Load() {
		val, ok, err := s.shared.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		if callerGone(ctx, err) {
			return "", false, nil
		}
		s.demote(ctx, err)
	}
	return s.local.Get(ctx, key)
}

func (s *Selector) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.demoted.Load() {
		err := s.shared.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		if callerGone(ctx, err) {
			return nil
		}
		s.demote(ctx, err)
	}
	return s.local.Set(ctx, key, value, ttl)
}

// callerGone reports failures caused by the caller's own context. They say
// nothing about the shared backend and are served as a miss.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Selector) demote(ctx context.Context, cause error) {
	s.once.Do(func() {
		s.demoted.Store(true)
		metrics.Get().CacheDemotionsTotal.Add(ctx, 1)
		s.logger.WarnContext(ctx, "Shared cache backend failed, falling back to local cache for this process",
			slog.String("from", s.shared.Name()),
			slog.String("to", s.local.Name()),
			slog.Any("error", cause))
	})
}
