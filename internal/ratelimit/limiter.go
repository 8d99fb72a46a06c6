// Package ratelimit enforces per-domain request budgets with a sliding
// 60-second window over shared state, so the limit holds even when several
// workers crawl the same domain at once.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
)

// Window is the sliding interval over which requests are counted.
const Window = 60 * time.Second

// WindowStore is the shared backing state for one or more limiters.
// Implementations must tolerate concurrent callers.
type WindowStore interface {
	// CountInWindow removes entries recorded before windowStart for the
	// domain and returns the remaining count together with the oldest
	// remaining timestamp (zero when the window is empty).
	CountInWindow(ctx context.Context, domain string, windowStart time.Time) (int, time.Time, error)
	// Record inserts an entry at the given instant and refreshes the
	// domain key's expiry so idle domains self-clean.
	Record(ctx context.Context, domain string, at time.Time, ttl time.Duration) error
}

// Limiter admits requests for any domain at a fixed requests-per-minute
// budget. When the backing store is unreachable it fails open: blocking
// every crawl on a limiter outage would be worse than briefly exceeding
// a politeness budget.
type Limiter struct {
	rpm    int
	store  WindowStore
	clock  crawler.Clock
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter constructs a Limiter for the given requests-per-minute budget.
func NewLimiter(rpm int, store WindowStore, clock crawler.Clock, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rpm <= 0 {
		rpm = 1
	}
	return &Limiter{
		rpm:    rpm,
		store:  store,
		clock:  clock,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Check reports whether a request to url is admissible right now and, if
// not, how long the caller should wait before the oldest window entry
// expires.
func (l *Limiter) Check(ctx context.Context, url string) (bool, time.Duration) {
	domain := crawler.Domain(url)
	now := l.clock.Now()

	count, oldest, err := l.store.CountInWindow(ctx, domain, now.Add(-Window))
	if err != nil {
		l.logger.Error("rate limit store unavailable, failing open",
			zap.String("domain", domain), zap.Error(err))
		metrics.ObserveRateLimitFailOpen()
		return true, 0
	}

	if count < l.rpm {
		return true, 0
	}
	if oldest.IsZero() {
		return true, 0
	}
	wait := oldest.Add(Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// Record registers a request against the domain's window.
func (l *Limiter) Record(ctx context.Context, url string) {
	domain := crawler.Domain(url)
	if err := l.store.Record(ctx, domain, l.clock.Now(), 2*Window); err != nil {
		l.logger.Error("rate limit record failed",
			zap.String("domain", domain), zap.Error(err))
	}
}

// WaitIfNeeded blocks until a request to url is admissible, records it,
// and returns the wait that was applied. The only error it returns is
// context cancellation during the wait.
func (l *Limiter) WaitIfNeeded(ctx context.Context, url string) (time.Duration, error) {
	allowed, wait := l.Check(ctx, url)
	if !allowed && wait > 0 {
		l.logger.Debug("rate limited",
			zap.String("domain", crawler.Domain(url)),
			zap.Duration("wait", wait))
		metrics.ObserveRateLimitDelay(crawler.Domain(url), wait)
		if err := l.sleep(ctx, wait); err != nil {
			return 0, err
		}
	} else {
		wait = 0
	}
	l.Record(ctx, url)
	return wait, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
