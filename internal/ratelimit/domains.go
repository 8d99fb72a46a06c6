package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// DomainLimiters hands out limiters keyed by (domain, rpm) so different
// jobs can apply different configured budgets to the same domain without
// cross-contamination. All limiters share one WindowStore, so the
// recorded request history per domain stays unified.
type DomainLimiters struct {
	defaultRPM int
	store      WindowStore
	clock      crawler.Clock
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewDomainLimiters constructs the limiter cache.
func NewDomainLimiters(defaultRPM int, store WindowStore, clock crawler.Clock, logger *zap.Logger) *DomainLimiters {
	if defaultRPM <= 0 {
		defaultRPM = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DomainLimiters{
		defaultRPM: defaultRPM,
		store:      store,
		clock:      clock,
		logger:     logger,
		limiters:   make(map[string]*Limiter),
	}
}

// Get returns the limiter for a domain at the requested budget, creating
// it lazily. A non-positive rpm falls back to the default.
func (d *DomainLimiters) Get(domain string, rpm int) *Limiter {
	if rpm <= 0 {
		rpm = d.defaultRPM
	}
	key := fmt.Sprintf("%s:%d", domain, rpm)

	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[key]
	if !ok {
		limiter = NewLimiter(rpm, d.store, d.clock, d.logger)
		d.limiters[key] = limiter
	}
	return limiter
}

// WaitIfNeeded implements crawler.RateLimiter.
func (d *DomainLimiters) WaitIfNeeded(ctx context.Context, url string, requestsPerMinute int) (time.Duration, error) {
	limiter := d.Get(crawler.Domain(url), requestsPerMinute)
	return limiter.WaitIfNeeded(ctx, url)
}
