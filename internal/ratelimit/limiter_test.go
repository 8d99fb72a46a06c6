package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// stepClock is a manually advanced clock shared with the test's sleeper,
// so rate limit waits move virtual time instead of real time.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) CountInWindow(context.Context, string, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func (failingStore) Record(context.Context, string, time.Time, time.Duration) error {
	return errors.New("connection refused")
}

func TestLimiter_AdmitsUnderLimit(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	limiter := NewLimiter(3, NewMemoryWindowStore(), clock, zap.NewNop())
	ctx := context.Background()

	for range 3 {
		wait, err := limiter.WaitIfNeeded(ctx, "https://medium.com/tag/golang")
		require.NoError(t, err)
		require.Zero(t, wait)
		clock.Advance(time.Second)
	}

	allowed, wait := limiter.Check(ctx, "https://medium.com/@writer")
	require.False(t, allowed)
	// Oldest entry is 3s old; it leaves the window after another 57s.
	require.Equal(t, 57*time.Second, wait)
}

func TestLimiter_DomainsAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	limiter := NewLimiter(1, NewMemoryWindowStore(), clock, zap.NewNop())
	ctx := context.Background()

	_, err := limiter.WaitIfNeeded(ctx, "https://medium.com/a")
	require.NoError(t, err)

	allowed, _ := limiter.Check(ctx, "https://www.reddit.com/r/golang.json")
	require.True(t, allowed, "another domain has its own window")

	allowed, _ = limiter.Check(ctx, "https://medium.com/b")
	require.False(t, allowed)
}

func TestLimiter_SlidingWindowBound(t *testing.T) {
	t.Parallel()

	const rpm = 5
	const requests = 12

	clock := newStepClock()
	store := NewMemoryWindowStore()
	limiter := NewLimiter(rpm, store, clock, zap.NewNop())
	limiter.sleep = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}

	var admitted []time.Time
	for range requests {
		_, err := limiter.WaitIfNeeded(context.Background(), "https://medium.com/tag/go")
		require.NoError(t, err)
		admitted = append(admitted, clock.Now())
		clock.Advance(100 * time.Millisecond)
	}

	// No sliding 60s window measured from any admitted request may hold
	// more than rpm requests.
	for i, start := range admitted {
		count := 0
		for _, ts := range admitted[i:] {
			if ts.Sub(start) < Window {
				count++
			}
		}
		require.LessOrEqual(t, count, rpm, "window starting at request %d", i)
	}
}

func TestLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	limiter := NewLimiter(1, failingStore{}, clock, zap.NewNop())
	slept := false
	limiter.sleep = func(context.Context, time.Duration) error {
		slept = true
		return nil
	}

	for range 5 {
		wait, err := limiter.WaitIfNeeded(context.Background(), "https://medium.com/a")
		require.NoError(t, err)
		require.Zero(t, wait)
	}
	require.False(t, slept, "fail-open must admit immediately")
}

func TestLimiter_WaitCancelledByContext(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	limiter := NewLimiter(1, NewMemoryWindowStore(), clock, zap.NewNop())

	_, err := limiter.WaitIfNeeded(context.Background(), "https://medium.com/a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limiter.WaitIfNeeded(ctx, "https://medium.com/b")
	require.ErrorIs(t, err, context.Canceled)
}

func TestDomainLimiters_CachedPerDomainAndBudget(t *testing.T) {
	t.Parallel()

	d := NewDomainLimiters(10, NewMemoryWindowStore(), newStepClock(), zap.NewNop())

	a := d.Get("medium.com", 30)
	b := d.Get("medium.com", 30)
	c := d.Get("medium.com", 5)
	other := d.Get("reddit.com", 30)

	require.Same(t, a, b, "same (domain, rpm) pair reuses the limiter")
	require.NotSame(t, a, c, "different budget gets its own limiter")
	require.NotSame(t, a, other)

	fallback := d.Get("medium.com", 0)
	require.Same(t, fallback, d.Get("medium.com", 10), "non-positive rpm falls back to the default")
}
