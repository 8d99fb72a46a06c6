package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindowStore keeps each domain's request history in a Redis sorted
// set scored by unix time, which gives every worker process the same view
// of the window.
type RedisWindowStore struct {
	client redis.UniversalClient
}

// RedisConfig holds connection settings for the rate limit backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisWindowStore connects to Redis and verifies the connection.
func NewRedisWindowStore(ctx context.Context, cfg RedisConfig) (*RedisWindowStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisWindowStore{client: client}, nil
}

// NewRedisWindowStoreWithClient wraps an existing client (for tests).
func NewRedisWindowStoreWithClient(client redis.UniversalClient) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisWindowStore) Close() error {
	return s.client.Close()
}

func windowKey(domain string) string {
	return "ratelimit:" + domain
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// CountInWindow implements WindowStore.
func (s *RedisWindowStore) CountInWindow(ctx context.Context, domain string, windowStart time.Time) (int, time.Time, error) {
	key := windowKey(domain)

	if err := s.client.ZRemRangeByScore(ctx, key, "0", formatScore(score(windowStart))).Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("prune window: %w", err)
	}
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count window: %w", err)
	}

	var oldest time.Time
	entries, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("oldest entry: %w", err)
	}
	if len(entries) > 0 {
		oldest = time.Unix(0, int64(entries[0].Score*float64(time.Second))).UTC()
	}
	return int(count), oldest, nil
}

// Record implements WindowStore. The three commands run in one pipeline
// so concurrent workers interleave at command granularity at worst, which
// keeps any overshoot bounded and self-correcting within one window.
func (s *RedisWindowStore) Record(ctx context.Context, domain string, at time.Time, ttl time.Duration) error {
	key := windowKey(domain)
	sc := score(at)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: sc, Member: formatScore(sc)})
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(score(at.Add(-Window))))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 9, 64)
}
