// Package redis provides a Redis-backed job queue so multiple worker
// processes can share one backlog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

const defaultKey = "leadsniffer:jobs"

// popTimeout bounds each blocking pop so context cancellation is
// noticed promptly.
const popTimeout = 2 * time.Second

// Queue pushes job attempts onto a Redis list and pops them with BRPOP.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// NewQueue wraps an existing Redis client. An empty key uses the default.
func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = defaultKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue implements crawler.Queue.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue implements crawler.Queue. It blocks until an item arrives or
// the context ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		vals, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.QueueItem{}, fmt.Errorf("dequeue job: %w", err)
		}

		// BRPOP returns [key, value].
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(vals[1]), &item); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
		}
		return item, nil
	}
}
