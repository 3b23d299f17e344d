package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKey = "redaction:jobs"

// pollInterval bounds each BRPOP so Dequeue notices context cancellation.
const pollInterval = 2 * time.Second

// RedisQueue is a Redis-list-backed Queue. LPUSH on enqueue, BRPOP on
// dequeue, so jobs come out in submission order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a RedisQueue from a Redis URL.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts), key: defaultKey}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, jobID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}
		vals, err := q.client.BRPop(ctx, pollInterval, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("dequeue job: %w", err)
		}
		id, err := uuid.Parse(vals[1])
		if err != nil {
			return uuid.Nil, fmt.Errorf("malformed job id %q: %w", vals[1], err)
		}
		return id, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
