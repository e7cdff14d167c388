package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Queue = (*RedisQueue)(nil)

// Queue hands job ids from the API to the worker.
type Queue interface {
	Push(ctx context.Context, jobID uuid.UUID) error
	// Pop blocks up to timeout. ok is false when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (jobID uuid.UUID, ok bool, err error)
}

// RedisQueue is a FIFO on a Redis list: LPUSH to enqueue, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to push job %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to pop job: %w", err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return uuid.Nil, false, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}
	id, err := uuid.Parse(res[1])
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid job id %q on queue: %w", res[1], err)
	}
	return id, true, nil
}
