package redisclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrQueueEmpty = errors.New("queue is empty")

// ListQueue is a FIFO of opaque payloads backed by a Redis list.
type ListQueue struct {
	client *redis.Client
	key    string
}

func NewListQueue(client *redis.Client, key string) *ListQueue {
	return &ListQueue{client: client, key: key}
}

func (q *ListQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Pop removes the oldest payload. It returns ErrQueueEmpty when nothing is queued.
func (q *ListQueue) Pop(ctx context.Context) ([]byte, error) {
	data, err := q.client.RPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("pop %s: %w", q.key, err)
	}
	return data, nil
}

func (q *ListQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", q.key, err)
	}
	return n, nil
}
