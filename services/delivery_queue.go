package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by the in-process queue when its buffer is full
var ErrQueueFull = errors.New("delivery queue is full")

// DeliveryQueue hands delivery requests from the dispatcher to the
// delivery worker. Dequeue returns nil, nil when nothing arrived within wait.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, req models.DeliveryRequest) error
	Dequeue(ctx context.Context, wait time.Duration) (*models.DeliveryRequest, error)
}

// RedisDeliveryQueue is a FIFO on a Redis list shared between the API
// process and any number of worker processes
type RedisDeliveryQueue struct {
	client *redis.Client
	key    string
}

func NewRedisDeliveryQueue(client *redis.Client, key string) *RedisDeliveryQueue {
	return &RedisDeliveryQueue{client: client, key: key}
}

// Enqueue pushes the request onto the head of the list
func (q *RedisDeliveryQueue) Enqueue(ctx context.Context, req models.DeliveryRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", q.key, err)
	}
	return nil
}

// Dequeue blocks up to wait for the oldest request
func (q *RedisDeliveryQueue) Dequeue(ctx context.Context, wait time.Duration) (*models.DeliveryRequest, error) {
	result, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP %s: %w", q.key, err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("redis BRPOP %s: unexpected reply length %d", q.key, len(result))
	}

	var req models.DeliveryRequest
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return nil, fmt.Errorf("unmarshal delivery request: %w", err)
	}
	return &req, nil
}

// Len returns the number of queued requests
func (q *RedisDeliveryQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// ChannelDeliveryQueue is a bounded in-process queue used when no Redis is
// configured. API and worker must then run in the same process.
type ChannelDeliveryQueue struct {
	ch chan models.DeliveryRequest
}

func NewChannelDeliveryQueue(capacity int) *ChannelDeliveryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelDeliveryQueue{ch: make(chan models.DeliveryRequest, capacity)}
}

// Enqueue never blocks: a full buffer yields ErrQueueFull
func (q *ChannelDeliveryQueue) Enqueue(ctx context.Context, req models.DeliveryRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ChannelDeliveryQueue) Dequeue(ctx context.Context, wait time.Duration) (*models.DeliveryRequest, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case req := <-q.ch:
		return &req, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued requests
func (q *ChannelDeliveryQueue) Len() int {
	return len(q.ch)
}
