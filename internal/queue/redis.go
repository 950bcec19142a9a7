package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. Ready messages live on a list, messages claimed by a
// worker sit on a processing list until settled, and nacked messages wait in
// a sorted set scored by their redelivery deadline.
const (
	readyKey      = "orchestra:jobs:ready"
	processingKey = "orchestra:jobs:processing"
	delayedKey    = "orchestra:jobs:delayed"
)

const (
	dequeuePoll = 2 * time.Second
	moverTick   = time.Second
	dialTimeout = 5 * time.Second
)

// RedisQueue is a Queue backed by a Redis list with a sorted-set delay
// bucket. Messages are JSON envelopes; BLMOVE parks each claimed message on a
// processing list so an acked message is removed exactly once and a nacked
// one is moved to the delay bucket with its attempt counter incremented.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis at addr and starts the background mover
// that promotes due delayed messages back onto the ready list.
func NewRedisQueue(addr string, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	moverCtx, moverCancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client: client,
		logger: logger,
		cancel: moverCancel,
	}

	q.wg.Add(1)
	go q.runMover(moverCtx)

	return q, nil
}

// Enqueue publishes a first-attempt message for the given task id.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID uuid.UUID) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	raw, err := json.Marshal(Message{TaskID: taskID, Attempt: 0})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.client.LPush(ctx, readyKey, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	q.logger.Debug("job message enqueued", "task_id", taskID)
	return nil
}

// Dequeue blocks until a message is available, the context is done, or the
// queue is closed. The claimed message is parked on the processing list
// until Ack or Nack settles it.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if q.isClosed() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, readyKey, processingKey, "RIGHT", "LEFT", dequeuePoll).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // poll interval elapsed with no message
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			// Unparseable entries cannot be processed; drop from the
			// processing list and keep consuming.
			q.logger.Error("discarding malformed job message", "raw", raw, "error", err)
			_ = q.client.LRem(ctx, processingKey, 1, raw).Err()
			continue
		}

		return &Delivery{Message: msg, receipt: raw}, nil
	}
}

// Ack settles a delivery by removing it from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, processingKey, 1, d.receipt).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Nack moves the delivery to the delay bucket; the mover promotes it back to
// the ready list once the delay has elapsed, with attempt incremented.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.requeue(ctx, d, delay, d.Attempt+1)
}

// Release moves the delivery to the delay bucket with its attempt counter
// unchanged.
func (q *RedisQueue) Release(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.requeue(ctx, d, delay, d.Attempt)
}

func (q *RedisQueue) requeue(ctx context.Context, d *Delivery, delay time.Duration, attempt int) error {
	next, err := json.Marshal(Message{TaskID: d.TaskID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	due := float64(time.Now().Add(delay).UnixMilli())

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, d.receipt)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: next})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	q.logger.Debug("job message scheduled for redelivery",
		"task_id", d.TaskID,
		"attempt", attempt,
		"delay", delay)
	return nil
}

// Close stops the mover and releases the client connection.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	q.logger.Info("job queue closed")
	return nil
}

func (q *RedisQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// runMover periodically promotes due delayed messages onto the ready list.
func (q *RedisQueue) runMover(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(moverTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Error("failed to read delayed job messages", "error", err)
		}
		return
	}

	for _, raw := range due {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, raw)
		pipe.LPush(ctx, readyKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("failed to promote delayed job message", "error", err)
			return
		}
	}
}
