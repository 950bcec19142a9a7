package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a single-process Queue backed by a buffered channel.
// Redelivery delays are driven by timers, so a nacked message reappears with
// its attempt counter incremented after the requested backoff. It offers the
// same contract as the Redis transport minus cross-process durability, which
// makes it the default for development and the workhorse for tests.
type MemoryQueue struct {
	mu       sync.Mutex
	messages chan Message
	timers   map[*time.Timer]struct{}
	closed   bool
	logger   *slog.Logger
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-memory queue with the given buffer size.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		messages: make(chan Message, size),
		timers:   make(map[*time.Timer]struct{}),
		logger:   logger,
	}
}

// Enqueue publishes a first-attempt message for the given task id.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID uuid.UUID) error {
	return q.publish(Message{TaskID: taskID, Attempt: 0})
}

// Dequeue blocks until a message is available, the context is done, or the
// queue is closed.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-q.messages:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{Message: msg}, nil
	}
}

// Ack settles a delivery. The channel hands each message to exactly one
// consumer, so there is nothing to clean up.
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	return nil
}

// Nack schedules the message for redelivery after the given delay with its
// attempt counter incremented.
func (q *MemoryQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.schedule(Message{TaskID: d.TaskID, Attempt: d.Attempt + 1}, delay)
}

// Release schedules the message for redelivery after the given delay with its
// attempt counter unchanged.
func (q *MemoryQueue) Release(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.schedule(Message{TaskID: d.TaskID, Attempt: d.Attempt}, delay)
}

// redeliveryRetry is how long a timed redelivery waits for buffer space
// before trying again.
const redeliveryRetry = 50 * time.Millisecond

// schedule arms a timer that pushes msg back onto the buffer after delay.
func (q *MemoryQueue) schedule(msg Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.scheduleLocked(msg, delay)

	q.logger.Debug("job message scheduled for redelivery",
		"task_id", msg.TaskID,
		"attempt", msg.Attempt,
		"delay", delay)

	return nil
}

// scheduleLocked arms the redelivery timer. If the buffer is full when the
// timer fires, the message is rescheduled rather than dropped; the record
// would otherwise be stranded in_progress with no delivery left to finish it.
// Callers must hold q.mu.
func (q *MemoryQueue) scheduleLocked(msg Message, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		if q.closed {
			q.mu.Unlock()
			return
		}
		select {
		case q.messages <- msg:
			q.mu.Unlock()
		default:
			q.scheduleLocked(msg, redeliveryRetry)
			q.mu.Unlock()
			q.logger.Warn("redelivery deferred, buffer full",
				"task_id", msg.TaskID,
				"attempt", msg.Attempt,
				"retry_in", redeliveryRetry)
		}
	})
	q.timers[timer] = struct{}{}
}

// Close stops the queue, cancels pending redeliveries and unblocks consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}

	close(q.messages)
	q.logger.Info("job queue closed")
	return nil
}

func (q *MemoryQueue) publish(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.messages <- msg:
		q.logger.Debug("job message enqueued",
			"task_id", msg.TaskID,
			"attempt", msg.Attempt,
			"queue_len", len(q.messages),
			"queue_cap", cap(q.messages))
		return nil
	default:
		return fmt.Errorf("%w: buffer capacity %d reached", ErrQueueUnavailable, cap(q.messages))
	}
}
