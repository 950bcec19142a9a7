// Package queue provides the durable, at-least-once job channel carrying task
// identifiers from the producer to the worker loop.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by queue implementations
var (
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrQueueUnavailable is returned when the transport cannot accept or
	// deliver messages (full buffer, broker down). An enqueue that fails
	// this way leaves the task record valid and pending; the core never
	// masks it as a task failure.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// Message is the envelope carried on the queue. It references a task record
// by id only; workers re-hydrate the record from storage. Attempt counts
// deliveries of this job so retry bookkeeping stays off the task record.
type Message struct {
	TaskID  uuid.UUID `json:"task_id"`
	Attempt int       `json:"attempt"`
}

// Delivery is one received message plus the transport bookkeeping needed to
// settle it. A delivery must be settled exactly once, with Ack or Nack.
type Delivery struct {
	Message

	// receipt is the transport-specific handle for settling the delivery.
	receipt string
}

// Queue is the job transport consumed by the worker loop and fed by the task
// service. Delivery is at least once: an unsettled or nacked message comes
// back, so worker-side idempotence is the correctness backstop.
type Queue interface {
	// Enqueue publishes a first-attempt message for the given task id.
	// Callers must only enqueue after the task record is durably committed.
	Enqueue(ctx context.Context, taskID uuid.UUID) error

	// Dequeue blocks until a message is available, the context is done, or
	// the queue is closed.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack settles a delivery; the message will not be redelivered.
	Ack(ctx context.Context, d *Delivery) error

	// Nack schedules the message for redelivery after the given delay,
	// with its attempt counter incremented.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// Release schedules the message for redelivery after the given delay
	// without touching its attempt counter. Workers use it when the
	// delivery could not be processed at all, so the retry budget judged
	// against Attempt is spent only on real processing attempts.
	Release(ctx context.Context, d *Delivery, delay time.Duration) error

	// Close stops the queue. In-flight Dequeue calls return ErrQueueClosed.
	Close() error
}
