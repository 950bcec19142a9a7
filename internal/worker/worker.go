// Package worker implements the background processing side of the task
// pipeline. A pool of workers consumes task IDs from the queue, loads the
// corresponding record, builds a backend prompt for the task type, calls
// the generation backend, and persists the terminal outcome. Transient
// backend failures are retried by re-enqueueing the delivery with a delay
// until the retry budget is exhausted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/orchestra-api/internal/dispatch"
	"github.com/phrazzld/orchestra-api/internal/domain"
	"github.com/phrazzld/orchestra-api/internal/generation"
	"github.com/phrazzld/orchestra-api/internal/queue"
	"github.com/phrazzld/orchestra-api/internal/store"
)

// Config holds configuration for the worker pool.
type Config struct {
	// Count determines how many concurrent workers consume the queue.
	Count int

	// MaxRetries is the number of additional attempts allowed after the
	// first backend call fails. A task is attempted at most MaxRetries+1
	// times before it is marked failed.
	MaxRetries int

	// RetryBackoff is the delay before a failed delivery becomes
	// available for redelivery.
	RetryBackoff time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Count:        2,
		MaxRetries:   3,
		RetryBackoff: 60 * time.Second,
	}
}

// Pool manages background task processing.
type Pool struct {
	store      store.TaskStore
	queue      queue.Queue
	generator  generation.Generator
	config     Config
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool creates a worker pool over the given store, queue, and generator.
func NewPool(
	taskStore store.TaskStore,
	q queue.Queue,
	generator generation.Generator,
	config Config,
	logger *slog.Logger,
) (*Pool, error) {
	if taskStore == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.Count <= 0 {
		config.Count = DefaultConfig().Count
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultConfig().RetryBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		store:      taskStore,
		queue:      q,
		generator:  generator,
		config:     config,
		logger:     logger.With("component", "worker"),
		ctx:        ctx,
		cancelFunc: cancel,
	}, nil
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.Count; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals all workers to finish and waits for them to drain.
func (p *Pool) Stop() {
	p.cancelFunc()
	p.wg.Wait()
}

// worker consumes deliveries from the queue until the pool is stopped.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		delivery, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				p.logger.Debug("stopping worker", "worker_id", id)
				return
			}
			p.logger.Error("failed to dequeue", "worker_id", id, "error", err)
			continue
		}

		p.process(p.ctx, delivery)
	}
}

// process runs a single delivery through load, dispatch, generate, and
// persist. The record is always persisted before the delivery is acked so
// a crash between the two results in redelivery, never a lost update.
func (p *Pool) process(ctx context.Context, delivery *queue.Delivery) {
	log := p.logger.With("task_id", delivery.TaskID, "attempt", delivery.Attempt)

	task, err := p.store.GetByID(ctx, delivery.TaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			// The record never made it to storage or was removed.
			// Nothing to update, so drop the delivery.
			log.Warn("dequeued task not found in store, dropping")
			p.ack(ctx, delivery, log)
			return
		}
		log.Error("failed to load task, will retry delivery", "error", err)
		p.release(ctx, delivery, log)
		return
	}

	// A redelivered message for an already-finished task is a no-op.
	// This keeps processing idempotent under at-least-once delivery.
	if task.IsTerminal() {
		log.Debug("task already terminal, dropping delivery", "status", task.Status)
		p.ack(ctx, delivery, log)
		return
	}

	if task.Status != domain.TaskStatusInProgress {
		if err := task.MarkInProgress(); err != nil {
			log.Error("failed to mark task in progress", "error", err)
			p.release(ctx, delivery, log)
			return
		}
		if err := p.store.Update(ctx, task); err != nil {
			log.Error("failed to persist in_progress status", "error", err)
			p.release(ctx, delivery, log)
			return
		}
	}

	prompt, category, err := dispatch.BuildPrompt(task.Type, task.Prompt, task.History)
	if err != nil {
		// Unknown task types can never succeed, so fail immediately
		// without consuming the retry budget.
		log.Warn("no handler for task type, failing task",
			"task_type", task.Type,
			"error", err)
		p.finishFailed(ctx, delivery, task, fmt.Sprintf("unsupported task type: %s", task.Type), log)
		return
	}

	log.Info("processing task", "task_type", task.Type, "category", string(category))

	result, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, generation.ErrBackendFailure) && delivery.Attempt < p.config.MaxRetries {
			log.Warn("backend call failed, scheduling retry",
				"error", err,
				"backoff", p.config.RetryBackoff,
				"max_retries", p.config.MaxRetries)
			p.nack(ctx, delivery, log)
			return
		}

		log.Error("backend call failed permanently", "error", err)
		p.finishFailed(ctx, delivery, task, fmt.Sprintf("generation failed: %v", err), log)
		return
	}

	if err := task.Complete(result); err != nil {
		log.Error("failed to complete task", "error", err)
		p.release(ctx, delivery, log)
		return
	}
	if err := p.store.Update(ctx, task); err != nil {
		log.Error("failed to persist completed task", "error", err)
		p.release(ctx, delivery, log)
		return
	}

	log.Info("task completed", "task_type", task.Type)
	p.ack(ctx, delivery, log)
}

// finishFailed marks the task failed with the given reason, persists it,
// and acks the delivery. If persisting fails the delivery is released so a
// later redelivery can record the outcome.
func (p *Pool) finishFailed(
	ctx context.Context,
	delivery *queue.Delivery,
	task *domain.Task,
	reason string,
	log *slog.Logger,
) {
	if err := task.Fail(reason); err != nil {
		log.Error("failed to mark task failed", "error", err)
		p.release(ctx, delivery, log)
		return
	}
	if err := p.store.Update(ctx, task); err != nil {
		log.Error("failed to persist failed task", "error", err)
		p.release(ctx, delivery, log)
		return
	}
	p.ack(ctx, delivery, log)
}

func (p *Pool) ack(ctx context.Context, delivery *queue.Delivery, log *slog.Logger) {
	if err := p.queue.Ack(ctx, delivery); err != nil {
		log.Error("failed to ack delivery", "error", err)
	}
}

// nack burns one unit of the retry budget; it is reserved for deliveries
// whose backend call actually ran and failed.
func (p *Pool) nack(ctx context.Context, delivery *queue.Delivery, log *slog.Logger) {
	if err := p.queue.Nack(ctx, delivery, p.config.RetryBackoff); err != nil {
		log.Error("failed to nack delivery", "error", err)
	}
}

// release redelivers without incrementing the attempt counter. Storage
// hiccups go this way so they never eat into the backend retry budget.
func (p *Pool) release(ctx context.Context, delivery *queue.Delivery, log *slog.Logger) {
	if err := p.queue.Release(ctx, delivery, p.config.RetryBackoff); err != nil {
		log.Error("failed to release delivery", "error", err)
	}
}
