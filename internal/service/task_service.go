package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/orchestra-api/internal/domain"
	"github.com/phrazzld/orchestra-api/internal/queue"
	"github.com/phrazzld/orchestra-api/internal/store"
)

// TaskService provides task submission and retrieval operations.
type TaskService interface {
	// Submit creates a new pending task record and enqueues it for
	// background processing. The record is durable before the service
	// returns; if enqueueing fails, the task is still returned and stays
	// pending until re-enqueued.
	Submit(
		ctx context.Context,
		ownerID uuid.UUID,
		taskType domain.TaskType,
		prompt string,
		history []domain.Message,
	) (*domain.Task, error)

	// GetTask retrieves a task by its ID.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// ListTasks retrieves all tasks, newest first.
	ListTasks(ctx context.Context) ([]*domain.Task, error)

	// StatsByStatus returns the number of tasks per status. Every status
	// appears in the result, with zero counts for unused ones.
	StatsByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// StatsByType returns the number of tasks per task type.
	StatsByType(ctx context.Context) (map[string]int, error)
}

// Common sentinel errors for TaskService
var (
	// ErrTaskNotFound indicates that the task does not exist
	ErrTaskNotFound = errors.New("task not found")
)

// TaskServiceError wraps errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "submit_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
// It returns known sentinel errors directly without wrapping.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	taskStore store.TaskStore
	queue     queue.Queue
	logger    *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	taskStore store.TaskStore,
	q queue.Queue,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "taskStore cannot be nil",
		}
	}
	if q == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "queue cannot be nil",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		taskStore: taskStore,
		queue:     q,
		logger:    logger.With("component", "task_service"),
	}, nil
}

// Submit creates a durable pending task record, then enqueues its ID for
// the workers. Persisting happens first so an enqueue failure leaves a
// pending record rather than an orphaned queue message.
func (s *taskServiceImpl) Submit(
	ctx context.Context,
	ownerID uuid.UUID,
	taskType domain.TaskType,
	prompt string,
	history []domain.Message,
) (*domain.Task, error) {
	task, err := domain.NewTask(ownerID, taskType, prompt, history)
	if err != nil {
		s.logger.Error("failed to create task object",
			"error", err,
			"owner_id", ownerID,
			"task_type", taskType)
		return nil, NewTaskServiceError("submit_task", "failed to create task object", err)
	}

	if err := s.taskStore.Create(ctx, task); err != nil {
		s.logger.Error("failed to save task",
			"error", err,
			"task_id", task.ID)
		return nil, NewTaskServiceError("submit_task", "failed to save task", err)
	}

	s.logger.Info("task created with pending status",
		"task_id", task.ID,
		"task_type", task.Type)

	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		// The record is durable but not yet queued. Surface the task
		// anyway; it remains visible as pending until re-enqueued.
		s.logger.Warn("failed to enqueue task, record remains pending",
			"error", err,
			"task_id", task.ID)
	}

	return task, nil
}

// GetTask retrieves a task by its ID.
func (s *taskServiceImpl) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.taskStore.GetByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}
	return task, nil
}

// ListTasks retrieves all tasks, newest first.
func (s *taskServiceImpl) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	tasks, err := s.taskStore.List(ctx)
	if err != nil {
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}
	return tasks, nil
}

// StatsByStatus returns task counts for every status, zero-filled.
func (s *taskServiceImpl) StatsByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	counts, err := s.taskStore.CountByStatus(ctx)
	if err != nil {
		return nil, NewTaskServiceError("stats_by_status", "failed to count tasks by status", err)
	}

	stats := map[domain.TaskStatus]int{
		domain.TaskStatusPending:    0,
		domain.TaskStatusInProgress: 0,
		domain.TaskStatusCompleted:  0,
		domain.TaskStatusFailed:     0,
	}
	for status, count := range counts {
		stats[status] = count
	}
	return stats, nil
}

// StatsByType returns task counts keyed by the stored task type string.
func (s *taskServiceImpl) StatsByType(ctx context.Context) (map[string]int, error) {
	counts, err := s.taskStore.CountByType(ctx)
	if err != nil {
		return nil, NewTaskServiceError("stats_by_type", "failed to count tasks by type", err)
	}
	return counts, nil
}
