package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestra-api/internal/domain"
	"github.com/phrazzld/orchestra-api/internal/queue"
	"github.com/phrazzld/orchestra-api/internal/store"
)

type fakeTaskStore struct {
	tasks      map[uuid.UUID]*domain.Task
	createErr  error
	countByErr error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (f *fakeTaskStore) Create(_ context.Context, task *domain.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

func (f *fakeTaskStore) Update(_ context.Context, task *domain.Task) error {
	if _, ok := f.tasks[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTaskStore) List(_ context.Context) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTaskStore) CountByStatus(_ context.Context) (map[domain.TaskStatus]int, error) {
	if f.countByErr != nil {
		return nil, f.countByErr
	}
	counts := make(map[domain.TaskStatus]int)
	for _, t := range f.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (f *fakeTaskStore) CountByType(_ context.Context) (map[string]int, error) {
	if f.countByErr != nil {
		return nil, f.countByErr
	}
	counts := make(map[string]int)
	for _, t := range f.tasks {
		counts[string(t.Type)]++
	}
	return counts, nil
}

func (f *fakeTaskStore) WithTx(_ *sql.Tx) store.TaskStore { return f }

type fakeQueue struct {
	enqueued   []uuid.UUID
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, taskID uuid.UUID) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, taskID)
	return nil
}

func (f *fakeQueue) Dequeue(_ context.Context) (*queue.Delivery, error) {
	return nil, queue.ErrQueueClosed
}
func (f *fakeQueue) Ack(_ context.Context, _ *queue.Delivery) error { return nil }
func (f *fakeQueue) Nack(_ context.Context, _ *queue.Delivery, _ time.Duration) error {
	return nil
}
func (f *fakeQueue) Release(_ context.Context, _ *queue.Delivery, _ time.Duration) error {
	return nil
}
func (f *fakeQueue) Close() error { return nil }

func newTestService(t *testing.T, ts store.TaskStore, q queue.Queue) TaskService {
	t.Helper()
	svc, err := NewTaskService(ts, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc
}

func TestNewTaskService_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewTaskService(nil, &fakeQueue{}, nil)
	assert.Error(t, err)

	_, err = NewTaskService(newFakeTaskStore(), nil, nil)
	assert.Error(t, err)

	svc, err := NewTaskService(newFakeTaskStore(), &fakeQueue{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestSubmit_CreatesAndEnqueues(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	q := &fakeQueue{}
	svc := newTestService(t, ts, q)

	ownerID := uuid.New()
	task, err := svc.Submit(
		context.Background(),
		ownerID,
		domain.TaskTypeSummarization,
		"summarize this",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, ownerID, task.OwnerID)
	assert.Nil(t, task.Result)

	stored, ok := ts.tasks[task.ID]
	require.True(t, ok, "task must be persisted")
	assert.Equal(t, domain.TaskStatusPending, stored.Status)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, task.ID, q.enqueued[0])
}

func TestSubmit_EnqueueFailureStillReturnsTask(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	q := &fakeQueue{enqueueErr: queue.ErrQueueUnavailable}
	svc := newTestService(t, ts, q)

	task, err := svc.Submit(
		context.Background(),
		uuid.New(),
		domain.TaskTypeTranslation,
		"translate this",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Record stays durable and pending even though it never reached the queue.
	stored, ok := ts.tasks[task.ID]
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Empty(t, q.enqueued)
}

func TestSubmit_ValidationError(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeTaskStore(), &fakeQueue{})

	_, err := svc.Submit(context.Background(), uuid.New(), domain.TaskTypeAnalyst, "", nil)
	require.Error(t, err)

	var svcErr *TaskServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "submit_task", svcErr.Operation)
	assert.ErrorIs(t, err, domain.ErrEmptyTaskPrompt)
}

func TestSubmit_StoreError(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	ts.createErr = errors.New("connection refused")
	q := &fakeQueue{}
	svc := newTestService(t, ts, q)

	_, err := svc.Submit(
		context.Background(),
		uuid.New(),
		domain.TaskTypeSummarization,
		"prompt",
		nil,
	)
	require.Error(t, err)
	assert.Empty(t, q.enqueued, "enqueue must not happen when persist fails")
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	svc := newTestService(t, ts, &fakeQueue{})

	task, err := domain.NewTask(uuid.New(), domain.TaskTypeProgrammer, "write a loop", nil)
	require.NoError(t, err)
	ts.tasks[task.ID] = task

	got, err := svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	_, err = svc.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStatsByStatus_ZeroFilled(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	svc := newTestService(t, ts, &fakeQueue{})

	task, err := domain.NewTask(uuid.New(), domain.TaskTypeSummarization, "prompt", nil)
	require.NoError(t, err)
	ts.tasks[task.ID] = task

	stats, err := svc.StatsByStatus(context.Background())
	require.NoError(t, err)

	assert.Len(t, stats, 4)
	assert.Equal(t, 1, stats[domain.TaskStatusPending])
	assert.Equal(t, 0, stats[domain.TaskStatusInProgress])
	assert.Equal(t, 0, stats[domain.TaskStatusCompleted])
	assert.Equal(t, 0, stats[domain.TaskStatusFailed])
}

func TestStatsByType(t *testing.T) {
	t.Parallel()

	ts := newFakeTaskStore()
	svc := newTestService(t, ts, &fakeQueue{})

	for _, taskType := range []domain.TaskType{
		domain.TaskTypeSummarization,
		domain.TaskTypeSummarization,
		domain.TaskTypeTranslation,
	} {
		task, err := domain.NewTask(uuid.New(), taskType, "prompt", nil)
		require.NoError(t, err)
		ts.tasks[task.ID] = task
	}

	stats, err := svc.StatsByType(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats["summarization"])
	assert.Equal(t, 1, stats["translation"])
}
