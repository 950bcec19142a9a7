package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestra-api/internal/domain"
	"github.com/phrazzld/orchestra-api/internal/generation"
	"github.com/phrazzld/orchestra-api/internal/queue"
	"github.com/phrazzld/orchestra-api/internal/store"
)

// mockTaskStore is an in-memory TaskStore that records the sequence of
// statuses written through Update.
type mockTaskStore struct {
	mu             sync.Mutex
	tasks          map[uuid.UUID]*domain.Task
	updateStatuses []domain.TaskStatus
	failUpdate     bool
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (m *mockTaskStore) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *mockTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (m *mockTaskStore) Update(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate {
		return errors.New("simulated update failure")
	}
	if _, ok := m.tasks[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	copied := *task
	m.tasks[task.ID] = &copied
	m.updateStatuses = append(m.updateStatuses, task.Status)
	return nil
}

func (m *mockTaskStore) List(_ context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		copied := *t
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockTaskStore) CountByStatus(_ context.Context) (map[domain.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (m *mockTaskStore) CountByType(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range m.tasks {
		counts[string(t.Type)]++
	}
	return counts, nil
}

func (m *mockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// stubGenerator returns canned results or errors in order and counts calls.
type stubGenerator struct {
	mu      sync.Mutex
	results []generateResult
	calls   int
}

type generateResult struct {
	text string
	err  error
}

func (g *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.results) == 0 {
		return "", fmt.Errorf("stub generator has no more results")
	}
	r := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}
	return r.text, r.err
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingQueue implements queue.Queue and records settlements so tests
// can drive redelivery explicitly.
type recordingQueue struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	releases int
}

func (q *recordingQueue) Enqueue(_ context.Context, _ uuid.UUID) error { return nil }
func (q *recordingQueue) Dequeue(_ context.Context) (*queue.Delivery, error) {
	return nil, queue.ErrQueueClosed
}

func (q *recordingQueue) Ack(_ context.Context, _ *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acks++
	return nil
}

func (q *recordingQueue) Nack(_ context.Context, _ *queue.Delivery, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacks++
	return nil
}

func (q *recordingQueue) Release(_ context.Context, _ *queue.Delivery, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releases++
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) counts() (acks, nacks int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acks, q.nacks
}

func (q *recordingQueue) releaseCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.releases
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(
	t *testing.T,
	ts store.TaskStore,
	q queue.Queue,
	gen generation.Generator,
) *Pool {
	t.Helper()
	pool, err := NewPool(ts, q, gen, Config{
		Count:        1,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	return pool
}

func createPendingTask(t *testing.T, ts *mockTaskStore, taskType domain.TaskType) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(uuid.New(), taskType, "some prompt", nil)
	require.NoError(t, err)
	require.NoError(t, ts.Create(context.Background(), task))
	return task
}

func delivery(taskID uuid.UUID, attempt int) *queue.Delivery {
	return &queue.Delivery{Message: queue.Message{TaskID: taskID, Attempt: attempt}}
}

func TestNewPool_Validation(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{}

	_, err := NewPool(nil, q, gen, DefaultConfig(), testLogger())
	assert.Error(t, err)

	_, err = NewPool(ts, nil, gen, DefaultConfig(), testLogger())
	assert.Error(t, err)

	_, err = NewPool(ts, q, nil, DefaultConfig(), testLogger())
	assert.Error(t, err)

	_, err = NewPool(ts, q, gen, DefaultConfig(), nil)
	assert.Error(t, err)

	pool, err := NewPool(ts, q, gen, Config{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Count, pool.config.Count)
	assert.Equal(t, DefaultConfig().RetryBackoff, pool.config.RetryBackoff)
}

func TestProcess_CompletesTask(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{{text: "OK"}}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeSummarization)

	pool.process(context.Background(), delivery(task.ID, 0))

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Equal(t, "OK", *stored.Result)
	assert.NotNil(t, stored.CompletedAt)

	// The record must pass through in_progress before the terminal write.
	assert.Equal(t,
		[]domain.TaskStatus{domain.TaskStatusInProgress, domain.TaskStatusCompleted},
		ts.updateStatuses)

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
	assert.Equal(t, 1, gen.callCount())
}

func TestProcess_UnknownTaskTypeFailsWithoutBackendCall(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{{text: "should not be called"}}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskType("bogus"))

	pool.process(context.Background(), delivery(task.ID, 0))

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Contains(t, *stored.Result, "bogus")

	assert.Equal(t, 0, gen.callCount())

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{
		{err: fmt.Errorf("%w: transient", generation.ErrBackendFailure)},
		{err: fmt.Errorf("%w: transient", generation.ErrBackendFailure)},
		{text: "finally"},
	}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeTranslation)

	// First two attempts fail and are nacked for redelivery.
	pool.process(context.Background(), delivery(task.ID, 0))
	pool.process(context.Background(), delivery(task.ID, 1))

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, stored.Status)

	// Third attempt succeeds.
	pool.process(context.Background(), delivery(task.ID, 2))

	stored, err = ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Equal(t, "finally", *stored.Result)

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 2, nacks)
	assert.Equal(t, 3, gen.callCount())
}

func TestProcess_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{
		{err: fmt.Errorf("%w: backend down", generation.ErrBackendFailure)},
	}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeAnalyst)

	// MaxRetries=3 allows four total attempts before the task fails.
	for attempt := 0; attempt <= 3; attempt++ {
		pool.process(context.Background(), delivery(task.ID, attempt))
	}

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Contains(t, *stored.Result, "generation failed")

	assert.Equal(t, 4, gen.callCount())

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 3, nacks)
}

func TestProcess_NonRetryableErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{
		{err: errors.New("malformed prompt")},
	}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeProgrammer)

	pool.process(context.Background(), delivery(task.ID, 0))

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)

	assert.Equal(t, 1, gen.callCount())

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
}

func TestProcess_StoreFailureKeepsRetryBudget(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{
		{err: fmt.Errorf("%w: backend down", generation.ErrBackendFailure)},
	}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeSummarization)

	// A store hiccup before the backend call releases the delivery with
	// its attempt counter intact instead of nacking it.
	ts.failUpdate = true
	pool.process(context.Background(), delivery(task.ID, 0))

	assert.Equal(t, 0, gen.callCount())
	assert.Equal(t, 1, q.releaseCount())
	acks, nacks := q.counts()
	assert.Equal(t, 0, acks)
	assert.Equal(t, 0, nacks)

	// After the store recovers, the redelivered attempt 0 still has the
	// full budget: four backend calls before the task fails.
	ts.failUpdate = false
	for attempt := 0; attempt <= 3; attempt++ {
		pool.process(context.Background(), delivery(task.ID, attempt))
	}

	stored, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, 4, gen.callCount())

	acks, nacks = q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 3, nacks)
}

func TestProcess_TerminalRedeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{results: []generateResult{{text: "first"}}}
	pool := newTestPool(t, ts, q, gen)

	task := createPendingTask(t, ts, domain.TaskTypeSummarization)

	pool.process(context.Background(), delivery(task.ID, 0))

	before, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusCompleted, before.Status)

	// A duplicate delivery for a finished task is dropped untouched.
	pool.process(context.Background(), delivery(task.ID, 0))

	after, err := ts.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Result, after.Result)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)

	assert.Equal(t, 1, gen.callCount())

	acks, _ := q.counts()
	assert.Equal(t, 2, acks)
}

func TestProcess_MissingTaskIsDropped(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	q := &recordingQueue{}
	gen := &stubGenerator{}
	pool := newTestPool(t, ts, q, gen)

	pool.process(context.Background(), delivery(uuid.New(), 0))

	assert.Equal(t, 0, gen.callCount())

	acks, nacks := q.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
}

func TestPool_StartStopDrainsQueue(t *testing.T) {
	t.Parallel()

	ts := newMockTaskStore()
	memq := queue.NewMemoryQueue(10, testLogger())
	gen := &stubGenerator{results: []generateResult{{text: "done"}}}

	pool, err := NewPool(ts, memq, gen, Config{
		Count:        2,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	task := createPendingTask(t, ts, domain.TaskTypeCodeGeneration)
	require.NoError(t, memq.Enqueue(context.Background(), task.ID))

	pool.Start()

	require.Eventually(t, func() bool {
		stored, err := ts.GetByID(context.Background(), task.ID)
		if err != nil {
			return false
		}
		return stored.Status == domain.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()
	require.NoError(t, memq.Close())
}
