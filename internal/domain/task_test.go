package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()

	t.Run("valid task without history", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(ownerID, TaskTypeSummarization, "The quick brown fox...", nil)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, ownerID, task.OwnerID)
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Nil(t, task.Result)
		assert.Nil(t, task.CompletedAt)
		assert.False(t, task.CreatedAt.IsZero())
	})

	t.Run("valid task with history", func(t *testing.T) {
		t.Parallel()

		history := []Message{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
		}
		task, err := NewTask(ownerID, TaskTypeAnalyst, "continue", history)

		require.NoError(t, err)
		assert.Equal(t, history, task.History)
	})

	t.Run("unrecognized type is still a valid record", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(ownerID, TaskType("bogus"), "whatever", nil)

		require.NoError(t, err)
		assert.Equal(t, TaskType("bogus"), task.Type)
	})

	t.Run("empty prompt rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(ownerID, TaskTypeSummarization, "", nil)
		assert.ErrorIs(t, err, ErrEmptyTaskPrompt)
	})

	t.Run("empty owner rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(uuid.Nil, TaskTypeSummarization, "text", nil)
		assert.ErrorIs(t, err, ErrEmptyTaskOwnerID)
	})

	t.Run("history entry with empty role rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(ownerID, TaskTypeAnalyst, "text", []Message{{Role: "", Content: "hi"}})
		assert.ErrorIs(t, err, ErrInvalidHistory)
	})
}

func TestTaskStateMachine(t *testing.T) {
	t.Parallel()

	newPending := func(t *testing.T) *Task {
		t.Helper()
		task, err := NewTask(uuid.New(), TaskTypeSummarization, "text", nil)
		require.NoError(t, err)
		return task
	}

	t.Run("pending to in_progress", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		require.NoError(t, task.MarkInProgress())
		assert.Equal(t, TaskStatusInProgress, task.Status)
		assert.False(t, task.IsTerminal())
	})

	t.Run("in_progress to completed sets result and completed_at", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		require.NoError(t, task.MarkInProgress())
		require.NoError(t, task.Complete("OK"))

		assert.Equal(t, TaskStatusCompleted, task.Status)
		require.NotNil(t, task.Result)
		assert.Equal(t, "OK", *task.Result)
		require.NotNil(t, task.CompletedAt)
		assert.WithinDuration(t, time.Now().UTC(), *task.CompletedAt, time.Minute)
		assert.True(t, task.IsTerminal())
	})

	t.Run("in_progress to failed records reason", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		require.NoError(t, task.MarkInProgress())
		require.NoError(t, task.Fail("backend exploded"))

		assert.Equal(t, TaskStatusFailed, task.Status)
		require.NotNil(t, task.Result)
		assert.Equal(t, "backend exploded", *task.Result)
		require.NotNil(t, task.CompletedAt)
	})

	t.Run("cannot complete without passing through in_progress", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		assert.ErrorIs(t, task.Complete("OK"), ErrNotInProgress)
		assert.ErrorIs(t, task.Fail("nope"), ErrNotInProgress)
	})

	t.Run("terminal states are frozen", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		require.NoError(t, task.MarkInProgress())
		require.NoError(t, task.Complete("OK"))
		firstStamp := *task.CompletedAt

		assert.ErrorIs(t, task.MarkInProgress(), ErrNotPending)
		assert.ErrorIs(t, task.Complete("again"), ErrNotInProgress)
		assert.ErrorIs(t, task.Fail("again"), ErrNotInProgress)

		// Rejected transitions must not touch the record
		assert.Equal(t, TaskStatusCompleted, task.Status)
		assert.Equal(t, "OK", *task.Result)
		assert.Equal(t, firstStamp, *task.CompletedAt)
	})

	t.Run("cannot mark in_progress twice", func(t *testing.T) {
		t.Parallel()

		task := newPending(t)
		require.NoError(t, task.MarkInProgress())
		assert.ErrorIs(t, task.MarkInProgress(), ErrNotPending)
	})
}
