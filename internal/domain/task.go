package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskType identifies the kind of work a task asks the language model to do.
// The value is stored as-is; whether a type is actually serviceable is decided
// by the prompt dispatcher, so a task with an unrecognized type is still a
// valid record (it will be failed by the worker, not rejected at submission).
type TaskType string

// Task types the prompt dispatcher knows how to serve
const (
	TaskTypeSummarization  TaskType = "summarization"
	TaskTypeTranslation    TaskType = "translation"
	TaskTypeCodeGeneration TaskType = "code_generation"
	TaskTypeAnalyst        TaskType = "analyst"
	TaskTypeInterviewer    TaskType = "interviewer"
	TaskTypeProgrammer     TaskType = "programmer"
)

// Message is a single prior dialogue turn. Order within a history slice is
// semantically meaningful: oldest turn first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskType    = errors.New("task type cannot be empty")
	ErrEmptyTaskPrompt  = errors.New("task prompt cannot be empty")
	ErrInvalidHistory   = errors.New("history entries must have non-empty role and content")
	ErrInvalidStatus    = errors.New("invalid task status")
)

// Transition errors returned when a status change would violate the
// pending -> in_progress -> {completed, failed} state machine.
var (
	ErrNotPending    = errors.New("task is not in pending state")
	ErrNotInProgress = errors.New("task is not in in_progress state")
)

// Task represents one submitted job and its lifecycle state. Identity and
// input fields are immutable after creation; only the worker loop mutates
// Status, Result and CompletedAt.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Type        TaskType   `json:"task_type"`
	Prompt      string     `json:"prompt"`
	History     []Message  `json:"history,omitempty"`
	Status      TaskStatus `json:"status"`
	Result      *string    `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a new pending Task for the given owner.
// Returns an error if validation fails.
func NewTask(ownerID uuid.UUID, taskType TaskType, prompt string, history []Message) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Type:      taskType,
		Prompt:    prompt,
		History:   history,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if t.Prompt == "" {
		return ErrEmptyTaskPrompt
	}

	for _, m := range t.History {
		if m.Role == "" || m.Content == "" {
			return ErrInvalidHistory
		}
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidStatus
	}

	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// MarkInProgress transitions the task from pending to in_progress.
// Returns ErrNotPending for any other starting state.
func (t *Task) MarkInProgress() error {
	if t.Status != TaskStatusPending {
		return ErrNotPending
	}
	t.Status = TaskStatusInProgress
	return nil
}

// Complete transitions the task from in_progress to completed, recording the
// backend result and stamping CompletedAt exactly once.
func (t *Task) Complete(result string) error {
	return t.finish(TaskStatusCompleted, result)
}

// Fail transitions the task from in_progress to failed, recording the error
// description in Result and stamping CompletedAt exactly once.
func (t *Task) Fail(reason string) error {
	return t.finish(TaskStatusFailed, reason)
}

func (t *Task) finish(status TaskStatus, result string) error {
	if t.Status != TaskStatusInProgress {
		return ErrNotInProgress
	}
	now := time.Now().UTC()
	t.Status = status
	t.Result = &result
	t.CompletedAt = &now
	return nil
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
