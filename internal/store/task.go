package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/orchestra-api/internal/domain"
)

// TaskStore defines the interface for task record persistence.
// Each method is assumed transactional per call.
type TaskStore interface {
	// Create saves a new task to the store.
	// Returns ErrDuplicate if a task with the same ID already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update saves changes to an existing task's mutable fields
	// (status, result, completed_at).
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// List retrieves all tasks, newest first.
	List(ctx context.Context) ([]*domain.Task, error)

	// CountByStatus returns the number of tasks per status.
	// Statuses with no tasks are absent from the map.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// CountByType returns the number of tasks per task type. Keys are the
	// raw stored strings so unknown or future types are reported, never
	// rejected.
	CountByType(ctx context.Context) (map[string]int, error)

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction, allowing multiple operations in a single transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// UserStore defines the interface for user persistence.
type UserStore interface {
	// Create saves a new user, hashing the plaintext password first.
	// Returns ErrUsernameExists if the username is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	// Returns ErrUserNotFound if the user does not exist.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// List retrieves all users, newest first.
	List(ctx context.Context) ([]*domain.User, error)

	// Update saves changes to an existing user's role and credentials. A
	// non-empty plaintext Password is hashed before storage.
	// Returns ErrUserNotFound if the user does not exist.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user and, through ownership, their task records.
	// Returns ErrUserNotFound if the user does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
