package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/orchestra-api/internal/domain"
)

// Common request/response structures

// RegisterRequest defines the payload for the user registration endpoint.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest defines the payload for the user login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=1"`
}

// AuthResponse defines the successful response for authentication endpoints.
type AuthResponse struct {
	// UserID is the unique identifier for the authenticated user
	UserID uuid.UUID `json:"user_id"`

	// AccessToken is the JWT token used for API authorization
	AccessToken string `json:"token"`
}

// AdminCreateUserRequest defines the payload for the admin user creation
// endpoint. Unlike self-registration the caller picks the role.
type AdminCreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role"     validate:"omitempty,oneof=user admin"`
}

// AdminUpdateUserRequest defines the payload for the admin user update
// endpoint. Both fields are optional; an omitted field keeps its stored
// value, so a role change and a password reset can be issued separately.
type AdminUpdateUserRequest struct {
	Role     *string `json:"role"     validate:"omitempty,oneof=user admin"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// UserResponse defines the wire representation of a user account. The
// credential fields never appear here.
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserResponse builds a UserResponse from a user record.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

// HistoryEntry is one prior conversational turn attached to a task.
type HistoryEntry struct {
	Role    string `json:"role"    validate:"required"`
	Content string `json:"content" validate:"required"`
}

// CreateTaskRequest defines the payload for task submission.
// TaskType is not validated against the known set here; unknown types are
// accepted and fail during background processing.
type CreateTaskRequest struct {
	TaskType string         `json:"task_type" validate:"required"`
	Prompt   string         `json:"prompt"    validate:"required"`
	History  []HistoryEntry `json:"history"   validate:"omitempty,dive"`
}

// TaskResponse defines the wire representation of a task record.
type TaskResponse struct {
	ID          uuid.UUID        `json:"id"`
	TaskType    string           `json:"task_type"`
	Prompt      string           `json:"prompt"`
	History     []domain.Message `json:"history,omitempty"`
	Status      string           `json:"status"`
	Result      *string          `json:"result"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at"`
}

// NewTaskResponse builds a TaskResponse from a task record.
func NewTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		TaskType:    string(task.Type),
		Prompt:      task.Prompt,
		History:     task.History,
		Status:      string(task.Status),
		Result:      task.Result,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

// StatsResponse defines the response for the aggregate count endpoints.
// Counts is keyed by status or task type depending on the endpoint.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}
