package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/orchestra-api/internal/api/shared"
	"github.com/phrazzld/orchestra-api/internal/domain"
	"github.com/phrazzld/orchestra-api/internal/service"
)

// TaskHandler handles task submission, retrieval, and stats API requests.
type TaskHandler struct {
	taskService service.TaskService
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(taskService service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
	}
}

// CreateTask handles POST /tasks. It persists a pending task, hands it to
// the background queue, and returns 202 with the record so the client can
// poll for the outcome.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	history := make([]domain.Message, 0, len(req.History))
	for _, entry := range req.History {
		history = append(history, domain.Message{Role: entry.Role, Content: entry.Content})
	}

	task, err := h.taskService.Submit(
		r.Context(),
		userID,
		domain.TaskType(req.TaskType),
		req.Prompt,
		history,
	)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyTaskPrompt) || errors.Is(err, domain.ErrInvalidHistory) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task data: "+err.Error())
			return
		}
		shared.RespondWithErrorAndLog(
			w,
			r,
			http.StatusInternalServerError,
			"Failed to submit task",
			err,
		)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, NewTaskResponse(task))
}

// GetTask handles GET /tasks/{id}. Task owners and admins may read a
// record; anyone else gets 404 rather than confirming the task exists.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	taskID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(
			w,
			r,
			http.StatusInternalServerError,
			"Failed to retrieve task",
			err,
		)
		return
	}

	role, _ := getUserRoleFromContext(r)
	if task.OwnerID != userID && role != domain.RoleAdmin {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// ListTasks handles GET /admin/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskService.ListTasks(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(
			w,
			r,
			http.StatusInternalServerError,
			"Failed to list tasks",
			err,
		)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, NewTaskResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// StatsByStatus handles GET /admin/stats/tasks/by_status.
func (h *TaskHandler) StatsByStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.taskService.StatsByStatus(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(
			w,
			r,
			http.StatusInternalServerError,
			"Failed to compute task stats",
			err,
		)
		return
	}

	counts := make(map[string]int, len(stats))
	for status, count := range stats {
		counts[string(status)] = count
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{Counts: counts})
}

// StatsByType handles GET /admin/stats/tasks/by_type.
func (h *TaskHandler) StatsByType(w http.ResponseWriter, r *http.Request) {
	stats, err := h.taskService.StatsByType(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(
			w,
			r,
			http.StatusInternalServerError,
			"Failed to compute task stats",
			err,
		)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{Counts: stats})
}
