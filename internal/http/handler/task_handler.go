package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type TaskHandler struct {
	taskService *service.TaskService
	logger      *zap.Logger
}

func NewTaskHandler(taskService *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{taskService: taskService, logger: logger}
}

// Create godoc
// @Summary Create task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param request body domain.CreateTaskRequest true "Task data"
// @Success 201 {object} domain.TaskDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Project not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tasks [post]
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	task, err := h.taskService.Create(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tasks/"+task.ID.String())
	respondJSON(w, http.StatusCreated, task)
}

// GetByID godoc
// @Summary Get task by ID
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID" format(uuid)
// @Success 200 {object} domain.TaskDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "task")
	if !ok {
		return
	}

	task, err := h.taskService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// Update godoc
// @Summary Update task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID" format(uuid)
// @Param request body domain.UpdateTaskRequest true "Task data"
// @Success 200 {object} domain.TaskDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tasks/{id} [put]
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "task")
	if !ok {
		return
	}

	var req domain.UpdateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	task, err := h.taskService.Update(r.Context(), id, &req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// Delete godoc
// @Summary Delete task
// @Tags Tasks
// @Param id path string true "Task ID" format(uuid)
// @Success 204
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /tasks/{id} [delete]
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "task")
	if !ok {
		return
	}

	if err := h.taskService.Delete(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
