package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type ProjectHandler struct {
	projectService *service.ProjectService
	taskService    *service.TaskService
	logger         *zap.Logger
}

func NewProjectHandler(projectService *service.ProjectService, taskService *service.TaskService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		taskService:    taskService,
		logger:         logger,
	}
}

// List godoc
// @Summary List projects
// @Description Get paginated list of projects with optional filters
// @Tags Projects
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param clientId query string false "Filter by client ID" format(uuid)
// @Param status query string false "Filter by status" Enums(planning, active, on_hold, completed, cancelled)
// @Param billingStatus query string false "Filter by billing status" Enums(unbilled, billed)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.ProjectDTO}
// @Failure 400 {object} domain.APIError
// @Failure 500 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects [get]
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)

	clientID, ok := parseUUIDQuery(w, r, "clientId")
	if !ok {
		return
	}
	filter := &repository.ProjectFilter{ClientID: clientID}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.ProjectStatus(s)
		if !status.IsValid() {
			respondWithError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if s := r.URL.Query().Get("billingStatus"); s != "" {
		billing := domain.BillingStatus(s)
		if billing != domain.BillingStatusUnbilled && billing != domain.BillingStatusBilled {
			respondWithError(w, http.StatusBadRequest, "Invalid billingStatus filter")
			return
		}
		filter.BillingStatus = &billing
	}

	result, err := h.projectService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Create project
// @Tags Projects
// @Accept json
// @Produce json
// @Param request body domain.CreateProjectRequest true "Project data"
// @Success 201 {object} domain.ProjectDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Client not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects [post]
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	project, err := h.projectService.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create project", zap.Error(err))
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/projects/"+project.ID.String())
	respondJSON(w, http.StatusCreated, project)
}

// GetByID godoc
// @Summary Get project by ID
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID" format(uuid)
// @Success 200 {object} domain.ProjectDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects/{id} [get]
func (h *ProjectHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "project")
	if !ok {
		return
	}

	project, err := h.projectService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, project)
}

// Update godoc
// @Summary Update project
// @Description Updates project details. Billing status is managed by invoices and cannot be set here.
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID" format(uuid)
// @Param request body domain.UpdateProjectRequest true "Project data"
// @Success 200 {object} domain.ProjectDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects/{id} [put]
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "project")
	if !ok {
		return
	}

	var req domain.UpdateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	project, err := h.projectService.Update(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to update project", zap.Error(err), zap.String("project_id", id.String()))
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, project)
}

// Delete godoc
// @Summary Delete project
// @Description Billed projects cannot be deleted
// @Tags Projects
// @Param id path string true "Project ID" format(uuid)
// @Success 204
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects/{id} [delete]
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "project")
	if !ok {
		return
	}

	if err := h.projectService.Delete(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTasks godoc
// @Summary List tasks of a project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID" format(uuid)
// @Success 200 {array} domain.TaskDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /projects/{id}/tasks [get]
func (h *ProjectHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "project")
	if !ok {
		return
	}

	tasks, err := h.taskService.ListByProject(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, tasks)
}
