package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type ExpenseHandler struct {
	expenseService *service.ExpenseService
	logger         *zap.Logger
}

func NewExpenseHandler(expenseService *service.ExpenseService, logger *zap.Logger) *ExpenseHandler {
	return &ExpenseHandler{expenseService: expenseService, logger: logger}
}

// List godoc
// @Summary List expenses
// @Tags Expenses
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param clientId query string false "Filter by client ID" format(uuid)
// @Param projectId query string false "Filter by project ID" format(uuid)
// @Param billingStatus query string false "Filter by billing status" Enums(unbilled, billed)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.ExpenseDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /expenses [get]
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)

	clientID, ok := parseUUIDQuery(w, r, "clientId")
	if !ok {
		return
	}
	projectID, ok := parseUUIDQuery(w, r, "projectId")
	if !ok {
		return
	}
	filter := &repository.ExpenseFilter{ClientID: clientID, ProjectID: projectID}

	if s := r.URL.Query().Get("billingStatus"); s != "" {
		billing := domain.BillingStatus(s)
		if billing != domain.BillingStatusUnbilled && billing != domain.BillingStatusBilled {
			respondWithError(w, http.StatusBadRequest, "Invalid billingStatus filter")
			return
		}
		filter.BillingStatus = &billing
	}

	result, err := h.expenseService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Record expense
// @Tags Expenses
// @Accept json
// @Produce json
// @Param request body domain.CreateExpenseRequest true "Expense data"
// @Success 201 {object} domain.ExpenseDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /expenses [post]
func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	expense, err := h.expenseService.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create expense", zap.Error(err))
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/expenses/"+expense.ID.String())
	respondJSON(w, http.StatusCreated, expense)
}

// GetByID godoc
// @Summary Get expense by ID
// @Tags Expenses
// @Produce json
// @Param id path string true "Expense ID" format(uuid)
// @Success 200 {object} domain.ExpenseDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /expenses/{id} [get]
func (h *ExpenseHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "expense")
	if !ok {
		return
	}

	expense, err := h.expenseService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, expense)
}

// Update godoc
// @Summary Update expense
// @Description Billed expenses cannot be changed
// @Tags Expenses
// @Accept json
// @Produce json
// @Param id path string true "Expense ID" format(uuid)
// @Param request body domain.UpdateExpenseRequest true "Expense data"
// @Success 200 {object} domain.ExpenseDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /expenses/{id} [put]
func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "expense")
	if !ok {
		return
	}

	var req domain.UpdateExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	expense, err := h.expenseService.Update(r.Context(), id, &req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, expense)
}

// Delete godoc
// @Summary Delete expense
// @Tags Expenses
// @Param id path string true "Expense ID" format(uuid)
// @Success 204
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /expenses/{id} [delete]
func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "expense")
	if !ok {
		return
	}

	if err := h.expenseService.Delete(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
