package handler

import (
	"net/http"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

// AuditHandler handles audit log related HTTP requests
type AuditHandler struct {
	auditService *service.AuditLogService
	logger       *zap.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditService *service.AuditLogService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
		logger:       logger,
	}
}

// List godoc
// @Summary List audit logs
// @Description Returns a paginated list of audit log entries with optional filters
// @Tags Audit
// @Produce json
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param userId query string false "Filter by user ID"
// @Param action query string false "Filter by action type" Enums(create, update, delete)
// @Param entityType query string false "Filter by entity type"
// @Param entityId query string false "Filter by entity ID"
// @Param startTime query string false "Filter by start time (RFC3339)"
// @Param endTime query string false "Filter by end time (RFC3339)"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.AuditLogDTO}
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /audit [get]
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)
	if pageSize > 100 {
		pageSize = 100
	}

	q := r.URL.Query()
	filter := &repository.AuditLogFilter{
		UserID:     q.Get("userId"),
		EntityType: q.Get("entityType"),
	}

	if actionStr := q.Get("action"); actionStr != "" {
		action := domain.AuditAction(actionStr)
		filter.Action = &action
	}

	entityID, ok := parseUUIDQuery(w, r, "entityId")
	if !ok {
		return
	}
	filter.EntityID = entityID

	if startStr := q.Get("startTime"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid startTime: must be RFC3339")
			return
		}
		filter.From = &t
	}

	if endStr := q.Get("endTime"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid endTime: must be RFC3339")
			return
		}
		filter.To = &t
	}

	result, err := h.auditService.List(r.Context(), filter, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list audit logs", zap.Error(err))
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
