package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type QuoteHandler struct {
	quoteService *service.QuoteService
	logger       *zap.Logger
}

func NewQuoteHandler(quoteService *service.QuoteService, logger *zap.Logger) *QuoteHandler {
	return &QuoteHandler{quoteService: quoteService, logger: logger}
}

// List godoc
// @Summary List quotes
// @Tags Quotes
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param clientId query string false "Filter by client ID" format(uuid)
// @Param status query string false "Filter by status" Enums(proposed, locked, invoiced)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.QuoteDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes [get]
func (h *QuoteHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)

	clientID, ok := parseUUIDQuery(w, r, "clientId")
	if !ok {
		return
	}
	filter := &repository.QuoteFilter{ClientID: clientID}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.QuoteStatus(s)
		switch status {
		case domain.QuoteStatusProposed, domain.QuoteStatusLocked, domain.QuoteStatusInvoiced:
			filter.Status = &status
		default:
			respondWithError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	result, err := h.quoteService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Create quote
// @Description Creates a proposed quote. Referenced projects and expenses must belong to the client and be unbilled.
// @Tags Quotes
// @Accept json
// @Produce json
// @Param request body domain.CreateQuoteRequest true "Quote data"
// @Success 201 {object} domain.QuoteDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Client not found"
// @Failure 409 {object} domain.APIError "Work items already billed"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes [post]
func (h *QuoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	quote, err := h.quoteService.Create(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/quotes/"+quote.ID.String())
	respondJSON(w, http.StatusCreated, quote)
}

// GetByID godoc
// @Summary Get quote by ID
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID" format(uuid)
// @Success 200 {object} domain.QuoteDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id} [get]
func (h *QuoteHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "quote")
	if !ok {
		return
	}

	quote, err := h.quoteService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

// Grouped godoc
// @Summary Get quote lines grouped for display
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID" format(uuid)
// @Success 200 {object} domain.GroupedQuoteDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/grouped [get]
func (h *QuoteHandler) Grouped(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "quote")
	if !ok {
		return
	}

	grouped, err := h.quoteService.Grouped(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, grouped)
}

// Update godoc
// @Summary Update quote
// @Description Replaces the lines of a proposed quote. Omitted optional fields keep their value.
// @Tags Quotes
// @Accept json
// @Produce json
// @Param id path string true "Quote ID" format(uuid)
// @Param request body domain.UpdateQuoteRequest true "Quote data"
// @Success 200 {object} domain.QuoteDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Quote is not proposed or work items already billed"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id} [put]
func (h *QuoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "quote")
	if !ok {
		return
	}

	var req domain.UpdateQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	quote, err := h.quoteService.Update(r.Context(), id, &req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

// Lock godoc
// @Summary Lock quote
// @Description Freezes a proposed quote so it can be invoiced. Requires at least one line and a positive total.
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID" format(uuid)
// @Success 200 {object} domain.QuoteDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/lock [post]
func (h *QuoteHandler) Lock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "quote")
	if !ok {
		return
	}

	quote, err := h.quoteService.Lock(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("quote locked", zap.String("quote_id", id.String()))
	respondJSON(w, http.StatusOK, quote)
}
