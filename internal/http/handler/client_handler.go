package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type ClientHandler struct {
	clientService     *service.ClientService
	billableService   *service.BillableService
	suggestionService *service.PricingSuggestionService
	logger            *zap.Logger
}

func NewClientHandler(
	clientService *service.ClientService,
	billableService *service.BillableService,
	suggestionService *service.PricingSuggestionService,
	logger *zap.Logger,
) *ClientHandler {
	return &ClientHandler{
		clientService:     clientService,
		billableService:   billableService,
		suggestionService: suggestionService,
		logger:            logger,
	}
}

// List godoc
// @Summary List clients
// @Description Get paginated list of clients, optionally filtered by a name, company or email search
// @Tags Clients
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param search query string false "Search term"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.ClientDTO}
// @Failure 401 {object} domain.APIError
// @Failure 500 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients [get]
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)

	result, err := h.clientService.List(r.Context(), page, pageSize, r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Create client
// @Tags Clients
// @Accept json
// @Produce json
// @Param request body domain.CreateClientRequest true "Client data"
// @Success 201 {object} domain.ClientDTO
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Failure 500 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients [post]
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	client, err := h.clientService.Create(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create client", zap.Error(err))
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/clients/"+client.ID.String())
	respondJSON(w, http.StatusCreated, client)
}

// GetByID godoc
// @Summary Get client by ID
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID" format(uuid)
// @Success 200 {object} domain.ClientDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id} [get]
func (h *ClientHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "client")
	if !ok {
		return
	}

	client, err := h.clientService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, client)
}

// Update godoc
// @Summary Update client
// @Tags Clients
// @Accept json
// @Produce json
// @Param id path string true "Client ID" format(uuid)
// @Param request body domain.UpdateClientRequest true "Client data"
// @Success 200 {object} domain.ClientDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id} [put]
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "client")
	if !ok {
		return
	}

	var req domain.UpdateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	client, err := h.clientService.Update(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to update client", zap.Error(err), zap.String("client_id", id.String()))
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, client)
}

// Delete godoc
// @Summary Delete client
// @Description Deletes a client. Clients with quotes or invoices cannot be deleted.
// @Tags Clients
// @Param id path string true "Client ID" format(uuid)
// @Success 204
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id} [delete]
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "client")
	if !ok {
		return
	}

	if err := h.clientService.Delete(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Billables godoc
// @Summary List unbilled work for a client
// @Description Projects and expenses of the client that can still be put on a quote
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID" format(uuid)
// @Success 200 {object} domain.BillablesDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id}/billables [get]
func (h *ClientHandler) Billables(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "client")
	if !ok {
		return
	}

	billables, err := h.billableService.ForClient(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, billables)
}

// SuggestPricing godoc
// @Summary Suggest quote lines
// @Description Asks the language model to price the selected billables. An empty selection uses every unbilled item. Nothing is persisted.
// @Tags Clients
// @Accept json
// @Produce json
// @Param id path string true "Client ID" format(uuid)
// @Param request body domain.BillableSelectionRequest false "Billables to price"
// @Success 200 {object} domain.LineSuggestionDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Selected items already billed"
// @Failure 502 {object} domain.APIError "Model unavailable or returned unusable output"
// @Failure 504 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id}/pricing-suggestions [post]
func (h *ClientHandler) SuggestPricing(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.selection(w, r)
	if !ok {
		return
	}

	suggestion, err := h.suggestionService.Suggest(r.Context(), id, req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, suggestion)
}

// DraftQuote godoc
// @Summary Draft quote lines without the language model
// @Description Builds one line per selected billable from project budgets and expense pass-through policies
// @Tags Clients
// @Accept json
// @Produce json
// @Param id path string true "Client ID" format(uuid)
// @Param request body domain.BillableSelectionRequest false "Billables to draft"
// @Success 200 {object} domain.LineSuggestionDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /clients/{id}/quote-draft [post]
func (h *ClientHandler) DraftQuote(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.selection(w, r)
	if !ok {
		return
	}

	draft, err := h.suggestionService.Draft(r.Context(), id, req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, draft)
}

// selection reads the client id and an optional selection body
func (h *ClientHandler) selection(w http.ResponseWriter, r *http.Request) (uuid.UUID, *domain.BillableSelectionRequest, bool) {
	clientID, ok := parseIDParam(w, r, "id", "client")
	if !ok {
		return uuid.Nil, nil, false
	}

	req := &domain.BillableSelectionRequest{}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return uuid.Nil, nil, false
	}
	return clientID, req, true
}
