package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	invoiceService *service.InvoiceService
	emailService   *service.InvoiceEmailService
	logger         *zap.Logger
}

func NewInvoiceHandler(invoiceService *service.InvoiceService, emailService *service.InvoiceEmailService, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		emailService:   emailService,
		logger:         logger,
	}
}

// List godoc
// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param clientId query string false "Filter by client ID" format(uuid)
// @Param status query string false "Filter by status" Enums(draft, open, paid, void, uncollectible)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.InvoiceDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices [get]
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	pageSize := parseIntQuery(r, "pageSize", 20)

	clientID, ok := parseUUIDQuery(w, r, "clientId")
	if !ok {
		return
	}
	filter := &repository.InvoiceFilter{ClientID: clientID}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.InvoiceStatus(s)
		switch status {
		case domain.InvoiceStatusDraft, domain.InvoiceStatusOpen, domain.InvoiceStatusPaid,
			domain.InvoiceStatusVoid, domain.InvoiceStatusUncollectible:
			filter.Status = &status
		default:
			respondWithError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	result, err := h.invoiceService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create godoc
// @Summary Create invoice from a locked quote
// @Description Creates the processor customer if needed and a draft invoice with one item per quote line.
// @Description A quote has at most one invoice; repeating the call answers 409 with the existing invoice id.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body domain.CreateInvoiceRequest true "Quote to invoice"
// @Success 201 {object} domain.InvoiceDTO
// @Failure 400 {object} domain.APIError "Client has no billing email"
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Quote not locked or already invoiced"
// @Failure 502 {object} domain.APIError
// @Failure 504 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices [post]
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	invoice, err := h.invoiceService.Create(r.Context(), req.QuoteID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/v1/invoices/"+invoice.ID.String())
	respondJSON(w, http.StatusCreated, invoice)
}

// GetByID godoc
// @Summary Get invoice by ID
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}

// GetByQuote godoc
// @Summary Get the invoice of a quote
// @Tags Quotes
// @Produce json
// @Param id path string true "Quote ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /quotes/{id}/invoice [get]
func (h *InvoiceHandler) GetByQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "quote")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.GetByQuoteID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}

// Finalize godoc
// @Summary Finalize invoice
// @Description Finalizes a draft invoice at the processor. The processor does not email the client.
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Invoice is not a draft or items were billed elsewhere"
// @Failure 502 {object} domain.APIError
// @Failure 504 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id}/finalize [post]
func (h *InvoiceHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.Finalize(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}

// PreviewEmail godoc
// @Summary Preview invoice email
// @Description Renders the email exactly as it would be sent. Nothing is sent or recorded.
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {object} domain.InvoiceEmailDTO
// @Failure 400 {object} domain.APIError "Invoice not finalized or client has no billing email"
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id}/email/preview [get]
func (h *InvoiceHandler) PreviewEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invoice")
	if !ok {
		return
	}

	preview, err := h.emailService.Preview(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, preview)
}

// SendEmail godoc
// @Summary Send invoice email
// @Description Emails the finalized invoice with its payment link. An invoice is emailed at most once.
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID" format(uuid)
// @Success 200 {object} domain.InvoiceDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Failure 409 {object} domain.APIError "Email already sent"
// @Failure 502 {object} domain.APIError
// @Failure 504 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /invoices/{id}/email [post]
func (h *InvoiceHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := h.emailService.Send(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}
