package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaginatedResponse wraps list endpoints
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// ============================================================================
// Clients
// ============================================================================

type ClientDTO struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email,omitempty"`
	BillingEmail     string    `json:"billingEmail,omitempty"`
	Company          string    `json:"company,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	StripeCustomerID *string   `json:"stripeCustomerId,omitempty"`
	CreatedAt        string    `json:"createdAt"`
	UpdatedAt        string    `json:"updatedAt"`
}

type CreateClientRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email,max=255"`
	BillingEmail string `json:"billingEmail" validate:"omitempty,email,max=255"`
	Company      string `json:"company" validate:"max=200"`
	Phone        string `json:"phone" validate:"max=50"`
	Notes        string `json:"notes"`
}

type UpdateClientRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email,max=255"`
	BillingEmail string `json:"billingEmail" validate:"omitempty,email,max=255"`
	Company      string `json:"company" validate:"max=200"`
	Phone        string `json:"phone" validate:"max=50"`
	Notes        string `json:"notes"`
}

// ============================================================================
// Projects and tasks
// ============================================================================

type ProjectDTO struct {
	ID              uuid.UUID     `json:"id"`
	ClientID        uuid.UUID     `json:"clientId"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	ProjectType     string        `json:"projectType,omitempty"`
	Status          ProjectStatus `json:"status"`
	Budget          *float64      `json:"budget,omitempty"`
	CompletedAt     *string       `json:"completedAt,omitempty"`
	BillingStatus   BillingStatus `json:"billingStatus"`
	BilledInvoiceID *uuid.UUID    `json:"billedInvoiceId,omitempty"`
	CreatedAt       string        `json:"createdAt"`
	UpdatedAt       string        `json:"updatedAt"`
}

type CreateProjectRequest struct {
	ClientID    uuid.UUID     `json:"clientId" validate:"required"`
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description"`
	ProjectType string        `json:"projectType" validate:"max=100"`
	Status      ProjectStatus `json:"status" validate:"omitempty,oneof=planning active on_hold completed cancelled"`
	Budget      *float64      `json:"budget" validate:"omitempty,gte=0"`
}

type UpdateProjectRequest struct {
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description"`
	ProjectType string        `json:"projectType" validate:"max=100"`
	Status      ProjectStatus `json:"status" validate:"required,oneof=planning active on_hold completed cancelled"`
	Budget      *float64      `json:"budget" validate:"omitempty,gte=0"`
}

type TaskDTO struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"projectId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	DueDate        *string    `json:"dueDate,omitempty"`
	CreatedAt      string     `json:"createdAt"`
	UpdatedAt      string     `json:"updatedAt"`
}

type CreateTaskRequest struct {
	ProjectID      uuid.UUID  `json:"projectId" validate:"required"`
	Title          string     `json:"title" validate:"required,max=200"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	EstimatedHours *float64   `json:"estimatedHours" validate:"omitempty,gte=0"`
	DueDate        *time.Time `json:"dueDate"`
}

type UpdateTaskRequest struct {
	Title          string     `json:"title" validate:"required,max=200"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status" validate:"required,oneof=todo in_progress done"`
	EstimatedHours *float64   `json:"estimatedHours" validate:"omitempty,gte=0"`
	DueDate        *time.Time `json:"dueDate"`
}

// ============================================================================
// Expenses
// ============================================================================

type ExpenseDTO struct {
	ID              uuid.UUID         `json:"id"`
	ClientID        uuid.UUID         `json:"clientId"`
	ProjectID       *uuid.UUID        `json:"projectId,omitempty"`
	Description     string            `json:"description"`
	Vendor          string            `json:"vendor,omitempty"`
	Category        string            `json:"category,omitempty"`
	Amount          float64           `json:"amount"`
	IncurredOn      string            `json:"incurredOn"`
	PassThrough     PassThroughPolicy `json:"passThrough"`
	MarkupPercent   float64           `json:"markupPercent"`
	BillingStatus   BillingStatus     `json:"billingStatus"`
	BilledInvoiceID *uuid.UUID        `json:"billedInvoiceId,omitempty"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt"`
}

type CreateExpenseRequest struct {
	ClientID      uuid.UUID         `json:"clientId" validate:"required"`
	ProjectID     *uuid.UUID        `json:"projectId"`
	Description   string            `json:"description" validate:"required,max=500"`
	Vendor        string            `json:"vendor" validate:"max=200"`
	Category      string            `json:"category" validate:"max=100"`
	Amount        float64           `json:"amount" validate:"gt=0"`
	IncurredOn    *time.Time        `json:"incurredOn"`
	PassThrough   PassThroughPolicy `json:"passThrough" validate:"omitempty,oneof=at_cost markup"`
	MarkupPercent float64           `json:"markupPercent" validate:"gte=0,lte=1000"`
}

type UpdateExpenseRequest struct {
	ProjectID     *uuid.UUID        `json:"projectId"`
	Description   string            `json:"description" validate:"required,max=500"`
	Vendor        string            `json:"vendor" validate:"max=200"`
	Category      string            `json:"category" validate:"max=100"`
	Amount        float64           `json:"amount" validate:"gt=0"`
	IncurredOn    *time.Time        `json:"incurredOn"`
	PassThrough   PassThroughPolicy `json:"passThrough" validate:"required,oneof=at_cost markup"`
	MarkupPercent float64           `json:"markupPercent" validate:"gte=0,lte=1000"`
}

// BillablesDTO lists the work items that can still be put on a quote
type BillablesDTO struct {
	ClientID uuid.UUID    `json:"clientId"`
	Projects []ProjectDTO `json:"projects"`
	Expenses []ExpenseDTO `json:"expenses"`
}

// ============================================================================
// Quotes
// ============================================================================

type QuoteDTO struct {
	ID                 uuid.UUID   `json:"id"`
	ClientID           uuid.UUID   `json:"clientId"`
	CreatedByID        string      `json:"createdById,omitempty"`
	Lines              []QuoteLine `json:"lines"`
	Subtotal           float64     `json:"subtotal"`
	Discount           float64     `json:"discount"`
	Total              float64     `json:"total"`
	SubtotalCents      int64       `json:"subtotalCents"`
	DiscountCents      int64       `json:"discountCents"`
	TotalCents         int64       `json:"totalCents"`
	Status             QuoteStatus `json:"status"`
	DueDate            *string     `json:"dueDate,omitempty"`
	NetTermsDays       *int        `json:"netTermsDays,omitempty"`
	ClientMemo         *string     `json:"clientMemo,omitempty"`
	InternalMemo       *string     `json:"internalMemo,omitempty"`
	BillableProjectIDs []uuid.UUID `json:"billableProjectIds"`
	BillableExpenseIDs []uuid.UUID `json:"billableExpenseIds"`
	CreatedAt          string      `json:"createdAt"`
	UpdatedAt          string      `json:"updatedAt"`
}

type CreateQuoteRequest struct {
	ClientID           uuid.UUID   `json:"clientId" validate:"required"`
	Lines              []QuoteLine `json:"lines" validate:"max=200,dive"`
	DueDate            *time.Time  `json:"dueDate"`
	NetTermsDays       *int        `json:"netTermsDays" validate:"omitempty,gte=0,lte=365"`
	ClientMemo         *string     `json:"clientMemo" validate:"omitempty,max=2000"`
	InternalMemo       *string     `json:"internalMemo" validate:"omitempty,max=2000"`
	BillableProjectIDs []uuid.UUID `json:"billableProjectIds"`
	BillableExpenseIDs []uuid.UUID `json:"billableExpenseIds"`
}

// UpdateQuoteRequest replaces the line set. Optional fields keep their
// previous value when omitted.
type UpdateQuoteRequest struct {
	Lines              []QuoteLine  `json:"lines" validate:"required,max=200,dive"`
	DueDate            *time.Time   `json:"dueDate"`
	NetTermsDays       *int         `json:"netTermsDays" validate:"omitempty,gte=0,lte=365"`
	ClientMemo         *string      `json:"clientMemo" validate:"omitempty,max=2000"`
	InternalMemo       *string      `json:"internalMemo" validate:"omitempty,max=2000"`
	BillableProjectIDs *[]uuid.UUID `json:"billableProjectIds"`
	BillableExpenseIDs *[]uuid.UUID `json:"billableExpenseIds"`
}

// QuoteLineGroupDTO is one display group of a grouped quote
type QuoteLineGroupDTO struct {
	GroupKey   string      `json:"groupKey"`
	Lines      []QuoteLine `json:"lines"`
	TotalCents int64       `json:"totalCents"`
}

type GroupedQuoteDTO struct {
	QuoteID       uuid.UUID           `json:"quoteId"`
	Groups        []QuoteLineGroupDTO `json:"groups"`
	SubtotalCents int64               `json:"subtotalCents"`
	DiscountCents int64               `json:"discountCents"`
	TotalCents    int64               `json:"totalCents"`
}

// BillableSelectionRequest names the billables used for a suggestion or draft
type BillableSelectionRequest struct {
	ProjectIDs []uuid.UUID `json:"projectIds"`
	ExpenseIDs []uuid.UUID `json:"expenseIds"`
}

// LineSuggestionDTO carries proposed lines that the caller may edit before creating a quote
type LineSuggestionDTO struct {
	ClientID           uuid.UUID   `json:"clientId"`
	Lines              []QuoteLine `json:"lines"`
	SubtotalCents      int64       `json:"subtotalCents"`
	DiscountCents      int64       `json:"discountCents"`
	TotalCents         int64       `json:"totalCents"`
	BillableProjectIDs []uuid.UUID `json:"billableProjectIds"`
	BillableExpenseIDs []uuid.UUID `json:"billableExpenseIds"`
	Source             string      `json:"source"`
}

// ============================================================================
// Invoices
// ============================================================================

type InvoiceDTO struct {
	ID               uuid.UUID     `json:"id"`
	ClientID         uuid.UUID     `json:"clientId"`
	QuoteID          uuid.UUID     `json:"quoteId"`
	InvoiceNumber    string        `json:"invoiceNumber"`
	StripeInvoiceID  string        `json:"stripeInvoiceId"`
	StripeCustomerID string        `json:"stripeCustomerId"`
	Status           InvoiceStatus `json:"status"`
	HostedInvoiceURL *string       `json:"hostedInvoiceUrl,omitempty"`
	FinalizedAt      *string       `json:"finalizedAt,omitempty"`
	DueDate          *string       `json:"dueDate,omitempty"`
	EmailSentAt      *string       `json:"emailSentAt,omitempty"`
	EmailRecipient   *string       `json:"emailRecipient,omitempty"`
	Subtotal         float64       `json:"subtotal"`
	Total            float64       `json:"total"`
	IdempotencyKey   string        `json:"idempotencyKey"`
	CreatedAt        string        `json:"createdAt"`
	UpdatedAt        string        `json:"updatedAt"`
}

type CreateInvoiceRequest struct {
	QuoteID uuid.UUID `json:"quoteId" validate:"required"`
}

// WebhookAckDTO is returned to the payment processor once a payload is accepted
type WebhookAckDTO struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType,omitempty"`
	Handled   bool   `json:"handled"`
}

// ============================================================================
// Audit
// ============================================================================

type AuditLogDTO struct {
	ID          uuid.UUID   `json:"id"`
	UserID      string      `json:"userId,omitempty"`
	UserName    string      `json:"userName,omitempty"`
	Action      AuditAction `json:"action"`
	EntityType  string      `json:"entityType"`
	EntityID    *uuid.UUID  `json:"entityId,omitempty"`
	Path        string      `json:"path"`
	Method      string      `json:"method"`
	StatusCode  int         `json:"statusCode"`
	RequestID   string      `json:"requestId,omitempty"`
	PerformedAt string      `json:"performedAt"`
}

// InvoiceEmailDTO is a rendered invoice email. Preview and send produce the same HTML.
type InvoiceEmailDTO struct {
	InvoiceID uuid.UUID `json:"invoiceId"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	HTML      string    `json:"html"`
}
