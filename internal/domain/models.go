package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BillingStatus tracks whether a work item has been put on a finalized invoice
type BillingStatus string

const (
	BillingStatusUnbilled BillingStatus = "unbilled"
	BillingStatusBilled   BillingStatus = "billed"
)

// Client represents a customer of the business
type Client struct {
	BaseModel
	Name             string  `gorm:"type:varchar(200);not null"`
	Email            string  `gorm:"type:varchar(255)"`
	BillingEmail     string  `gorm:"type:varchar(255);column:billing_email"`
	Company          string  `gorm:"type:varchar(200)"`
	Phone            string  `gorm:"type:varchar(50)"`
	Notes            string  `gorm:"type:text"`
	StripeCustomerID *string `gorm:"type:varchar(100);column:stripe_customer_id"`
}

// InvoiceRecipient returns the address invoices go to, preferring the billing address
func (c *Client) InvoiceRecipient() string {
	if email := strings.TrimSpace(c.BillingEmail); email != "" {
		return email
	}
	return strings.TrimSpace(c.Email)
}

// ProjectStatus represents the delivery status of a project
type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

// IsValid checks if the status is one of the known values
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusPlanning, ProjectStatusActive, ProjectStatusOnHold, ProjectStatusCompleted, ProjectStatusCancelled:
		return true
	}
	return false
}

// Project is a unit of client work. Completed, unbilled projects are billable.
type Project struct {
	BaseModel
	ClientID        uuid.UUID        `gorm:"type:uuid;not null;index"`
	Name            string           `gorm:"type:varchar(200);not null"`
	Description     string           `gorm:"type:text"`
	ProjectType     string           `gorm:"type:varchar(100);column:project_type"`
	Status          ProjectStatus    `gorm:"type:varchar(20);not null;default:'planning'"`
	Budget          *decimal.Decimal `gorm:"type:numeric(12,2)"`
	CompletedAt     *time.Time       `gorm:"column:completed_at"`
	BillingStatus   BillingStatus    `gorm:"type:varchar(20);not null;default:'unbilled';column:billing_status"`
	BilledInvoiceID *uuid.UUID       `gorm:"type:uuid;index;column:billed_invoice_id"`
}

// TaskStatus represents progress on a task
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// Task is a piece of work inside a project
type Task struct {
	BaseModel
	ProjectID      uuid.UUID        `gorm:"type:uuid;not null;index"`
	Title          string           `gorm:"type:varchar(200);not null"`
	Description    string           `gorm:"type:text"`
	Status         TaskStatus       `gorm:"type:varchar(20);not null;default:'todo'"`
	EstimatedHours *decimal.Decimal `gorm:"type:numeric(8,2);column:estimated_hours"`
	DueDate        *time.Time       `gorm:"column:due_date"`
}

// PassThroughPolicy controls how an expense is re-billed to the client
type PassThroughPolicy string

const (
	PassThroughAtCost PassThroughPolicy = "at_cost"
	PassThroughMarkup PassThroughPolicy = "markup"
)

// Expense is a cost incurred on behalf of a client
type Expense struct {
	BaseModel
	ClientID        uuid.UUID         `gorm:"type:uuid;not null;index"`
	ProjectID       *uuid.UUID        `gorm:"type:uuid;index"`
	Description     string            `gorm:"type:varchar(500);not null"`
	Vendor          string            `gorm:"type:varchar(200)"`
	Category        string            `gorm:"type:varchar(100)"`
	Amount          decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	IncurredOn      time.Time         `gorm:"not null;column:incurred_on"`
	PassThrough     PassThroughPolicy `gorm:"type:varchar(20);not null;default:'at_cost';column:pass_through"`
	MarkupPercent   decimal.Decimal   `gorm:"type:numeric(5,2);not null;default:0;column:markup_percent"`
	BillingStatus   BillingStatus     `gorm:"type:varchar(20);not null;default:'unbilled';column:billing_status"`
	BilledInvoiceID *uuid.UUID        `gorm:"type:uuid;index;column:billed_invoice_id"`
}

// BilledAmount returns what the client pays for this expense in major units
func (e *Expense) BilledAmount() decimal.Decimal {
	if e.PassThrough == PassThroughMarkup && e.MarkupPercent.IsPositive() {
		factor := decimal.NewFromInt(1).Add(e.MarkupPercent.Div(decimal.NewFromInt(100)))
		return e.Amount.Mul(factor).Round(2)
	}
	return e.Amount
}

// AuditAction represents the type of audit action
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey"`
	UserID      string      `gorm:"type:varchar(100);column:user_id"`
	UserName    string      `gorm:"type:varchar(200);column:user_name"`
	Action      AuditAction `gorm:"type:varchar(20);not null"`
	EntityType  string      `gorm:"type:varchar(50);not null;column:entity_type"`
	EntityID    *uuid.UUID  `gorm:"type:uuid;column:entity_id"`
	Path        string      `gorm:"type:varchar(500)"`
	Method      string      `gorm:"type:varchar(10)"`
	StatusCode  int         `gorm:"column:status_code"`
	RequestID   string      `gorm:"type:varchar(100);column:request_id"`
	IPAddress   string      `gorm:"type:varchar(64);column:ip_address"`
	NewValues   string      `gorm:"type:text;column:new_values"`
	PerformedAt time.Time   `gorm:"not null;column:performed_at"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
