package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus mirrors the payment processor's invoice status
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// invoiceTransitions is the complete set of allowed mirror state changes.
// Webhooks may arrive out of order, so paid is reachable straight from draft.
// Paid and void are terminal.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:         {InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible},
	InvoiceStatusOpen:          {InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible},
	InvoiceStatusUncollectible: {InvoiceStatusPaid, InvoiceStatusVoid},
	InvoiceStatusPaid:          {},
	InvoiceStatusVoid:          {},
}

// CanTransitionTo checks the invoice transition table
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s InvoiceStatus) IsTerminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// HoldsBillables reports whether work items stay marked billed in this state
func (s InvoiceStatus) HoldsBillables() bool {
	switch s {
	case InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusUncollectible:
		return true
	}
	return false
}

// InvoiceMirror is the local shadow of an invoice hosted by the payment processor
type InvoiceMirror struct {
	BaseModel
	ClientID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	QuoteID          uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	StripeInvoiceID  string          `gorm:"type:varchar(100);not null;uniqueIndex;column:stripe_invoice_id"`
	StripeCustomerID string          `gorm:"type:varchar(100);not null;column:stripe_customer_id"`
	Status           InvoiceStatus   `gorm:"type:varchar(20);not null;default:'draft';index"`
	HostedInvoiceURL *string         `gorm:"type:varchar(1000);column:hosted_invoice_url"`
	FinalizedAt      *time.Time      `gorm:"column:finalized_at"`
	DueDate          *time.Time      `gorm:"column:due_date"`
	DaysUntilDue     *int            `gorm:"column:days_until_due"`
	EmailSentAt      *time.Time      `gorm:"column:email_sent_at"`
	EmailRecipient   *string         `gorm:"type:varchar(255);column:email_recipient"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Total            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	IdempotencyKey   string          `gorm:"type:varchar(100);not null;uniqueIndex;column:idempotency_key"`
}

// TableName overrides the default table name
func (InvoiceMirror) TableName() string {
	return "invoices"
}

// IsFinalized reports whether the processor has issued a payable invoice
func (m *InvoiceMirror) IsFinalized() bool {
	return m.HostedInvoiceURL != nil && *m.HostedInvoiceURL != ""
}

// QuoteIdempotencyKey is the base key for every processor call made on behalf of a quote
func QuoteIdempotencyKey(quoteID uuid.UUID) string {
	return "quote_" + quoteID.String()
}

// CustomerIdempotencyKey is used the first time a processor customer is created for a client
func CustomerIdempotencyKey(quoteID uuid.UUID) string {
	return "cust_" + quoteID.String()
}

// InvoiceItemIdempotencyKey derives the per-line key from the quote key
func InvoiceItemIdempotencyKey(baseKey string, index int) string {
	return fmt.Sprintf("%s_item_%d", baseKey, index)
}

// InvoiceCreateIdempotencyKey derives the invoice creation key from the quote key
func InvoiceCreateIdempotencyKey(baseKey string) string {
	return baseKey + "_invoice"
}

// InvoiceNumber builds a human-facing number from the trailing segment of the processor id
func InvoiceNumber(stripeInvoiceID string) string {
	segment := stripeInvoiceID
	if idx := strings.LastIndex(segment, "_"); idx >= 0 {
		segment = segment[idx+1:]
	}
	if len(segment) > 8 {
		segment = segment[len(segment)-8:]
	}
	return "INV-" + strings.ToUpper(segment)
}
