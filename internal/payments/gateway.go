// Package payments bridges the billing flow to the external payment processor.
// Every mutating call carries an idempotency key so callers can retry safely.
package payments

import (
	"context"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
)

// CustomerRequest describes a processor customer to create for a client
type CustomerRequest struct {
	ClientID       string
	Name           string
	Email          string
	IdempotencyKey string
}

// DraftInvoiceRequest describes a send-invoice mode draft. Either DueDate or DaysUntilDue is set.
type DraftInvoiceRequest struct {
	CustomerID     string
	QuoteID        string
	Memo           string
	DueDate        *time.Time
	DaysUntilDue   int64
	IdempotencyKey string
}

// InvoiceItemRequest is one line attached to a draft invoice. AmountCents is negative for discounts.
type InvoiceItemRequest struct {
	CustomerID     string
	InvoiceID      string
	AmountCents    int64
	Description    string
	IdempotencyKey string
}

// Invoice is the processor's view of an invoice, reduced to what the mirror tracks
type Invoice struct {
	ID               string
	CustomerID       string
	Status           domain.InvoiceStatus
	HostedInvoiceURL string
	FinalizedAt      *time.Time
	DueDate          *time.Time
}

// Gateway is the processor surface the billing services depend on.
// Implementations wrap timeouts so errors.Is(err, context.DeadlineExceeded) holds.
type Gateway interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateDraftInvoice(ctx context.Context, req DraftInvoiceRequest) (*Invoice, error)
	AddInvoiceItem(ctx context.Context, req InvoiceItemRequest) error
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
}
