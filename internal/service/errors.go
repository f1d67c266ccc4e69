package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Common service errors
var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when an operation violates the current state of a resource
	ErrConflict = errors.New("resource conflict")

	// ErrUnauthorized is returned when user is not authenticated
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExternalService is returned when the processor, mail server or model call fails
	ErrExternalService = errors.New("external service error")

	// ErrExternalTimeout is returned when an external call exceeds its deadline
	ErrExternalTimeout = errors.New("external service timed out")
)

// Entity errors
var (
	ErrClientNotFound  = fmt.Errorf("client %w", ErrNotFound)
	ErrProjectNotFound = fmt.Errorf("project %w", ErrNotFound)
	ErrTaskNotFound    = fmt.Errorf("task %w", ErrNotFound)
	ErrExpenseNotFound = fmt.Errorf("expense %w", ErrNotFound)
	ErrQuoteNotFound   = fmt.Errorf("quote %w", ErrNotFound)
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", ErrNotFound)
)

// Billing flow errors
var (
	// ErrBillablesUnavailable is returned when selected work items are already billed
	ErrBillablesUnavailable = fmt.Errorf("%w: work items already billed", ErrConflict)

	// ErrClientInUse is returned when deleting a client that still has work or quotes
	ErrClientInUse = fmt.Errorf("%w: client has projects, expenses or quotes", ErrConflict)

	// ErrAlreadyBilled is returned when editing or deleting a billed work item
	ErrAlreadyBilled = fmt.Errorf("%w: item has been billed", ErrConflict)

	// ErrQuoteNotEditable is returned when changing a quote that is no longer proposed
	ErrQuoteNotEditable = fmt.Errorf("%w: quote is not in proposed status", ErrConflict)

	// ErrQuoteNotLocked is returned when invoicing a quote that has not been locked
	ErrQuoteNotLocked = fmt.Errorf("%w: quote must be locked before invoicing", ErrConflict)

	// ErrQuoteAlreadyInvoiced is returned when a quote already has an invoice
	ErrQuoteAlreadyInvoiced = fmt.Errorf("%w: quote already has an invoice", ErrConflict)

	// ErrQuoteEmpty is returned when locking a quote without lines
	ErrQuoteEmpty = fmt.Errorf("%w: quote has no lines", ErrInvalidInput)

	// ErrQuoteZeroTotal is returned when locking a quote whose total is not positive
	ErrQuoteZeroTotal = fmt.Errorf("%w: quote total must be greater than zero", ErrInvalidInput)

	// ErrMissingBillingEmail is returned when the client has no address to invoice
	ErrMissingBillingEmail = fmt.Errorf("%w: client has no billing email", ErrInvalidInput)

	// ErrInvoiceNotDraft is returned when finalizing an invoice that left draft
	ErrInvoiceNotDraft = fmt.Errorf("%w: invoice is not a draft", ErrConflict)

	// ErrInvoiceNotFinalized is returned when emailing an invoice without a payment link
	ErrInvoiceNotFinalized = fmt.Errorf("%w: invoice has not been finalized", ErrInvalidInput)

	// ErrEmailAlreadySent is returned on a second send attempt
	ErrEmailAlreadySent = fmt.Errorf("%w: invoice email already sent", ErrConflict)

	// ErrUnknownInvoice is returned when a processor event names an invoice we do not mirror
	ErrUnknownInvoice = errors.New("invoice not mirrored locally")
)

// BillingConflictError names the work items that block a quote
type BillingConflictError struct {
	Conflicts []string
}

func (e *BillingConflictError) Error() string {
	return fmt.Sprintf("work items already billed: %s", strings.Join(e.Conflicts, ", "))
}

func (e *BillingConflictError) Unwrap() error {
	return ErrBillablesUnavailable
}

// InvoiceExistsError references the mirror that already exists for a quote
type InvoiceExistsError struct {
	QuoteID         uuid.UUID
	InvoiceID       uuid.UUID
	StripeInvoiceID string
}

func (e *InvoiceExistsError) Error() string {
	return fmt.Sprintf("quote %s already invoiced as %s", e.QuoteID, e.InvoiceID)
}

func (e *InvoiceExistsError) Unwrap() error {
	return ErrQuoteAlreadyInvoiced
}

// ValidationError carries field-level problems
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + e.Fields[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// externalError classifies a failed external call. Deadline errors become ErrExternalTimeout.
func externalError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrExternalTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrExternalService, op, err)
}
