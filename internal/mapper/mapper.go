package mapper

import (
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func decimalPtrToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// FloatToDecimalPtr converts an optional request amount to a money column value
func FloatToDecimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f).Round(2)
	return &d
}

// ToClientDTO converts Client to ClientDTO
func ToClientDTO(client *domain.Client) domain.ClientDTO {
	return domain.ClientDTO{
		ID:               client.ID,
		Name:             client.Name,
		Email:            client.Email,
		BillingEmail:     client.BillingEmail,
		Company:          client.Company,
		Phone:            client.Phone,
		Notes:            client.Notes,
		StripeCustomerID: client.StripeCustomerID,
		CreatedAt:        formatTime(client.CreatedAt),
		UpdatedAt:        formatTime(client.UpdatedAt),
	}
}

// ToProjectDTO converts Project to ProjectDTO
func ToProjectDTO(project *domain.Project) domain.ProjectDTO {
	return domain.ProjectDTO{
		ID:              project.ID,
		ClientID:        project.ClientID,
		Name:            project.Name,
		Description:     project.Description,
		ProjectType:     project.ProjectType,
		Status:          project.Status,
		Budget:          decimalPtrToFloat(project.Budget),
		CompletedAt:     formatTimePtr(project.CompletedAt),
		BillingStatus:   project.BillingStatus,
		BilledInvoiceID: project.BilledInvoiceID,
		CreatedAt:       formatTime(project.CreatedAt),
		UpdatedAt:       formatTime(project.UpdatedAt),
	}
}

func ToTaskDTO(task *domain.Task) domain.TaskDTO {
	return domain.TaskDTO{
		ID:             task.ID,
		ProjectID:      task.ProjectID,
		Title:          task.Title,
		Description:    task.Description,
		Status:         task.Status,
		EstimatedHours: decimalPtrToFloat(task.EstimatedHours),
		DueDate:        formatTimePtr(task.DueDate),
		CreatedAt:      formatTime(task.CreatedAt),
		UpdatedAt:      formatTime(task.UpdatedAt),
	}
}

func ToExpenseDTO(expense *domain.Expense) domain.ExpenseDTO {
	return domain.ExpenseDTO{
		ID:              expense.ID,
		ClientID:        expense.ClientID,
		ProjectID:       expense.ProjectID,
		Description:     expense.Description,
		Vendor:          expense.Vendor,
		Category:        expense.Category,
		Amount:          expense.Amount.InexactFloat64(),
		IncurredOn:      formatTime(expense.IncurredOn),
		PassThrough:     expense.PassThrough,
		MarkupPercent:   expense.MarkupPercent.InexactFloat64(),
		BillingStatus:   expense.BillingStatus,
		BilledInvoiceID: expense.BilledInvoiceID,
		CreatedAt:       formatTime(expense.CreatedAt),
		UpdatedAt:       formatTime(expense.UpdatedAt),
	}
}

// ToQuoteDTO converts Quote to QuoteDTO. Cent totals are derived from the stored major units.
func ToQuoteDTO(quote *domain.Quote) domain.QuoteDTO {
	lines := []domain.QuoteLine(quote.Lines)
	if lines == nil {
		lines = []domain.QuoteLine{}
	}
	return domain.QuoteDTO{
		ID:                 quote.ID,
		ClientID:           quote.ClientID,
		CreatedByID:        quote.CreatedByID,
		Lines:              lines,
		Subtotal:           quote.Subtotal.InexactFloat64(),
		Discount:           quote.Discount.InexactFloat64(),
		Total:              quote.Total.InexactFloat64(),
		SubtotalCents:      pricing.MajorToCents(quote.Subtotal),
		DiscountCents:      pricing.MajorToCents(quote.Discount),
		TotalCents:         pricing.MajorToCents(quote.Total),
		Status:             quote.Status,
		DueDate:            formatTimePtr(quote.DueDate),
		NetTermsDays:       quote.NetTermsDays,
		ClientMemo:         quote.ClientMemo,
		InternalMemo:       quote.InternalMemo,
		BillableProjectIDs: uuidsOrEmpty(quote.BillableProjectIDs),
		BillableExpenseIDs: uuidsOrEmpty(quote.BillableExpenseIDs),
		CreatedAt:          formatTime(quote.CreatedAt),
		UpdatedAt:          formatTime(quote.UpdatedAt),
	}
}

// ToGroupedQuoteDTO groups quote lines for review
func ToGroupedQuoteDTO(quote *domain.Quote) domain.GroupedQuoteDTO {
	groups := pricing.GroupLinesByKey(quote.Lines)
	dto := domain.GroupedQuoteDTO{
		QuoteID:       quote.ID,
		Groups:        make([]domain.QuoteLineGroupDTO, len(groups)),
		SubtotalCents: pricing.MajorToCents(quote.Subtotal),
		DiscountCents: pricing.MajorToCents(quote.Discount),
		TotalCents:    pricing.MajorToCents(quote.Total),
	}
	for i, g := range groups {
		dto.Groups[i] = domain.QuoteLineGroupDTO{
			GroupKey:   g.Key,
			Lines:      g.Lines,
			TotalCents: g.NetCents(),
		}
	}
	return dto
}

func ToInvoiceDTO(mirror *domain.InvoiceMirror) domain.InvoiceDTO {
	return domain.InvoiceDTO{
		ID:               mirror.ID,
		ClientID:         mirror.ClientID,
		QuoteID:          mirror.QuoteID,
		InvoiceNumber:    domain.InvoiceNumber(mirror.StripeInvoiceID),
		StripeInvoiceID:  mirror.StripeInvoiceID,
		StripeCustomerID: mirror.StripeCustomerID,
		Status:           mirror.Status,
		HostedInvoiceURL: mirror.HostedInvoiceURL,
		FinalizedAt:      formatTimePtr(mirror.FinalizedAt),
		DueDate:          formatTimePtr(mirror.DueDate),
		EmailSentAt:      formatTimePtr(mirror.EmailSentAt),
		EmailRecipient:   mirror.EmailRecipient,
		Subtotal:         mirror.Subtotal.InexactFloat64(),
		Total:            mirror.Total.InexactFloat64(),
		IdempotencyKey:   mirror.IdempotencyKey,
		CreatedAt:        formatTime(mirror.CreatedAt),
		UpdatedAt:        formatTime(mirror.UpdatedAt),
	}
}

func ToAuditLogDTO(log *domain.AuditLog) domain.AuditLogDTO {
	return domain.AuditLogDTO{
		ID:          log.ID,
		UserID:      log.UserID,
		UserName:    log.UserName,
		Action:      log.Action,
		EntityType:  log.EntityType,
		EntityID:    log.EntityID,
		Path:        log.Path,
		Method:      log.Method,
		StatusCode:  log.StatusCode,
		RequestID:   log.RequestID,
		PerformedAt: formatTime(log.PerformedAt),
	}
}

func uuidsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
