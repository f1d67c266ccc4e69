package service

import (
	"context"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"go.uber.org/zap"
)

// QuoteEventData is the payload of quote events
type QuoteEventData struct {
	QuoteID    string             `json:"quoteId"`
	ClientID   string             `json:"clientId"`
	Status     domain.QuoteStatus `json:"status"`
	TotalCents int64              `json:"totalCents"`
}

// InvoiceEventData is the payload of invoice events
type InvoiceEventData struct {
	InvoiceID       string               `json:"invoiceId"`
	QuoteID         string               `json:"quoteId"`
	ClientID        string               `json:"clientId"`
	StripeInvoiceID string               `json:"stripeInvoiceId"`
	Status          domain.InvoiceStatus `json:"status"`
	TotalCents      int64                `json:"totalCents"`
}

func quoteEvent(t events.Type, q *domain.Quote) events.Event {
	return events.New(t, QuoteEventData{
		QuoteID:    q.ID.String(),
		ClientID:   q.ClientID.String(),
		Status:     q.Status,
		TotalCents: pricing.MajorToCents(q.Total),
	})
}

func invoiceEvent(t events.Type, m *domain.InvoiceMirror) events.Event {
	return events.New(t, InvoiceEventData{
		InvoiceID:       m.ID.String(),
		QuoteID:         m.QuoteID.String(),
		ClientID:        m.ClientID.String(),
		StripeInvoiceID: m.StripeInvoiceID,
		Status:          m.Status,
		TotalCents:      pricing.MajorToCents(m.Total),
	})
}

// publish delivers an event after the state change committed. Failures are logged, not returned.
func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, key string, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, key, event); err != nil {
		logger.Warn("failed to publish billing event",
			zap.String("event_type", string(event.Type)),
			zap.String("key", key),
			zap.Error(err))
	}
}
