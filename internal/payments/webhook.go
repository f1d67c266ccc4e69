package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var (
	// ErrInvalidSignature means the payload could not be authenticated
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent means the signature was valid but the body could not be decoded
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// InvoiceEventKind is the closed set of processor events the billing flow reacts to
type InvoiceEventKind int

const (
	EventUnknown InvoiceEventKind = iota
	EventInvoiceFinalized
	EventInvoicePaid
	EventInvoicePaymentFailed
	EventInvoiceVoided
	EventInvoiceMarkedUncollectible
)

var eventKinds = map[string]InvoiceEventKind{
	"invoice.finalized":            EventInvoiceFinalized,
	"invoice.paid":                 EventInvoicePaid,
	"invoice.payment_failed":       EventInvoicePaymentFailed,
	"invoice.voided":               EventInvoiceVoided,
	"invoice.marked_uncollectible": EventInvoiceMarkedUncollectible,
}

// ParseEventKind maps a processor event type string to its kind
func ParseEventKind(eventType string) InvoiceEventKind {
	if kind, ok := eventKinds[eventType]; ok {
		return kind
	}
	return EventUnknown
}

func (k InvoiceEventKind) String() string {
	for name, kind := range eventKinds {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// InvoiceEvent is a verified webhook event. Invoice is nil for EventUnknown.
type InvoiceEvent struct {
	ID      string
	Type    string
	Kind    InvoiceEventKind
	Invoice *Invoice
}

// WebhookVerifier authenticates webhook payloads with the shared signing secret
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies the signature header and decodes the event. Nothing in the
// payload is trusted before the signature check passes.
func (v *WebhookVerifier) Parse(payload []byte, signatureHeader string) (*InvoiceEvent, error) {
	if v.secret == "" || signatureHeader == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &InvoiceEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: ParseEventKind(string(event.Type)),
	}
	if out.Kind == EventUnknown {
		return out, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing invoice object", ErrMalformedEvent)
	}
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("%w: invoice id missing", ErrMalformedEvent)
	}
	out.Invoice = convertInvoice(&inv)
	return out, nil
}
