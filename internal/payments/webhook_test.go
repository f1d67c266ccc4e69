package payments_test

import (
	"testing"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestWebhookVerifier_ParsesInvoicePaid(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1AbCdEfGh","object":"invoice","status":"paid","customer":"cus_123","hosted_invoice_url":"https://pay.example/in_1","status_transitions":{"finalized_at":1700000000}}}}`

	verifier := payments.NewWebhookVerifier(testSecret)
	event, err := verifier.Parse([]byte(payload), sign(t, payload, testSecret))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, payments.EventInvoicePaid, event.Kind)
	require.NotNil(t, event.Invoice)
	assert.Equal(t, "in_1AbCdEfGh", event.Invoice.ID)
	assert.Equal(t, "cus_123", event.Invoice.CustomerID)
	assert.Equal(t, domain.InvoiceStatusPaid, event.Invoice.Status)
	assert.Equal(t, "https://pay.example/in_1", event.Invoice.HostedInvoiceURL)
	require.NotNil(t, event.Invoice.FinalizedAt)
	assert.Equal(t, int64(1700000000), event.Invoice.FinalizedAt.Unix())
}

func TestWebhookVerifier_RejectsBadSignature(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`
	verifier := payments.NewWebhookVerifier(testSecret)

	_, err := verifier.Parse([]byte(payload), sign(t, payload, "whsec_other"))
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)

	_, err = verifier.Parse([]byte(payload), "")
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)

	_, err = verifier.Parse([]byte(payload), "garbage")
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)
}

func TestWebhookVerifier_TamperedPayload(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"invoice.voided","data":{"object":{"id":"in_1","object":"invoice"}}}`
	header := sign(t, payload, testSecret)

	tampered := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`
	_, err := payments.NewWebhookVerifier(testSecret).Parse([]byte(tampered), header)
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)
}

func TestWebhookVerifier_UnknownTypeIsAccepted(t *testing.T) {
	payload := `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`

	event, err := payments.NewWebhookVerifier(testSecret).Parse([]byte(payload), sign(t, payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, payments.EventUnknown, event.Kind)
	assert.Equal(t, "customer.created", event.Type)
	assert.Nil(t, event.Invoice)
}

func TestWebhookVerifier_MissingSecretRejects(t *testing.T) {
	payload := `{"id":"evt_1","type":"invoice.paid"}`
	_, err := payments.NewWebhookVerifier("").Parse([]byte(payload), sign(t, payload, testSecret))
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)
}

func TestParseEventKind(t *testing.T) {
	assert.Equal(t, payments.EventInvoiceFinalized, payments.ParseEventKind("invoice.finalized"))
	assert.Equal(t, payments.EventInvoicePaymentFailed, payments.ParseEventKind("invoice.payment_failed"))
	assert.Equal(t, payments.EventInvoiceVoided, payments.ParseEventKind("invoice.voided"))
	assert.Equal(t, payments.EventInvoiceMarkedUncollectible, payments.ParseEventKind("invoice.marked_uncollectible"))
	assert.Equal(t, payments.EventUnknown, payments.ParseEventKind("invoice.upcoming"))
	assert.Equal(t, "invoice.voided", payments.EventInvoiceVoided.String())
	assert.Equal(t, "unknown", payments.EventUnknown.String())
}
