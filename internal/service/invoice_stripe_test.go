package service_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/payments"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Runs the invoice flow through the real Stripe client against a recording stand-in
func TestInvoiceService_StripeWireRequests(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	quote := h.lockedAcmeQuote(t, f)

	srv := testutil.NewStripeServer(t)
	stripeCfg := &config.StripeConfig{
		SecretKey:      "sk_test_123",
		Currency:       "usd",
		DaysUntilDue:   30,
		APIBaseURL:     srv.URL,
		RequestTimeout: 5,
	}
	gateway, err := payments.NewStripeGateway(stripeCfg, zap.NewNop())
	require.NoError(t, err)

	invoices := service.NewInvoiceService(h.invoiceRepo, h.quoteRepo, repository.NewClientRepository(h.db),
		h.projectRepo, h.expenseRepo, gateway, h.publisher, stripeCfg, zap.NewNop(), h.db)

	invoice, err := invoices.Create(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, invoice.Status)

	baseKey := "quote_" + quote.ID.String()
	assert.Equal(t, baseKey, invoice.IdempotencyKey)

	customers := srv.RequestsTo(http.MethodPost, "/v1/customers")
	require.Len(t, customers, 1)
	assert.Equal(t, "cust_"+quote.ID.String(), customers[0].IdempotencyKey)

	drafts := srv.RequestsTo(http.MethodPost, "/v1/invoices")
	require.Len(t, drafts, 1)
	assert.Equal(t, baseKey+"_invoice", drafts[0].IdempotencyKey)
	assert.Equal(t, "false", drafts[0].Form.Get("auto_advance"))
	assert.Equal(t, "send_invoice", drafts[0].Form.Get("collection_method"))
	assert.Equal(t, "30", drafts[0].Form.Get("days_until_due"))
	assert.Equal(t, quote.ID.String(), drafts[0].Form.Get("metadata[quote_id]"))

	items := srv.RequestsTo(http.MethodPost, "/v1/invoiceitems")
	require.Len(t, items, 3)
	want := []struct {
		key         string
		amount      string
		description string
	}{
		{baseKey + "_item_0", "500000", "Website"},
		{baseKey + "_item_1", "12000", "Hosting"},
		{baseKey + "_item_2", "-7000", "Discount: Loyalty"},
	}
	for i, w := range want {
		assert.Equal(t, w.key, items[i].IdempotencyKey)
		assert.Equal(t, w.amount, items[i].Form.Get("amount"))
		assert.Equal(t, w.description, items[i].Form.Get("description"))
		assert.Equal(t, invoice.StripeInvoiceID, items[i].Form.Get("invoice"))
	}

	// Items attach to the draft, so the draft must exist first
	all := srv.Requests()
	var draftAt, firstItemAt int
	for i, req := range all {
		switch {
		case req.Path == "/v1/invoices" && draftAt == 0:
			draftAt = i + 1
		case req.Path == "/v1/invoiceitems" && firstItemAt == 0:
			firstItemAt = i + 1
		}
	}
	assert.Less(t, draftAt, firstItemAt)

	finalized, err := invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOpen, finalized.Status)
	require.NotNil(t, finalized.HostedInvoiceURL)
	assert.Equal(t, "https://invoice.stripe.test/i/"+invoice.StripeInvoiceID, *finalized.HostedInvoiceURL)

	finalizes := srv.RequestsTo(http.MethodPost, "/v1/invoices/"+invoice.StripeInvoiceID+"/finalize")
	require.Len(t, finalizes, 1)
	assert.Equal(t, "false", finalizes[0].Form.Get("auto_advance"))

	mirror, err := h.invoiceRepo.GetByQuoteID(ctx, nil, quote.ID)
	require.NoError(t, err)
	require.NotNil(t, mirror.DueDate)
	assert.True(t, testutil.StripeDueDate.Equal(*mirror.DueDate))
}
