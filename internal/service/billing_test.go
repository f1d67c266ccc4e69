package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/payments"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/storage"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type billingHarness struct {
	db        *gorm.DB
	gateway   *testutil.FakeGateway
	publisher *testutil.FakePublisher
	mailer    *testutil.FakeMailer
	archive   storage.Storage

	quotes   *service.QuoteService
	invoices *service.InvoiceService
	emails   *service.InvoiceEmailService

	projectRepo *repository.ProjectRepository
	expenseRepo *repository.ExpenseRepository
	invoiceRepo *repository.InvoiceRepository
	quoteRepo   *repository.QuoteRepository
}

func newBillingHarness(t *testing.T) *billingHarness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()

	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		App:    config.AppConfig{Name: "Opsboard"},
		Stripe: config.StripeConfig{Currency: "usd", DaysUntilDue: 30},
		Email:  config.EmailConfig{FromName: "Northwind Studio", ArchiveSent: true},
	}

	h := &billingHarness{
		db:          db,
		gateway:     testutil.NewFakeGateway(),
		publisher:   &testutil.FakePublisher{},
		mailer:      &testutil.FakeMailer{},
		archive:     archive,
		projectRepo: repository.NewProjectRepository(db),
		expenseRepo: repository.NewExpenseRepository(db),
		invoiceRepo: repository.NewInvoiceRepository(db),
		quoteRepo:   repository.NewQuoteRepository(db),
	}
	clientRepo := repository.NewClientRepository(db)

	h.quotes = service.NewQuoteService(h.quoteRepo, clientRepo, h.projectRepo, h.expenseRepo, h.publisher, log, db)
	h.invoices = service.NewInvoiceService(h.invoiceRepo, h.quoteRepo, clientRepo, h.projectRepo, h.expenseRepo,
		h.gateway, h.publisher, &cfg.Stripe, log, db)
	h.emails = service.NewInvoiceEmailService(h.invoiceRepo, h.quoteRepo, clientRepo, h.mailer, archive, h.publisher, cfg, log)
	return h
}

// acmeFixture is client Acme with a completed website project and a hosting expense
type acmeFixture struct {
	client  *domain.Client
	project *domain.Project
	expense *domain.Expense
}

func (h *billingHarness) acme(t *testing.T) acmeFixture {
	t.Helper()
	client := testutil.CreateTestClient(t, h.db, "Acme")
	return acmeFixture{
		client:  client,
		project: testutil.CreateTestProject(t, h.db, client.ID, "Website", domain.ProjectStatusCompleted),
		expense: testutil.CreateTestExpense(t, h.db, client.ID, "Hosting", "120.00"),
	}
}

func acmeLines(f acmeFixture) []domain.QuoteLine {
	projectID, expenseID := f.project.ID, f.expense.ID
	return []domain.QuoteLine{
		{Kind: domain.LineKindProject, SourceID: &projectID, Title: "Website", Quantity: 1, UnitLabel: "fixed", UnitAmountCents: 500000, GroupKey: "Build"},
		{Kind: domain.LineKindExpense, SourceID: &expenseID, Title: "Hosting", Quantity: 1, UnitLabel: "year", UnitAmountCents: 12000, GroupKey: "Hosting"},
		{Kind: domain.LineKindDiscount, Title: "Loyalty", Quantity: 1, UnitLabel: "fixed", UnitAmountCents: 7000, GroupKey: "Build"},
	}
}

// lockedAcmeQuote creates and locks the standard Acme quote
func (h *billingHarness) lockedAcmeQuote(t *testing.T, f acmeFixture) *domain.QuoteDTO {
	t.Helper()
	ctx := context.Background()
	quote, err := h.quotes.Create(ctx, &domain.CreateQuoteRequest{
		ClientID:           f.client.ID,
		Lines:              acmeLines(f),
		BillableProjectIDs: []uuid.UUID{f.project.ID},
		BillableExpenseIDs: []uuid.UUID{f.expense.ID},
	})
	require.NoError(t, err)
	locked, err := h.quotes.Lock(ctx, quote.ID)
	require.NoError(t, err)
	return locked
}

func (h *billingHarness) project(t *testing.T, id uuid.UUID) *domain.Project {
	t.Helper()
	p, err := h.projectRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *billingHarness) expense(t *testing.T, id uuid.UUID) *domain.Expense {
	t.Helper()
	e, err := h.expenseRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func stripeEvent(kind payments.InvoiceEventKind, stripeInvoiceID string, status domain.InvoiceStatus) *payments.InvoiceEvent {
	return &payments.InvoiceEvent{
		ID:      "evt_" + uuid.NewString()[:8],
		Type:    kind.String(),
		Kind:    kind,
		Invoice: &payments.Invoice{ID: stripeInvoiceID, Status: status},
	}
}

func countType(types []events.Type, want events.Type) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestBilling_AcmePaidScenario(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)

	quote := h.lockedAcmeQuote(t, f)
	assert.Equal(t, int64(512000), quote.SubtotalCents)
	assert.Equal(t, int64(7000), quote.DiscountCents)
	assert.Equal(t, int64(505000), quote.TotalCents)

	invoice, err := h.invoices.Create(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, invoice.Status)
	assert.Equal(t, "quote_"+quote.ID.String(), invoice.IdempotencyKey)
	assert.Equal(t, 5050.0, invoice.Total)

	items := h.gateway.Items(invoice.StripeInvoiceID)
	require.Len(t, items, 3)
	assert.Equal(t, int64(500000), items[0].AmountCents)
	assert.Equal(t, int64(12000), items[1].AmountCents)
	assert.Equal(t, int64(-7000), items[2].AmountCents)
	assert.Equal(t, "Discount: Loyalty", items[2].Description)

	storedQuote, err := h.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusInvoiced, storedQuote.Status)

	// Nothing is billed until the invoice is finalized
	assert.Equal(t, domain.BillingStatusUnbilled, h.project(t, f.project.ID).BillingStatus)

	finalized, err := h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOpen, finalized.Status)
	require.NotNil(t, finalized.HostedInvoiceURL)
	assert.NotNil(t, finalized.FinalizedAt)

	project := h.project(t, f.project.ID)
	assert.Equal(t, domain.BillingStatusBilled, project.BillingStatus)
	require.NotNil(t, project.BilledInvoiceID)
	assert.Equal(t, invoice.ID, *project.BilledInvoiceID)
	expense := h.expense(t, f.expense.ID)
	assert.Equal(t, domain.BillingStatusBilled, expense.BillingStatus)

	sent, err := h.emails.Send(ctx, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, sent.EmailRecipient)
	assert.Equal(t, "billing@acme.test", *sent.EmailRecipient)
	require.Len(t, h.mailer.Sent, 1)
	assert.Contains(t, h.mailer.Sent[0].HTML, *finalized.HostedInvoiceURL)
	assert.Contains(t, h.mailer.Sent[0].Subject, domain.InvoiceNumber(invoice.StripeInvoiceID))

	archived, err := h.archive.Get(ctx, storage.InvoiceEmailKey(invoice.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, h.mailer.Sent[0].HTML, string(archived))

	handled, err := h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoicePaid, invoice.StripeInvoiceID, domain.InvoiceStatusPaid))
	require.NoError(t, err)
	assert.True(t, handled)

	paid, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, paid.Status)
	assert.Equal(t, domain.BillingStatusBilled, h.project(t, f.project.ID).BillingStatus)

	assert.Equal(t, []events.Type{
		events.QuoteCreated,
		events.QuoteLocked,
		events.InvoiceCreated,
		events.InvoiceFinalized,
		events.InvoiceEmailSent,
		events.InvoicePaid,
	}, h.publisher.Types())
}

func TestBilling_AcmeVoidScenario(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)

	// Billed under an unrelated invoice; voiding Acme's invoice must not touch it
	other := testutil.CreateTestProject(t, h.db, f.client.ID, "Logo", domain.ProjectStatusCompleted)
	otherInvoiceID := uuid.New()
	require.NoError(t, h.db.Model(other).Updates(map[string]interface{}{
		"billing_status":    domain.BillingStatusBilled,
		"billed_invoice_id": otherInvoiceID,
	}).Error)

	quote := h.lockedAcmeQuote(t, f)
	invoice, err := h.invoices.Create(ctx, quote.ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	handled, err := h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoiceVoided, invoice.StripeInvoiceID, domain.InvoiceStatusVoid))
	require.NoError(t, err)
	assert.True(t, handled)

	voided, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusVoid, voided.Status)

	project := h.project(t, f.project.ID)
	assert.Equal(t, domain.BillingStatusUnbilled, project.BillingStatus)
	assert.Nil(t, project.BilledInvoiceID)
	expense := h.expense(t, f.expense.ID)
	assert.Equal(t, domain.BillingStatusUnbilled, expense.BillingStatus)
	assert.Nil(t, expense.BilledInvoiceID)

	untouched := h.project(t, other.ID)
	assert.Equal(t, domain.BillingStatusBilled, untouched.BillingStatus)
	require.NotNil(t, untouched.BilledInvoiceID)
	assert.Equal(t, otherInvoiceID, *untouched.BilledInvoiceID)

	// Released items can go on a new quote
	_, err = h.quotes.Create(ctx, &domain.CreateQuoteRequest{
		ClientID:           f.client.ID,
		Lines:              acmeLines(f),
		BillableProjectIDs: []uuid.UUID{f.project.ID},
	})
	assert.NoError(t, err)

	// A paid event after void does not resurrect the invoice
	_, err = h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoicePaid, invoice.StripeInvoiceID, domain.InvoiceStatusPaid))
	require.NoError(t, err)
	still, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusVoid, still.Status)
}

func TestInvoiceService_CreateIsIdempotent(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	quote := h.lockedAcmeQuote(t, f)

	first, err := h.invoices.Create(ctx, quote.ID)
	require.NoError(t, err)

	_, err = h.invoices.Create(ctx, quote.ID)
	require.Error(t, err)
	var exists *service.InvoiceExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, first.ID, exists.InvoiceID)
	assert.Equal(t, first.StripeInvoiceID, exists.StripeInvoiceID)
	assert.ErrorIs(t, err, service.ErrConflict)

	assert.Equal(t, 1, h.gateway.InvoiceCount())
	assert.Equal(t, 1, h.gateway.CustomerCount())
}

func TestInvoiceService_ConcurrentCreateMakesOneInvoice(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	quote := h.lockedAcmeQuote(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.invoices.Create(ctx, quote.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var exists *service.InvoiceExistsError
		assert.ErrorAs(t, err, &exists)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
	assert.Equal(t, 1, h.gateway.InvoiceCount())

	var count int64
	require.NoError(t, h.db.Model(&domain.InvoiceMirror{}).Where("quote_id = ?", quote.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInvoiceService_CreateRequiresLockedQuote(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)

	quote, err := h.quotes.Create(ctx, &domain.CreateQuoteRequest{ClientID: f.client.ID, Lines: acmeLines(f)})
	require.NoError(t, err)

	_, err = h.invoices.Create(ctx, quote.ID)
	assert.ErrorIs(t, err, service.ErrQuoteNotLocked)
	assert.Equal(t, 0, h.gateway.CallCount("CreateDraftInvoice"))

	_, err = h.invoices.Create(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestInvoiceService_CreateRequiresBillingEmail(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	client := &domain.Client{Name: "No Mail Ltd"}
	require.NoError(t, h.db.Create(client).Error)
	quote := testutil.CreateTestQuote(t, h.db, client.ID, domain.QuoteStatusLocked,
		[]domain.QuoteLine{testutil.ProjectLine("Audit", 90000)})

	_, err := h.invoices.Create(ctx, quote.ID)
	assert.ErrorIs(t, err, service.ErrMissingBillingEmail)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Equal(t, 0, h.gateway.CustomerCount())
}

func TestInvoiceService_GatewayFailureLeavesNoMirror(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	quote := h.lockedAcmeQuote(t, f)

	h.gateway.Errors["AddInvoiceItem"] = errors.New("card_error")
	_, err := h.invoices.Create(ctx, quote.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrExternalService)

	_, err = h.invoiceRepo.GetByQuoteID(ctx, nil, quote.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	stored, err := h.quotes.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusLocked, stored.Status)

	// The retry reuses the draft created by the failed attempt
	delete(h.gateway.Errors, "AddInvoiceItem")
	invoice, err := h.invoices.Create(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gateway.InvoiceCount())
	assert.Len(t, h.gateway.Items(invoice.StripeInvoiceID), 3)
}

func TestInvoiceService_GatewayTimeout(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	quote := h.lockedAcmeQuote(t, f)

	h.gateway.Errors["CreateDraftInvoice"] = fmt.Errorf("stripe create invoice: %w", context.DeadlineExceeded)
	_, err := h.invoices.Create(ctx, quote.ID)
	assert.ErrorIs(t, err, service.ErrExternalTimeout)
}

func TestInvoiceService_StaleCustomerIsReplaced(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	stale := "cus_deleted"
	require.NoError(t, h.db.Model(f.client).Update("stripe_customer_id", stale).Error)
	quote := h.lockedAcmeQuote(t, f)

	invoice, err := h.invoices.Create(ctx, quote.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stale, invoice.StripeCustomerID)

	var client domain.Client
	require.NoError(t, h.db.First(&client, "id = ?", f.client.ID).Error)
	require.NotNil(t, client.StripeCustomerID)
	assert.Equal(t, invoice.StripeCustomerID, *client.StripeCustomerID)
}

func TestInvoiceService_FinalizeOnlyDraft(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)

	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	_, err = h.invoices.Finalize(ctx, invoice.ID)
	assert.ErrorIs(t, err, service.ErrInvoiceNotDraft)
	assert.ErrorIs(t, err, service.ErrConflict)
	assert.Equal(t, 1, h.gateway.CallCount("FinalizeInvoice"))
}

func TestInvoiceService_FinalizeRejectsItemsBilledElsewhere(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)

	require.NoError(t, h.db.Model(f.project).Updates(map[string]interface{}{
		"billing_status":    domain.BillingStatusBilled,
		"billed_invoice_id": uuid.New(),
	}).Error)

	_, err = h.invoices.Finalize(ctx, invoice.ID)
	var conflict *service.BillingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{`Project "Website"`}, conflict.Conflicts)
	assert.Equal(t, 0, h.gateway.CallCount("FinalizeInvoice"))
}

func TestInvoiceService_FinalizeRecoversFromLostResponse(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)

	// The processor finalized the invoice but the response never arrived
	h.gateway.SetInvoiceStatus(invoice.StripeInvoiceID, domain.InvoiceStatusOpen)
	h.gateway.Errors["FinalizeInvoice"] = fmt.Errorf("stripe finalize invoice: %w", context.DeadlineExceeded)

	finalized, err := h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOpen, finalized.Status)
	assert.Equal(t, domain.BillingStatusBilled, h.project(t, f.project.ID).BillingStatus)
}

func TestInvoiceService_WebhookReplayAndOrdering(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)

	// paid arrives before finalized
	paidEvent := stripeEvent(payments.EventInvoicePaid, invoice.StripeInvoiceID, domain.InvoiceStatusPaid)
	_, err = h.invoices.HandleEvent(ctx, paidEvent)
	require.NoError(t, err)

	mirror, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, mirror.Status)
	assert.Equal(t, domain.BillingStatusBilled, h.project(t, f.project.ID).BillingStatus)

	finalizedEvent := stripeEvent(payments.EventInvoiceFinalized, invoice.StripeInvoiceID, domain.InvoiceStatusOpen)
	finalizedEvent.Invoice.HostedInvoiceURL = "https://invoice.stripe.test/late"
	_, err = h.invoices.HandleEvent(ctx, finalizedEvent)
	require.NoError(t, err)

	mirror, err = h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, mirror.Status)
	require.NotNil(t, mirror.HostedInvoiceURL)
	assert.Equal(t, "https://invoice.stripe.test/late", *mirror.HostedInvoiceURL)

	// replay
	_, err = h.invoices.HandleEvent(ctx, paidEvent)
	require.NoError(t, err)
	assert.Equal(t, 1, countType(h.publisher.Types(), events.InvoicePaid))
	assert.Equal(t, 0, countType(h.publisher.Types(), events.InvoiceFinalized))
}

func TestInvoiceService_UncollectibleKeepsItemsBilled(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	_, err = h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoiceMarkedUncollectible, invoice.StripeInvoiceID, domain.InvoiceStatusUncollectible))
	require.NoError(t, err)

	mirror, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusUncollectible, mirror.Status)
	assert.Equal(t, domain.BillingStatusBilled, h.project(t, f.project.ID).BillingStatus)
	assert.Equal(t, domain.BillingStatusBilled, h.expense(t, f.expense.ID).BillingStatus)
}

func TestInvoiceService_PaymentFailedOnlyPublishes(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	handled, err := h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoicePaymentFailed, invoice.StripeInvoiceID, domain.InvoiceStatusOpen))
	require.NoError(t, err)
	assert.True(t, handled)

	mirror, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOpen, mirror.Status)
	assert.Equal(t, 1, countType(h.publisher.Types(), events.InvoicePaymentFailed))
}

func TestInvoiceService_UnknownEvents(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()

	handled, err := h.invoices.HandleEvent(ctx, stripeEvent(payments.EventInvoicePaid, "in_someone_else", domain.InvoiceStatusPaid))
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = h.invoices.HandleEvent(ctx, &payments.InvoiceEvent{ID: "evt_1", Type: "customer.created", Kind: payments.EventUnknown})
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestInvoiceService_ReconcileAppliesMissedWebhooks(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	h.gateway.SetInvoiceStatus(invoice.StripeInvoiceID, domain.InvoiceStatusVoid)

	checked, changed, err := h.invoices.ReconcileOpenInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, changed)

	mirror, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusVoid, mirror.Status)
	assert.Equal(t, domain.BillingStatusUnbilled, h.project(t, f.project.ID).BillingStatus)

	// terminal mirrors are no longer swept
	checked, changed, err = h.invoices.ReconcileOpenInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, checked)
	assert.Equal(t, 0, changed)
}

func TestInvoiceEmailService_SendsAtMostOnce(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)

	_, err = h.emails.Send(ctx, invoice.ID)
	assert.ErrorIs(t, err, service.ErrInvoiceNotFinalized)
	assert.Equal(t, 0, h.mailer.Calls)

	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	preview, err := h.emails.Preview(ctx, invoice.ID)
	require.NoError(t, err)

	_, err = h.emails.Send(ctx, invoice.ID)
	require.NoError(t, err)
	_, err = h.emails.Send(ctx, invoice.ID)
	assert.ErrorIs(t, err, service.ErrEmailAlreadySent)

	assert.Equal(t, 1, h.mailer.Calls)
	require.Len(t, h.mailer.Sent, 1)
	assert.Equal(t, preview.HTML, h.mailer.Sent[0].HTML)
	assert.Equal(t, preview.Subject, h.mailer.Sent[0].Subject)
}

func TestInvoiceEmailService_ProviderFailureIsNotRecorded(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	h.mailer.Err = errors.New("550 mailbox unavailable")
	_, err = h.emails.Send(ctx, invoice.ID)
	assert.ErrorIs(t, err, service.ErrExternalService)

	mirror, err := h.invoices.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, mirror.EmailSentAt)

	h.mailer.Err = nil
	_, err = h.emails.Send(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.mailer.Calls)
}

func TestInvoiceEmailService_PreviewIsDeterministic(t *testing.T) {
	h := newBillingHarness(t)
	ctx := context.Background()
	f := h.acme(t)
	invoice, err := h.invoices.Create(ctx, h.lockedAcmeQuote(t, f).ID)
	require.NoError(t, err)
	_, err = h.invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	a, err := h.emails.Preview(ctx, invoice.ID)
	require.NoError(t, err)
	b, err := h.emails.Preview(ctx, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, a.HTML, b.HTML)
	assert.Equal(t, "billing@acme.test", a.Recipient)
	assert.Contains(t, a.HTML, "Acme")
	assert.Contains(t, a.HTML, "$5,050.00")
	assert.True(t, strings.HasPrefix(a.Subject, "Invoice INV-"))
	assert.Equal(t, 0, h.mailer.Calls)
}

func TestInvoiceEmailService_DueDateMatchesProcessor(t *testing.T) {
	const dateLayout = "January 2, 2006"

	tests := []struct {
		name    string
		dueDate time.Time
		// wantDue computes the expected due date from the finalized mirror
		wantDue func(mirror *domain.InvoiceMirror, quoteDue time.Time) time.Time
	}{
		{
			name:    "past quote due date falls back to payment terms",
			dueDate: time.Now().UTC().AddDate(0, 0, -10),
			wantDue: func(mirror *domain.InvoiceMirror, _ time.Time) time.Time {
				return mirror.FinalizedAt.AddDate(0, 0, 30)
			},
		},
		{
			name:    "future quote due date is sent as is",
			dueDate: time.Now().UTC().AddDate(0, 0, 45),
			wantDue: func(_ *domain.InvoiceMirror, quoteDue time.Time) time.Time {
				return quoteDue
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newBillingHarness(t)
			ctx := context.Background()
			f := h.acme(t)

			due := tt.dueDate
			quote, err := h.quotes.Create(ctx, &domain.CreateQuoteRequest{
				ClientID:           f.client.ID,
				Lines:              acmeLines(f),
				DueDate:            &due,
				BillableProjectIDs: []uuid.UUID{f.project.ID},
				BillableExpenseIDs: []uuid.UUID{f.expense.ID},
			})
			require.NoError(t, err)
			_, err = h.quotes.Lock(ctx, quote.ID)
			require.NoError(t, err)

			invoice, err := h.invoices.Create(ctx, quote.ID)
			require.NoError(t, err)
			_, err = h.invoices.Finalize(ctx, invoice.ID)
			require.NoError(t, err)

			mirror, err := h.invoiceRepo.GetByID(ctx, invoice.ID)
			require.NoError(t, err)
			require.NotNil(t, mirror.FinalizedAt)
			require.NotNil(t, mirror.DueDate)
			want := tt.wantDue(mirror, due)
			assert.Equal(t, want.UTC().Format(dateLayout), mirror.DueDate.UTC().Format(dateLayout))

			preview, err := h.emails.Preview(ctx, invoice.ID)
			require.NoError(t, err)
			assert.Contains(t, preview.HTML, want.UTC().Format(dateLayout))
			if tt.dueDate.Before(time.Now()) {
				assert.NotContains(t, preview.HTML, tt.dueDate.Format(dateLayout))
			}
		})
	}
}
