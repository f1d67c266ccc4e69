package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no secret key is configured
var ErrNotConfigured = errors.New("payment processor not configured")

// StripeGateway implements Gateway on top of the Stripe API.
// One instance is built at startup and shared for the process lifetime.
type StripeGateway struct {
	api      *client.API
	currency string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewStripeGateway builds the Stripe client with bounded HTTP timeouts and no library retries.
// Retries are left to callers, whose idempotency keys make them safe.
func NewStripeGateway(cfg *config.StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	timeout := cfg.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	backendConfig := func() *stripe.BackendConfig {
		bc := &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: timeout},
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		if cfg.APIBaseURL != "" {
			bc.URL = stripe.String(strings.TrimRight(cfg.APIBaseURL, "/"))
		}
		return bc
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
	})

	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}

	return &StripeGateway{
		api:      api,
		currency: currency,
		timeout:  timeout,
		logger:   logger.Named("stripe"),
	}, nil
}

func (g *StripeGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// CustomerExists reports whether a stored customer id is still usable
func (g *StripeGateway) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	customer, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, g.wrap(ctx, "get customer", err)
	}
	return !customer.Deleted, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Name:  stripe.String(req.Name),
		Email: stripe.String(req.Email),
	}
	params.Context = ctx
	params.AddMetadata("client_id", req.ClientID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	customer, err := g.api.Customers.New(params)
	if err != nil {
		return "", g.wrap(ctx, "create customer", err)
	}
	g.logger.Info("Created customer", zap.String("customer_id", customer.ID), zap.String("client_id", req.ClientID))
	return customer.ID, nil
}

// CreateDraftInvoice creates a send-invoice draft with auto advance off, so the
// processor never finalizes or emails on its own.
func (g *StripeGateway) CreateDraftInvoice(ctx context.Context, req DraftInvoiceRequest) (*Invoice, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(req.CustomerID),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		AutoAdvance:                 stripe.Bool(false),
		Currency:                    stripe.String(g.currency),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	if req.DueDate != nil {
		params.DueDate = stripe.Int64(req.DueDate.Unix())
	} else {
		params.DaysUntilDue = stripe.Int64(req.DaysUntilDue)
	}
	if req.Memo != "" {
		params.Description = stripe.String(req.Memo)
	}
	params.Context = ctx
	params.AddMetadata("quote_id", req.QuoteID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	inv, err := g.api.Invoices.New(params)
	if err != nil {
		return nil, g.wrap(ctx, "create invoice", err)
	}
	return convertInvoice(inv), nil
}

func (g *StripeGateway) AddInvoiceItem(ctx context.Context, req InvoiceItemRequest) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(req.CustomerID),
		Invoice:     stripe.String(req.InvoiceID),
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(g.currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	if _, err := g.api.InvoiceItems.New(params); err != nil {
		return g.wrap(ctx, "create invoice item", err)
	}
	return nil
}

// FinalizeInvoice finalizes with auto advance still off, which keeps the processor from sending email
func (g *StripeGateway) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(false)}
	params.Context = ctx

	inv, err := g.api.Invoices.FinalizeInvoice(invoiceID, params)
	if err != nil {
		return nil, g.wrap(ctx, "finalize invoice", err)
	}
	return convertInvoice(inv), nil
}

func (g *StripeGateway) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := g.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, g.wrap(ctx, "get invoice", err)
	}
	return convertInvoice(inv), nil
}

// wrap keeps timeouts recognisable as context.DeadlineExceeded and tags everything else with the operation
func (g *StripeGateway) wrap(ctx context.Context, op string, err error) error {
	if isTimeout(ctx, err) {
		g.logger.Warn("Stripe call timed out", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("stripe %s: %w", op, context.DeadlineExceeded)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		g.logger.Error("Stripe call failed",
			zap.String("op", op),
			zap.Int("status", stripeErr.HTTPStatusCode),
			zap.String("code", string(stripeErr.Code)),
			zap.String("request_id", stripeErr.RequestID),
		)
		return fmt.Errorf("stripe %s: %s (%d): %w", op, stripeErr.Msg, stripeErr.HTTPStatusCode, err)
	}

	g.logger.Error("Stripe call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("stripe %s: %w", op, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func convertInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:               inv.ID,
		Status:           domain.InvoiceStatus(inv.Status),
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.FinalizedAt > 0 {
		t := time.Unix(inv.StatusTransitions.FinalizedAt, 0).UTC()
		out.FinalizedAt = &t
	}
	if inv.DueDate > 0 {
		t := time.Unix(inv.DueDate, 0).UTC()
		out.DueDate = &t
	}
	return out
}
