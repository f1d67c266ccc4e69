package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/payments"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const defaultDaysUntilDue = 30

// InvoiceService mirrors locked quotes into the payment processor and keeps the
// local mirror in step with it.
type InvoiceService struct {
	invoiceRepo  *repository.InvoiceRepository
	quoteRepo    *repository.QuoteRepository
	clientRepo   *repository.ClientRepository
	projectRepo  *repository.ProjectRepository
	expenseRepo  *repository.ExpenseRepository
	gateway      payments.Gateway
	publisher    events.Publisher
	currency     string
	daysUntilDue int
	logger       *zap.Logger
	db           *gorm.DB

	// creates collapses concurrent create calls for the same quote
	creates singleflight.Group
}

func NewInvoiceService(
	invoiceRepo *repository.InvoiceRepository,
	quoteRepo *repository.QuoteRepository,
	clientRepo *repository.ClientRepository,
	projectRepo *repository.ProjectRepository,
	expenseRepo *repository.ExpenseRepository,
	gateway payments.Gateway,
	publisher events.Publisher,
	cfg *config.StripeConfig,
	logger *zap.Logger,
	db *gorm.DB,
) *InvoiceService {
	days := cfg.DaysUntilDue
	if days <= 0 {
		days = defaultDaysUntilDue
	}
	return &InvoiceService{
		invoiceRepo:  invoiceRepo,
		quoteRepo:    quoteRepo,
		clientRepo:   clientRepo,
		projectRepo:  projectRepo,
		expenseRepo:  expenseRepo,
		gateway:      gateway,
		publisher:    publisher,
		currency:     cfg.Currency,
		daysUntilDue: days,
		logger:       logger,
		db:           db,
	}
}

// Create mirrors a locked quote as a processor draft invoice. Processor calls run
// first with idempotency keys derived from the quote; the mirror row and the
// quote's move to invoiced are written in one transaction afterwards, so a failure
// anywhere leaves the quote locked and the call safe to retry.
func (s *InvoiceService) Create(ctx context.Context, quoteID uuid.UUID) (*domain.InvoiceDTO, error) {
	v, err, _ := s.creates.Do(quoteID.String(), func() (interface{}, error) {
		return s.create(ctx, quoteID)
	})
	if err != nil {
		return nil, err
	}
	mirror := v.(*domain.InvoiceMirror)
	dto := mapper.ToInvoiceDTO(mirror)
	return &dto, nil
}

func (s *InvoiceService) create(ctx context.Context, quoteID uuid.UUID) (*domain.InvoiceMirror, error) {
	log := logger.WithQuote(s.logger, quoteID.String())

	quote, err := s.quoteRepo.GetByID(ctx, quoteID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	if existing, err := s.invoiceRepo.GetByQuoteID(ctx, nil, quoteID); err == nil {
		return nil, &InvoiceExistsError{QuoteID: quoteID, InvoiceID: existing.ID, StripeInvoiceID: existing.StripeInvoiceID}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing invoice: %w", err)
	}

	switch quote.Status {
	case domain.QuoteStatusLocked:
	case domain.QuoteStatusInvoiced:
		return nil, ErrQuoteAlreadyInvoiced
	default:
		return nil, ErrQuoteNotLocked
	}

	client, err := s.clientRepo.GetByID(ctx, quote.ClientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if client.InvoiceRecipient() == "" {
		return nil, ErrMissingBillingEmail
	}

	customerID, err := s.resolveCustomer(ctx, client, quote.ID)
	if err != nil {
		return nil, err
	}

	baseKey := domain.QuoteIdempotencyKey(quote.ID)
	draftReq := payments.DraftInvoiceRequest{
		CustomerID:     customerID,
		QuoteID:        quote.ID.String(),
		IdempotencyKey: domain.InvoiceCreateIdempotencyKey(baseKey),
	}
	if quote.ClientMemo != nil {
		draftReq.Memo = *quote.ClientMemo
	}
	s.applyDueTerms(&draftReq, quote, time.Now())

	draft, err := s.gateway.CreateDraftInvoice(ctx, draftReq)
	if err != nil {
		log.Error("failed to create draft invoice", zap.Error(err))
		return nil, externalError("create invoice", err)
	}
	log = logger.WithInvoice(log, draft.ID)

	for i, line := range quote.Lines {
		amount := pricing.LineTotalCents(line)
		if amount == 0 {
			continue
		}
		description := lineItemDescription(line, s.currency)
		if line.IsDiscount() {
			amount = -amount
		}
		err := s.gateway.AddInvoiceItem(ctx, payments.InvoiceItemRequest{
			CustomerID:     customerID,
			InvoiceID:      draft.ID,
			AmountCents:    amount,
			Description:    description,
			IdempotencyKey: domain.InvoiceItemIdempotencyKey(baseKey, i),
		})
		if err != nil {
			log.Error("failed to add invoice item", zap.Int("line", i), zap.Error(err))
			return nil, externalError("create invoice item", err)
		}
	}

	mirror := &domain.InvoiceMirror{
		ClientID:         quote.ClientID,
		QuoteID:          quote.ID,
		StripeInvoiceID:  draft.ID,
		StripeCustomerID: customerID,
		Status:           domain.InvoiceStatusDraft,
		Subtotal:         quote.Subtotal,
		Total:            quote.Total,
		IdempotencyKey:   baseKey,
	}
	if draftReq.DueDate != nil {
		due := *draftReq.DueDate
		mirror.DueDate = &due
	} else {
		days := int(draftReq.DaysUntilDue)
		mirror.DaysUntilDue = &days
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.quoteRepo.TransitionStatus(ctx, tx, quote.ID, domain.QuoteStatusLocked, domain.QuoteStatusInvoiced)
		if err != nil {
			return err
		}
		if !ok {
			if existing, err := s.invoiceRepo.GetByQuoteID(ctx, tx, quote.ID); err == nil {
				return &InvoiceExistsError{QuoteID: quote.ID, InvoiceID: existing.ID, StripeInvoiceID: existing.StripeInvoiceID}
			}
			return ErrQuoteNotLocked
		}
		return s.invoiceRepo.Create(ctx, tx, mirror)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store invoice: %w", err)
	}

	log.Info("invoice draft created",
		zap.String("invoice_id", mirror.ID.String()),
		zap.String("stripe_customer_id", customerID),
		zap.String("total", mirror.Total.StringFixed(2)))
	publish(ctx, s.publisher, s.logger, mirror.QuoteID.String(), invoiceEvent(events.InvoiceCreated, mirror))
	return mirror, nil
}

// resolveCustomer reuses the client's processor customer, creating one on first use
func (s *InvoiceService) resolveCustomer(ctx context.Context, client *domain.Client, quoteID uuid.UUID) (string, error) {
	var stale string
	if client.StripeCustomerID != nil && *client.StripeCustomerID != "" {
		exists, err := s.gateway.CustomerExists(ctx, *client.StripeCustomerID)
		if err != nil {
			return "", externalError("look up customer", err)
		}
		if exists {
			return *client.StripeCustomerID, nil
		}
		stale = *client.StripeCustomerID
		s.logger.Warn("stored processor customer no longer exists",
			zap.String("client_id", client.ID.String()),
			zap.String("stripe_customer_id", stale))
	}

	customerID, err := s.gateway.CreateCustomer(ctx, payments.CustomerRequest{
		ClientID:       client.ID.String(),
		Name:           client.Name,
		Email:          client.InvoiceRecipient(),
		IdempotencyKey: domain.CustomerIdempotencyKey(quoteID),
	})
	if err != nil {
		return "", externalError("create customer", err)
	}

	var stored bool
	if stale != "" {
		stored, err = s.clientRepo.ReplaceStripeCustomerID(ctx, client.ID, stale, customerID)
	} else {
		stored, err = s.clientRepo.SetStripeCustomerID(ctx, client.ID, customerID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to store customer id: %w", err)
	}
	if stored {
		return customerID, nil
	}

	// Another request stored a customer first. Use that one so the client keeps a single customer.
	current, err := s.clientRepo.GetByID(ctx, client.ID)
	if err != nil {
		return "", fmt.Errorf("failed to reload client: %w", err)
	}
	if current.StripeCustomerID == nil || *current.StripeCustomerID == "" {
		return customerID, nil
	}
	s.logger.Warn("discarding duplicate processor customer",
		zap.String("client_id", client.ID.String()),
		zap.String("stripe_customer_id", customerID))
	return *current.StripeCustomerID, nil
}

// applyDueTerms prefers an explicit future due date, then net terms, then the configured default
func (s *InvoiceService) applyDueTerms(req *payments.DraftInvoiceRequest, quote *domain.Quote, now time.Time) {
	if quote.DueDate != nil && quote.DueDate.After(now) {
		due := *quote.DueDate
		req.DueDate = &due
		return
	}
	if quote.NetTermsDays != nil && *quote.NetTermsDays > 0 {
		req.DaysUntilDue = int64(*quote.NetTermsDays)
		return
	}
	req.DaysUntilDue = int64(s.daysUntilDue)
}

func lineItemDescription(line domain.QuoteLine, currency string) string {
	title := strings.TrimSpace(line.Title)
	if line.IsDiscount() {
		return "Discount: " + title
	}
	if line.Quantity != 1 {
		unit := line.UnitLabel
		if unit == "" {
			unit = "units"
		}
		qty := strconv.FormatFloat(line.Quantity, 'f', -1, 64)
		return fmt.Sprintf("%s (%s %s x %s)", title, qty, unit, pricing.FormatCents(line.UnitAmountCents, currency))
	}
	return title
}

// Finalize issues a draft invoice and marks the quote's work items billed under it
func (s *InvoiceService) Finalize(ctx context.Context, id uuid.UUID) (*domain.InvoiceDTO, error) {
	mirror, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mirror.Status != domain.InvoiceStatusDraft {
		return nil, ErrInvoiceNotDraft
	}
	log := logger.WithInvoice(s.logger, mirror.StripeInvoiceID)

	quote, err := s.quoteRepo.GetByID(ctx, mirror.QuoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	if err := s.checkStillBillable(ctx, quote, mirror.ID); err != nil {
		return nil, err
	}

	remote, err := s.gateway.FinalizeInvoice(ctx, mirror.StripeInvoiceID)
	if err != nil {
		// A retry after a lost response finds the invoice already finalized
		current, getErr := s.gateway.GetInvoice(ctx, mirror.StripeInvoiceID)
		if getErr != nil || current.Status == domain.InvoiceStatusDraft {
			log.Error("failed to finalize invoice", zap.Error(err))
			return nil, externalError("finalize invoice", err)
		}
		remote = current
	}

	changed, err := s.applyRemoteState(ctx, mirror.StripeInvoiceID, domain.InvoiceStatusOpen, remote)
	if err != nil {
		return nil, err
	}

	updated, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info("invoice finalized", zap.String("invoice_id", id.String()))
	}
	dto := mapper.ToInvoiceDTO(updated)
	return &dto, nil
}

// checkStillBillable fails when a work item of the quote was billed under another invoice
func (s *InvoiceService) checkStillBillable(ctx context.Context, quote *domain.Quote, mirrorID uuid.UUID) error {
	projects, err := s.projectRepo.GetByIDs(ctx, nil, quote.BillableProjectIDs)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}
	expenses, err := s.expenseRepo.GetByIDs(ctx, nil, quote.BillableExpenseIDs)
	if err != nil {
		return fmt.Errorf("failed to load expenses: %w", err)
	}

	var conflicts []string
	for _, p := range projects {
		if billedElsewhere(p.BillingStatus, p.BilledInvoiceID, mirrorID) {
			conflicts = append(conflicts, fmt.Sprintf("Project %q", p.Name))
		}
	}
	for _, e := range expenses {
		if billedElsewhere(e.BillingStatus, e.BilledInvoiceID, mirrorID) {
			conflicts = append(conflicts, fmt.Sprintf("Expense %q", e.Description))
		}
	}
	if len(conflicts) > 0 {
		return &BillingConflictError{Conflicts: conflicts}
	}
	return nil
}

func billedElsewhere(status domain.BillingStatus, billedInvoiceID *uuid.UUID, mirrorID uuid.UUID) bool {
	if status == domain.BillingStatusUnbilled {
		return false
	}
	return billedInvoiceID == nil || *billedInvoiceID != mirrorID
}

func (s *InvoiceService) GetByID(ctx context.Context, id uuid.UUID) (*domain.InvoiceDTO, error) {
	mirror, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToInvoiceDTO(mirror)
	return &dto, nil
}

func (s *InvoiceService) List(ctx context.Context, page, pageSize int, filter *repository.InvoiceFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	mirrors, total, err := s.invoiceRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	dtos := make([]domain.InvoiceDTO, len(mirrors))
	for i := range mirrors {
		dtos[i] = mapper.ToInvoiceDTO(&mirrors[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// GetByQuoteID returns the mirror of a quote, used by chat status lookups
func (s *InvoiceService) GetByQuoteID(ctx context.Context, quoteID uuid.UUID) (*domain.InvoiceDTO, error) {
	mirror, err := s.invoiceRepo.GetByQuoteID(ctx, nil, quoteID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	dto := mapper.ToInvoiceDTO(mirror)
	return &dto, nil
}

func (s *InvoiceService) get(ctx context.Context, id uuid.UUID) (*domain.InvoiceMirror, error) {
	mirror, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return mirror, nil
}
