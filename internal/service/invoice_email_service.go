package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/email"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// InvoiceEmailService renders invoice emails and sends each invoice at most once
type InvoiceEmailService struct {
	invoiceRepo *repository.InvoiceRepository
	quoteRepo   *repository.QuoteRepository
	clientRepo  *repository.ClientRepository
	mailer      email.Mailer
	archive     storage.Storage
	publisher   events.Publisher
	senderName  string
	currency    string
	logger      *zap.Logger

	sends singleflight.Group
}

// NewInvoiceEmailService wires the dispatcher. archive may be nil, in which case sent emails are not kept.
func NewInvoiceEmailService(
	invoiceRepo *repository.InvoiceRepository,
	quoteRepo *repository.QuoteRepository,
	clientRepo *repository.ClientRepository,
	mailer email.Mailer,
	archive storage.Storage,
	publisher events.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *InvoiceEmailService {
	sender := cfg.Email.FromName
	if sender == "" {
		sender = cfg.App.Name
	}
	if !cfg.Email.ArchiveSent {
		archive = nil
	}
	return &InvoiceEmailService{
		invoiceRepo: invoiceRepo,
		quoteRepo:   quoteRepo,
		clientRepo:  clientRepo,
		mailer:      mailer,
		archive:     archive,
		publisher:   publisher,
		senderName:  sender,
		currency:    cfg.Stripe.Currency,
		logger:      logger,
	}
}

// Preview renders the email exactly as Send would deliver it
func (s *InvoiceEmailService) Preview(ctx context.Context, id uuid.UUID) (*domain.InvoiceEmailDTO, error) {
	mirror, err := s.getInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, mirror)
}

// Send delivers the invoice email once. The delivery is recorded only after the
// provider accepted the message; a second call fails without contacting the provider.
func (s *InvoiceEmailService) Send(ctx context.Context, id uuid.UUID) (*domain.InvoiceDTO, error) {
	v, err, _ := s.sends.Do(id.String(), func() (interface{}, error) {
		return s.send(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.InvoiceDTO), nil
}

func (s *InvoiceEmailService) send(ctx context.Context, id uuid.UUID) (*domain.InvoiceDTO, error) {
	mirror, err := s.getInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if mirror.EmailSentAt != nil {
		return nil, ErrEmailAlreadySent
	}

	rendered, err := s.render(ctx, mirror)
	if err != nil {
		return nil, err
	}
	log := logger.WithInvoice(s.logger, mirror.StripeInvoiceID)

	err = s.mailer.Send(ctx, email.Message{
		To:      rendered.Recipient,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
	})
	if err != nil {
		log.Error("invoice email failed", zap.String("to", rendered.Recipient), zap.Error(err))
		if errors.Is(err, email.ErrDisabled) {
			return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
		}
		return nil, externalError("send invoice email", err)
	}

	sentAt := time.Now().UTC()
	recorded, err := s.invoiceRepo.MarkEmailSent(ctx, mirror.ID, rendered.Recipient, sentAt)
	if err != nil {
		log.Error("invoice email sent but not recorded", zap.Error(err))
		return nil, err
	}
	if !recorded {
		log.Warn("invoice email was recorded by a concurrent send")
	}

	if s.archive != nil {
		key := storage.InvoiceEmailKey(mirror.ID.String())
		if err := s.archive.Put(ctx, key, "text/html; charset=utf-8", []byte(rendered.HTML)); err != nil {
			log.Warn("failed to archive invoice email", zap.String("key", key), zap.Error(err))
		}
	}

	log.Info("invoice email sent", zap.String("to", rendered.Recipient))

	updated, err := s.getInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, s.logger, updated.QuoteID.String(), invoiceEvent(events.InvoiceEmailSent, updated))
	dto := mapper.ToInvoiceDTO(updated)
	return &dto, nil
}

func (s *InvoiceEmailService) render(ctx context.Context, mirror *domain.InvoiceMirror) (*domain.InvoiceEmailDTO, error) {
	if !mirror.IsFinalized() {
		return nil, ErrInvoiceNotFinalized
	}

	quote, err := s.quoteRepo.GetByID(ctx, mirror.QuoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	client, err := s.clientRepo.GetByID(ctx, mirror.ClientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	recipient := client.InvoiceRecipient()
	if recipient == "" {
		return nil, ErrMissingBillingEmail
	}

	totals := pricing.ComputeTotals(quote.Lines)
	msg := email.InvoiceEmail{
		SenderName:       s.senderName,
		ClientName:       client.Name,
		InvoiceNumber:    domain.InvoiceNumber(mirror.StripeInvoiceID),
		Currency:         s.currency,
		Lines:            quote.Lines,
		SubtotalCents:    totals.SubtotalCents,
		DiscountCents:    totals.DiscountCents,
		TotalCents:       totals.TotalCents,
		DueDate:          dueDate(mirror),
		HostedInvoiceURL: *mirror.HostedInvoiceURL,
	}
	if quote.ClientMemo != nil {
		msg.Memo = *quote.ClientMemo
	}

	rendered, err := email.RenderInvoiceEmail(msg)
	if err != nil {
		return nil, err
	}
	return &domain.InvoiceEmailDTO{
		InvoiceID: mirror.ID,
		Recipient: recipient,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
	}, nil
}

// dueDate is the due date the processor shows on the hosted invoice
func dueDate(mirror *domain.InvoiceMirror) *time.Time {
	if mirror.DueDate != nil {
		due := *mirror.DueDate
		return &due
	}
	if mirror.FinalizedAt != nil && mirror.DaysUntilDue != nil {
		due := mirror.FinalizedAt.AddDate(0, 0, *mirror.DaysUntilDue)
		return &due
	}
	return nil
}

func (s *InvoiceEmailService) getInvoice(ctx context.Context, id uuid.UUID) (*domain.InvoiceMirror, error) {
	mirror, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return mirror, nil
}
