package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/internal/payments"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileBatchSize = 100

var eventTargets = map[payments.InvoiceEventKind]domain.InvoiceStatus{
	payments.EventInvoiceFinalized:           domain.InvoiceStatusOpen,
	payments.EventInvoicePaid:                domain.InvoiceStatusPaid,
	payments.EventInvoiceVoided:              domain.InvoiceStatusVoid,
	payments.EventInvoiceMarkedUncollectible: domain.InvoiceStatusUncollectible,
}

var statusEvents = map[domain.InvoiceStatus]events.Type{
	domain.InvoiceStatusOpen:          events.InvoiceFinalized,
	domain.InvoiceStatusPaid:          events.InvoicePaid,
	domain.InvoiceStatusVoid:          events.InvoiceVoided,
	domain.InvoiceStatusUncollectible: events.InvoiceMarkedUncollectible,
}

// HandleEvent applies a verified processor event to the mirror. Replays and
// events for invoices that are not mirrored here are acknowledged without effect.
// handled reports whether the event type is one the billing flow reacts to.
func (s *InvoiceService) HandleEvent(ctx context.Context, event *payments.InvoiceEvent) (bool, error) {
	if event == nil || event.Kind == payments.EventUnknown || event.Invoice == nil {
		return false, nil
	}
	log := logger.WithInvoice(s.logger, event.Invoice.ID).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	if event.Kind == payments.EventInvoicePaymentFailed {
		mirror, err := s.invoiceRepo.GetByStripeInvoiceID(ctx, nil, event.Invoice.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Info("ignoring event for unknown invoice")
				return true, nil
			}
			return true, fmt.Errorf("failed to get invoice: %w", err)
		}
		log.Warn("invoice payment failed", zap.String("invoice_id", mirror.ID.String()))
		publish(ctx, s.publisher, s.logger, mirror.QuoteID.String(), invoiceEvent(events.InvoicePaymentFailed, mirror))
		return true, nil
	}

	target, ok := eventTargets[event.Kind]
	if !ok {
		return false, nil
	}

	changed, err := s.applyRemoteState(ctx, event.Invoice.ID, target, event.Invoice)
	if err != nil {
		if errors.Is(err, ErrUnknownInvoice) {
			log.Info("ignoring event for unknown invoice")
			return true, nil
		}
		return true, err
	}
	if !changed {
		log.Debug("event caused no change")
	}
	return true, nil
}

// applyRemoteState moves the mirror of stripeInvoiceID to target under a row lock.
// A mirror that already reached target, or that cannot legally move there, is left
// alone, which makes replays and late out-of-order events harmless. Work items are
// marked billed when the invoice starts holding them and released when it is voided.
func (s *InvoiceService) applyRemoteState(ctx context.Context, stripeInvoiceID string, target domain.InvoiceStatus, remote *payments.Invoice) (bool, error) {
	log := logger.WithInvoice(s.logger, stripeInvoiceID)

	var mirror *domain.InvoiceMirror
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		mirror, err = s.invoiceRepo.GetByStripeInvoiceID(ctx, tx, stripeInvoiceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownInvoice
			}
			return fmt.Errorf("failed to get invoice: %w", err)
		}

		if remote != nil && (remote.HostedInvoiceURL != "" || remote.FinalizedAt != nil) {
			hosted := remote.HostedInvoiceURL
			due := remoteDueDate(mirror, remote)
			if err := s.invoiceRepo.FillFinalization(ctx, tx, mirror.ID, &hosted, remote.FinalizedAt, due); err != nil {
				return fmt.Errorf("failed to store finalization: %w", err)
			}
		}

		from := mirror.Status
		if from == target {
			return nil
		}
		// A finalized event arriving after payment must not pull the mirror back to open
		if target == domain.InvoiceStatusOpen && from != domain.InvoiceStatusDraft {
			return nil
		}
		if !from.CanTransitionTo(target) {
			log.Warn("ignoring invoice transition",
				zap.String("from", string(from)),
				zap.String("to", string(target)))
			return nil
		}

		ok, err := s.invoiceRepo.TransitionStatus(ctx, tx, mirror.ID, from, target, nil)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if target.HoldsBillables() && !from.HoldsBillables() {
			if err := s.markBillables(ctx, tx, mirror); err != nil {
				return err
			}
		}
		if target == domain.InvoiceStatusVoid {
			if err := s.releaseBillables(ctx, tx, mirror); err != nil {
				return err
			}
		}

		mirror.Status = target
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		log.Info("invoice status changed",
			zap.String("invoice_id", mirror.ID.String()),
			zap.String("status", string(target)))
		if t, ok := statusEvents[target]; ok {
			publish(ctx, s.publisher, s.logger, mirror.QuoteID.String(), invoiceEvent(t, mirror))
		}
	}
	return changed, nil
}

// remoteDueDate is the processor's due date, or finalization plus the days the draft was created with
func remoteDueDate(mirror *domain.InvoiceMirror, remote *payments.Invoice) *time.Time {
	if remote.DueDate != nil {
		return remote.DueDate
	}
	if remote.FinalizedAt != nil && mirror.DaysUntilDue != nil {
		due := remote.FinalizedAt.AddDate(0, 0, *mirror.DaysUntilDue)
		return &due
	}
	return nil
}

func (s *InvoiceService) markBillables(ctx context.Context, tx *gorm.DB, mirror *domain.InvoiceMirror) error {
	quote, err := s.quoteRepo.GetForUpdate(ctx, tx, mirror.QuoteID)
	if err != nil {
		return fmt.Errorf("failed to get quote: %w", err)
	}

	projects, err := s.projectRepo.MarkBilled(ctx, tx, quote.BillableProjectIDs, mirror.ID)
	if err != nil {
		return err
	}
	expenses, err := s.expenseRepo.MarkBilled(ctx, tx, quote.BillableExpenseIDs, mirror.ID)
	if err != nil {
		return err
	}

	if int(projects) < len(quote.BillableProjectIDs) || int(expenses) < len(quote.BillableExpenseIDs) {
		logger.WithInvoice(s.logger, mirror.StripeInvoiceID).Warn("some work items were already billed elsewhere",
			zap.Int("projects_expected", len(quote.BillableProjectIDs)),
			zap.Int64("projects_marked", projects),
			zap.Int("expenses_expected", len(quote.BillableExpenseIDs)),
			zap.Int64("expenses_marked", expenses))
	}
	return nil
}

func (s *InvoiceService) releaseBillables(ctx context.Context, tx *gorm.DB, mirror *domain.InvoiceMirror) error {
	projects, err := s.projectRepo.ReleaseBilled(ctx, tx, mirror.ID)
	if err != nil {
		return err
	}
	expenses, err := s.expenseRepo.ReleaseBilled(ctx, tx, mirror.ID)
	if err != nil {
		return err
	}
	if projects+expenses > 0 {
		logger.WithInvoice(s.logger, mirror.StripeInvoiceID).Info("released work items of voided invoice",
			zap.Int64("projects", projects),
			zap.Int64("expenses", expenses))
	}
	return nil
}

// ReconcileOpenInvoices pulls the current processor status of every mirror that
// can still change and applies any difference. It covers webhooks that never arrived.
func (s *InvoiceService) ReconcileOpenInvoices(ctx context.Context) (int, int, error) {
	mirrors, err := s.invoiceRepo.ListNonTerminal(ctx, reconcileBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list open invoices: %w", err)
	}

	var firstErr error
	checked, changed := 0, 0
	for i := range mirrors {
		if ctx.Err() != nil {
			break
		}
		mirror := &mirrors[i]
		remote, err := s.gateway.GetInvoice(ctx, mirror.StripeInvoiceID)
		if err != nil {
			if firstErr == nil {
				firstErr = externalError("get invoice", err)
			}
			continue
		}
		checked++

		if remote.Status == "" || remote.Status == domain.InvoiceStatusDraft {
			continue
		}
		ok, err := s.applyRemoteState(ctx, mirror.StripeInvoiceID, remote.Status, remote)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			changed++
		}
	}
	return checked, changed, firstErr
}
