package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

// InvoiceFilter narrows invoice listings
type InvoiceFilter struct {
	ClientID *uuid.UUID
	Status   *domain.InvoiceStatus
}

// InvoiceRepository stores the local mirrors of processor invoices
type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, mirror *domain.InvoiceMirror) error {
	return conn(ctx, r.db, tx).Create(mirror).Error
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InvoiceMirror, error) {
	var mirror domain.InvoiceMirror
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&mirror).Error
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

func (r *InvoiceRepository) GetByQuoteID(ctx context.Context, tx *gorm.DB, quoteID uuid.UUID) (*domain.InvoiceMirror, error) {
	var mirror domain.InvoiceMirror
	err := conn(ctx, r.db, tx).Where("quote_id = ?", quoteID).First(&mirror).Error
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

// GetByStripeInvoiceID loads the mirror for a processor invoice, locking it inside tx where supported
func (r *InvoiceRepository) GetByStripeInvoiceID(ctx context.Context, tx *gorm.DB, stripeInvoiceID string) (*domain.InvoiceMirror, error) {
	var mirror domain.InvoiceMirror
	db := conn(ctx, r.db, tx)
	if tx != nil {
		db = database.ForUpdate(db)
	}
	err := db.Where("stripe_invoice_id = ?", stripeInvoiceID).First(&mirror).Error
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

// GetForUpdate loads a mirror by id inside tx, locking it where supported
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.InvoiceMirror, error) {
	var mirror domain.InvoiceMirror
	db := conn(ctx, r.db, tx)
	err := database.ForUpdate(db).Where("id = ?", id).First(&mirror).Error
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

// TransitionStatus applies a status change guarded by the current status.
// Extra columns in fields are written in the same statement. Returns false when
// the mirror was no longer in the expected status.
func (r *InvoiceRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to domain.InvoiceStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := conn(ctx, r.db, tx).
		Model(&domain.InvoiceMirror{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update invoice status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FillFinalization stores the hosted URL, finalized time and due date when they are still missing
func (r *InvoiceRepository) FillFinalization(ctx context.Context, tx *gorm.DB, id uuid.UUID, hostedURL *string, finalizedAt, dueDate *time.Time) error {
	updates := map[string]interface{}{}
	if hostedURL != nil && *hostedURL != "" {
		updates["hosted_invoice_url"] = gorm.Expr("COALESCE(NULLIF(hosted_invoice_url, ''), ?)", *hostedURL)
	}
	if finalizedAt != nil {
		updates["finalized_at"] = gorm.Expr("COALESCE(finalized_at, ?)", *finalizedAt)
	}
	if dueDate != nil {
		updates["due_date"] = gorm.Expr("COALESCE(due_date, ?)", *dueDate)
	}
	if len(updates) == 0 {
		return nil
	}
	return conn(ctx, r.db, tx).
		Model(&domain.InvoiceMirror{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkEmailSent records the delivery only if no delivery was recorded before.
// Returns false when a concurrent send already claimed the mirror.
func (r *InvoiceRepository) MarkEmailSent(ctx context.Context, id uuid.UUID, recipient string, sentAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.InvoiceMirror{}).
		Where("id = ? AND email_sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"email_sent_at":   sentAt,
			"email_recipient": recipient,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to record email delivery: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *InvoiceRepository) List(ctx context.Context, page, pageSize int, filter *InvoiceFilter) ([]domain.InvoiceMirror, int64, error) {
	var mirrors []domain.InvoiceMirror
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.InvoiceMirror{})
	if filter != nil {
		if filter.ClientID != nil {
			query = query.Where("client_id = ?", *filter.ClientID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := paginate(query, page, pageSize).Order("created_at DESC").Find(&mirrors).Error
	return mirrors, total, err
}

// ListNonTerminal returns mirrors whose status can still change, oldest first
func (r *InvoiceRepository) ListNonTerminal(ctx context.Context, limit int) ([]domain.InvoiceMirror, error) {
	var mirrors []domain.InvoiceMirror
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.InvoiceStatus{
			domain.InvoiceStatusDraft,
			domain.InvoiceStatusOpen,
			domain.InvoiceStatusUncollectible,
		}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&mirrors).Error
	return mirrors, err
}
