package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

// QuoteFilter narrows quote listings
type QuoteFilter struct {
	ClientID *uuid.UUID
	Status   *domain.QuoteStatus
}

type QuoteRepository struct {
	db *gorm.DB
}

func NewQuoteRepository(db *gorm.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

func (r *QuoteRepository) Create(ctx context.Context, tx *gorm.DB, quote *domain.Quote) error {
	return conn(ctx, r.db, tx).Create(quote).Error
}

func (r *QuoteRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetForUpdate loads a quote inside tx, locking the row where supported
func (r *QuoteRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	db := conn(ctx, r.db, tx)
	err := database.ForUpdate(db).Where("id = ?", id).First(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// UpdateProposed saves the quote only while it is still proposed.
// Returns gorm.ErrRecordNotFound if the quote moved on concurrently.
func (r *QuoteRepository) UpdateProposed(ctx context.Context, tx *gorm.DB, quote *domain.Quote) error {
	result := conn(ctx, r.db, tx).
		Model(quote).
		Where("status = ?", domain.QuoteStatusProposed).
		Select("lines", "subtotal", "discount", "total", "due_date", "net_terms_days",
			"client_memo", "internal_memo", "billable_project_ids", "billable_expense_ids", "updated_at").
		Updates(quote)
	if result.Error != nil {
		return fmt.Errorf("failed to update quote: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransitionStatus moves a quote from one status to another with a compare-and-swap.
// Returns false if the quote was not in the expected status.
func (r *QuoteRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to domain.QuoteStatus) (bool, error) {
	result := conn(ctx, r.db, tx).
		Model(&domain.Quote{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update quote status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *QuoteRepository) List(ctx context.Context, page, pageSize int, filter *QuoteFilter) ([]domain.Quote, int64, error) {
	var quotes []domain.Quote
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Quote{})
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

	err := paginate(query, page, pageSize).Order("created_at DESC").Find(&quotes).Error
	return quotes, total, err
}

// LatestForClient returns the most recent quote of a client, used by chat status lookups
func (r *QuoteRepository) LatestForClient(ctx context.Context, clientID uuid.UUID) (*domain.Quote, error) {
	var quote domain.Quote
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		First(&quote).Error
	if err != nil {
		return nil, err
	}
	return &quote, nil
}
