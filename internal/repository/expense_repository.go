package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

// ExpenseFilter narrows expense listings
type ExpenseFilter struct {
	ClientID      *uuid.UUID
	ProjectID     *uuid.UUID
	BillingStatus *domain.BillingStatus
}

type ExpenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Create(ctx context.Context, expense *domain.Expense) error {
	return r.db.WithContext(ctx).Create(expense).Error
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Expense, error) {
	var expense domain.Expense
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&expense).Error
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

// Update saves editable columns and leaves billing columns alone
func (r *ExpenseRepository) Update(ctx context.Context, expense *domain.Expense) error {
	return r.db.WithContext(ctx).
		Model(expense).
		Select("project_id", "description", "vendor", "category", "amount", "incurred_on", "pass_through", "markup_percent", "updated_at").
		Updates(expense).Error
}

func (r *ExpenseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Expense{}, "id = ?", id).Error
}

func (r *ExpenseRepository) List(ctx context.Context, page, pageSize int, filter *ExpenseFilter) ([]domain.Expense, int64, error) {
	var expenses []domain.Expense
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Expense{})
	if filter != nil {
		if filter.ClientID != nil {
			query = query.Where("client_id = ?", *filter.ClientID)
		}
		if filter.ProjectID != nil {
			query = query.Where("project_id = ?", *filter.ProjectID)
		}
		if filter.BillingStatus != nil {
			query = query.Where("billing_status = ?", *filter.BillingStatus)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := paginate(query, page, pageSize).Order("incurred_on DESC").Find(&expenses).Error
	return expenses, total, err
}

// ListBillable returns all unbilled expenses for a client, with or without a project
func (r *ExpenseRepository) ListBillable(ctx context.Context, clientID uuid.UUID) ([]domain.Expense, error) {
	var expenses []domain.Expense
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND billing_status = ?", clientID, domain.BillingStatusUnbilled).
		Order("incurred_on ASC, created_at ASC").
		Find(&expenses).Error
	return expenses, err
}

// GetByIDs loads the given expenses, locking the rows when tx supports it
func (r *ExpenseRepository) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]domain.Expense, error) {
	var expenses []domain.Expense
	if len(ids) == 0 {
		return expenses, nil
	}
	db := conn(ctx, r.db, tx)
	err := database.ForUpdate(db).Where("id IN ?", ids).Find(&expenses).Error
	return expenses, err
}

// MarkBilled flips unbilled expenses to billed under invoiceID
func (r *ExpenseRepository) MarkBilled(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := conn(ctx, r.db, tx).
		Model(&domain.Expense{}).
		Where("id IN ? AND (billing_status = ? OR billed_invoice_id = ?)", ids, domain.BillingStatusUnbilled, invoiceID).
		Updates(map[string]interface{}{
			"billing_status":    domain.BillingStatusBilled,
			"billed_invoice_id": invoiceID,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark expenses billed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReleaseBilled resets every expense billed under invoiceID back to unbilled
func (r *ExpenseRepository) ReleaseBilled(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (int64, error) {
	result := conn(ctx, r.db, tx).
		Model(&domain.Expense{}).
		Where("billed_invoice_id = ?", invoiceID).
		Updates(map[string]interface{}{
			"billing_status":    domain.BillingStatusUnbilled,
			"billed_invoice_id": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release billed expenses: %w", result.Error)
	}
	return result.RowsAffected, nil
}
