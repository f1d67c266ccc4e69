package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

// ProjectFilter narrows project listings
type ProjectFilter struct {
	ClientID      *uuid.UUID
	Status        *domain.ProjectStatus
	BillingStatus *domain.BillingStatus
}

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project *domain.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Update saves editable columns. Billing columns are owned by the billing flow and never written here.
func (r *ProjectRepository) Update(ctx context.Context, project *domain.Project) error {
	return r.db.WithContext(ctx).
		Model(project).
		Select("name", "description", "project_type", "status", "budget", "completed_at", "updated_at").
		Updates(project).Error
}

func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Project{}, "id = ?", id).Error
}

func (r *ProjectRepository) List(ctx context.Context, page, pageSize int, filter *ProjectFilter) ([]domain.Project, int64, error) {
	var projects []domain.Project
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Project{})
	if filter != nil {
		if filter.ClientID != nil {
			query = query.Where("client_id = ?", *filter.ClientID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.BillingStatus != nil {
			query = query.Where("billing_status = ?", *filter.BillingStatus)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := paginate(query, page, pageSize).Order("created_at DESC").Find(&projects).Error
	return projects, total, err
}

// ListBillable returns completed, unbilled projects for a client
func (r *ProjectRepository) ListBillable(ctx context.Context, clientID uuid.UUID) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status = ? AND billing_status = ?",
			clientID, domain.ProjectStatusCompleted, domain.BillingStatusUnbilled).
		Order("completed_at ASC, created_at ASC").
		Find(&projects).Error
	return projects, err
}

// GetByIDs loads the given projects, locking the rows when tx supports it
func (r *ProjectRepository) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]domain.Project, error) {
	var projects []domain.Project
	if len(ids) == 0 {
		return projects, nil
	}
	db := conn(ctx, r.db, tx)
	err := database.ForUpdate(db).Where("id IN ?", ids).Find(&projects).Error
	return projects, err
}

// MarkBilled flips unbilled projects to billed under invoiceID. Rows already billed under the
// same invoice count as done, which keeps repeated finalize/webhook handling idempotent.
func (r *ProjectRepository) MarkBilled(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := conn(ctx, r.db, tx).
		Model(&domain.Project{}).
		Where("id IN ? AND (billing_status = ? OR billed_invoice_id = ?)", ids, domain.BillingStatusUnbilled, invoiceID).
		Updates(map[string]interface{}{
			"billing_status":    domain.BillingStatusBilled,
			"billed_invoice_id": invoiceID,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark projects billed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReleaseBilled resets every project billed under invoiceID back to unbilled
func (r *ProjectRepository) ReleaseBilled(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (int64, error) {
	result := conn(ctx, r.db, tx).
		Model(&domain.Project{}).
		Where("billed_invoice_id = ?", invoiceID).
		Updates(map[string]interface{}{
			"billing_status":    domain.BillingStatusUnbilled,
			"billed_invoice_id": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release billed projects: %w", result.Error)
	}
	return result.RowsAffected, nil
}
