package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

type ClientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(ctx context.Context, client *domain.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// Update saves contact details. stripe_customer_id is written only by SetStripeCustomerID.
func (r *ClientRepository) Update(ctx context.Context, client *domain.Client) error {
	return r.db.WithContext(ctx).
		Model(client).
		Select("name", "email", "billing_email", "company", "phone", "notes", "updated_at").
		Updates(client).Error
}

// HasDependents reports whether any project, expense or quote references the client
func (r *ClientRepository) HasDependents(ctx context.Context, id uuid.UUID) (bool, error) {
	db := r.db.WithContext(ctx)
	for _, model := range []interface{}{&domain.Project{}, &domain.Expense{}, &domain.Quote{}} {
		var count int64
		if err := db.Model(model).Where("client_id = ?", id).Limit(1).Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *ClientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Client{}, "id = ?", id).Error
}

func (r *ClientRepository) List(ctx context.Context, page, pageSize int, search string) ([]domain.Client, int64, error) {
	var clients []domain.Client
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Client{})
	if search != "" {
		pattern := likePattern(search)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(company) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern, pattern)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := paginate(query, page, pageSize).Order("name ASC").Find(&clients).Error
	return clients, total, err
}

// Search matches clients by name for chat lookups
func (r *ClientRepository) Search(ctx context.Context, search string, limit int) ([]domain.Client, error) {
	var clients []domain.Client
	err := r.db.WithContext(ctx).
		Where("LOWER(name) LIKE ?", likePattern(search)).
		Order("name ASC").
		Limit(limit).
		Find(&clients).Error
	return clients, err
}

// SetStripeCustomerID stores the processor customer id only if none is stored yet.
// Returns false when another request already set one.
func (r *ClientRepository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Client{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", id).
		Update("stripe_customer_id", customerID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReplaceStripeCustomerID swaps a stale processor customer id for a new one.
// Returns false when the stored id is no longer oldID.
func (r *ClientRepository) ReplaceStripeCustomerID(ctx context.Context, id uuid.UUID, oldID, newID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Client{}).
		Where("id = ? AND stripe_customer_id = ?", id, oldID).
		Update("stripe_customer_id", newID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
