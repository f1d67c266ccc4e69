package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditLogFilter narrows the audit trail. Zero fields match everything.
type AuditLogFilter struct {
	UserID     string
	Action     *domain.AuditAction
	EntityType string
	EntityID   *uuid.UUID
	From       *time.Time
	To         *time.Time
}

// conditions turns the filter into WHERE expressions, ANDed together
func (f *AuditLogFilter) conditions() []clause.Expression {
	if f == nil {
		return nil
	}
	var exprs []clause.Expression
	if f.UserID != "" {
		exprs = append(exprs, clause.Eq{Column: "user_id", Value: f.UserID})
	}
	if f.Action != nil {
		exprs = append(exprs, clause.Eq{Column: "action", Value: *f.Action})
	}
	if f.EntityType != "" {
		exprs = append(exprs, clause.Eq{Column: "entity_type", Value: f.EntityType})
	}
	if f.EntityID != nil {
		exprs = append(exprs, clause.Eq{Column: "entity_id", Value: *f.EntityID})
	}
	if f.From != nil {
		exprs = append(exprs, clause.Gte{Column: "performed_at", Value: *f.From})
	}
	if f.To != nil {
		exprs = append(exprs, clause.Lte{Column: "performed_at", Value: *f.To})
	}
	return exprs
}

// AuditLogRepository is the append-only store behind the audit trail
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Append records one entry. Passing tx ties the entry to the change it describes.
func (r *AuditLogRepository) Append(ctx context.Context, tx *gorm.DB, entry *domain.AuditLog) error {
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	return conn(ctx, r.db, tx).Create(entry).Error
}

// List returns one page of matching entries, newest first, and the total match count
func (r *AuditLogRepository) List(ctx context.Context, filter *AuditLogFilter, page, pageSize int) ([]domain.AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.AuditLog{})
	if exprs := filter.conditions(); len(exprs) > 0 {
		query = query.Clauses(clause.Where{Exprs: exprs})
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AuditLog{}, 0, nil
	}

	var entries []domain.AuditLog
	err := paginate(query, page, pageSize).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "performed_at"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Find(&entries).Error
	return entries, total, err
}
