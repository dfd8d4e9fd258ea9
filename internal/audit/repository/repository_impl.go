package repository

import (
	"context"

	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
)

type Repository struct{}

func NewRepository() auditdomain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) List(ctx context.Context, db *gorm.DB, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	stmt := db.WithContext(ctx).
		Model(&auditdomain.AuditLog{}).
		Where("org_id = ?", filter.OrgID)

	if filter.Action != "" {
		stmt = stmt.Where("action = ?", filter.Action)
	}
	if filter.TargetType != "" {
		stmt = stmt.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		stmt = stmt.Where("target_id = ?", filter.TargetID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var entries []*auditdomain.AuditLog
	err := stmt.
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&entries).Error
	return entries, err
}
