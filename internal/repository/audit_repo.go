package repository

import (
	"context"

	"github.com/scm-platform/notification-service/internal/domain"
	"gorm.io/gorm"
)

// AuditLogRepository is append-only: entries are never updated or deleted.
type AuditLogRepository interface {
	Append(ctx context.Context, e *domain.AuditLogEntry) error
	GetByNotificationID(ctx context.Context, notificationID string) ([]domain.AuditLogEntry, error)
}

type GormAuditLogRepo struct {
	db *gorm.DB
}

func NewGormAuditLogRepo(db *gorm.DB) *GormAuditLogRepo {
	return &GormAuditLogRepo{db: db}
}

func (r *GormAuditLogRepo) Append(ctx context.Context, e *domain.AuditLogEntry) error {
	model := auditModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *auditModelToDomain(model)
	}
	return nil
}

func (r *GormAuditLogRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.AuditLogEntry, error) {
	var models []AuditLogModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *auditModelToDomain(&models[i]))
	}

	return entries, nil
}
