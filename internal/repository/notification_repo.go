package repository

import (
	"context"
	"errors"
	"time"

	"github.com/scm-platform/notification-service/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status   *domain.Status
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	// Save writes the full mutable state of a notification guarded by its
	// version: the write succeeds only if the stored version still matches
	// the in-memory one, and bumps it by one. A mismatch returns ErrConflict.
	Save(ctx context.Context, n *domain.Notification) error
	// FindStale returns notifications whose status is in statuses and whose
	// updated_at is older than olderThan, oldest first.
	FindStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error)
	// IncrementRetryCount bumps retry_count (and the version) without
	// touching status; used by the reconciler before resubmission.
	IncrementRetryCount(ctx context.Context, id string) error
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if model != nil && model.Version == 0 {
		model.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return domain.ErrNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND version = ?", n.ID, n.Version).
		Updates(map[string]any{
			"status":        n.Status,
			"retry_count":   n.RetryCount,
			"error_message": n.ErrorMessage,
			"version":       n.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either the row is gone or a concurrent writer moved the version.
		return domain.ErrConflict
	}

	n.Version++
	return nil
}

func (r *GormNotificationRepo) FindStale(
	ctx context.Context,
	statuses []domain.Status,
	olderThan time.Time,
	limit int,
) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (r *GormNotificationRepo) IncrementRetryCount(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}
