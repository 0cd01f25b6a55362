package repository

import (
	"time"

	"github.com/scm-platform/notification-service/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Channel      domain.Channel `gorm:"type:varchar(10);not null"`
	Recipient    string         `gorm:"type:varchar(255);not null"`
	Subject      *string        `gorm:"type:varchar(255)"`
	Content      string         `gorm:"type:text;not null"`
	Status       domain.Status  `gorm:"type:varchar(20);not null"`
	RetryCount   int            `gorm:"not null;default:0"`
	ErrorMessage *string        `gorm:"type:text"`
	Version      int64          `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// AuditLogModel is the persistence model for notification_audit_logs.
type AuditLogModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	NotificationID string `gorm:"type:uuid;not null"`
	Status         string `gorm:"type:varchar(30);not null"`
	Details        string `gorm:"type:text"`
	Timestamp      time.Time
}

func (AuditLogModel) TableName() string {
	return "notification_audit_logs"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		Channel:      n.Channel,
		Recipient:    n.Recipient,
		Subject:      n.Subject,
		Content:      n.Content,
		Status:       n.Status,
		RetryCount:   n.RetryCount,
		ErrorMessage: n.ErrorMessage,
		Version:      n.Version,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		Channel:      m.Channel,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		Content:      m.Content,
		Status:       m.Status,
		RetryCount:   m.RetryCount,
		ErrorMessage: m.ErrorMessage,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func auditModelFromDomain(e *domain.AuditLogEntry) *AuditLogModel {
	if e == nil {
		return nil
	}

	return &AuditLogModel{
		ID:             e.ID,
		NotificationID: e.NotificationID,
		Status:         e.Status,
		Details:        e.Details,
		Timestamp:      e.Timestamp,
	}
}

func auditModelToDomain(m *AuditLogModel) *domain.AuditLogEntry {
	if m == nil {
		return nil
	}

	return &domain.AuditLogEntry{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Status:         m.Status,
		Details:        m.Details,
		Timestamp:      m.Timestamp,
	}
}
