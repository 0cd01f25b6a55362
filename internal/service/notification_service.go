package service

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scm-platform/notification-service/internal/domain"
	"github.com/scm-platform/notification-service/internal/repository"
	"go.uber.org/zap"
)

// Dispatcher fires asynchronous delivery after a durable commit.
type Dispatcher interface {
	NotifyCreated(notificationID string)
}

// TriggerRequest is the intake payload for a single notification.
type TriggerRequest struct {
	Channel   domain.Channel
	Recipient string
	Subject   *string
	Content   string
}

// TriggerResponse is returned to the intake caller on successful enqueue.
type TriggerResponse struct {
	ID      string
	Status  string
	Message string
}

// E.164-like: optional +, 8 to 15 digits.
var phoneRegexp = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

type NotificationService struct {
	notifications repository.NotificationRepository
	audits        repository.AuditLogRepository
	dispatcher    Dispatcher
	logger        *zap.Logger
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	audits repository.AuditLogRepository,
	dispatcher Dispatcher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit log repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		audits:        audits,
		dispatcher:    dispatcher,
		logger:        logger,
	}, nil
}

// Trigger accepts a delivery request, persists it as PENDING, and fires the
// dispatch trigger once the write is durable. Delivery outcome is never
// reported synchronously; the caller observes it via the status query or
// the audit trail.
func (s *NotificationService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification := domain.Notification{
		ID:         uuid.NewString(),
		Channel:    req.Channel,
		Recipient:  strings.TrimSpace(req.Recipient),
		Subject:    normalizeOptionalString(req.Subject),
		Content:    strings.TrimSpace(req.Content),
		Status:     domain.StatusPending,
		RetryCount: 0,
	}

	if err := notification.Validate(); err != nil {
		return nil, err
	}
	if err := validateRecipient(notification.Channel, notification.Recipient); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, &notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	s.appendAudit(ctx, notification.ID, domain.AuditReceived, "Notification request accepted")

	// The create has committed; the trigger never blocks on delivery.
	s.dispatcher.NotifyCreated(notification.ID)

	return &TriggerResponse{
		ID:      notification.ID,
		Status:  "QUEUED",
		Message: "Notification queued for delivery",
	}, nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

// GetAuditTrail returns the full history of a notification, oldest first.
func (s *NotificationService) GetAuditTrail(ctx context.Context, id string) ([]domain.AuditLogEntry, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	if _, err := s.notifications.GetByID(ctx, trimmed); err != nil {
		return nil, err
	}

	return s.audits.GetByNotificationID(ctx, trimmed)
}

func (s *NotificationService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *NotificationService) appendAudit(ctx context.Context, notificationID, status, details string) {
	entry := &domain.AuditLogEntry{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		Status:         status,
		Details:        details,
		Timestamp:      time.Now().UTC(),
	}

	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("notificationId", notificationID),
			zap.String("auditStatus", status),
			zap.Error(err),
		)
	}
}

// validateRecipient enforces the channel-dependent recipient format at the
// intake boundary; the delivery engine assumes well-formed input.
func validateRecipient(channel domain.Channel, recipient string) error {
	switch channel {
	case domain.ChannelEmail:
		if _, err := mail.ParseAddress(recipient); err != nil {
			return fmt.Errorf("%w: invalid email address %q", domain.ErrValidation, recipient)
		}
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		if !phoneRegexp.MatchString(recipient) {
			return fmt.Errorf("%w: invalid phone number %q", domain.ErrValidation, recipient)
		}
	case domain.ChannelPush:
		// Device tokens are opaque; presence is checked by Validate.
	}
	return nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
