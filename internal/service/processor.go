package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scm-platform/notification-service/internal/domain"
	"github.com/scm-platform/notification-service/internal/observability"
	"github.com/scm-platform/notification-service/internal/provider"
	"github.com/scm-platform/notification-service/internal/ratelimit"
	"github.com/scm-platform/notification-service/internal/repository"
	"go.uber.org/zap"
)

const (
	// MaxRetries bounds delivery attempts: once RetryCount reaches this
	// value a failed attempt moves the notification to FAILED.
	MaxRetries = 3

	defaultSendTimeout = 5 * time.Second
)

// ProviderResolver resolves the delivery capability for a channel.
type ProviderResolver interface {
	Resolve(channel domain.Channel) (provider.Provider, error)
}

// Processor is the delivery engine. It owns every status transition of a
// notification: PENDING -> IN_PROGRESS -> SENT, or back to PENDING on a
// retryable failure, or FAILED once retries are exhausted.
type Processor struct {
	notifications repository.NotificationRepository
	audits        repository.AuditLogRepository
	providers     ProviderResolver
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	sendTimeout   time.Duration
	now           func() time.Time
}

func NewProcessor(
	notifications repository.NotificationRepository,
	audits repository.AuditLogRepository,
	providers ProviderResolver,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Processor, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit log repository is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.NopLimiter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		notifications: notifications,
		audits:        audits,
		providers:     providers,
		rateLimiter:   rateLimiter,
		logger:        logger,
		sendTimeout:   defaultSendTimeout,
		now:           time.Now,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process runs one delivery attempt for a notification.
//
// A missing row is a silent no-op (retention may have removed it). A
// terminal row returns immediately, which makes duplicate triggers from the
// dispatch path and the reconciler path harmless. The IN_PROGRESS
// checkpoint is written durably before the provider is invoked, so a crash
// mid-delivery leaves the row observably IN_PROGRESS for the reconciler.
// Delivery failures never propagate to the caller; they become a state
// transition plus an audit entry.
func (p *Processor) Process(ctx context.Context, notificationID string) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification, err := p.notifications.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		p.logger.Error("failed to load notification",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
		return
	}

	if notification.Status.IsTerminal() {
		return
	}

	channelName := strings.ToLower(notification.Channel.String())
	if p.metrics != nil {
		p.metrics.IncDeliveryInFlight(channelName)
		defer p.metrics.DecDeliveryInFlight(channelName)
	}

	// Crash-safety checkpoint: the IN_PROGRESS write must be durable before
	// the provider call begins. The version guard also elects a single
	// winner when two workers race on the same PENDING row.
	notification.Status = domain.StatusInProgress
	if err := p.notifications.Save(ctx, notification); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent writer moved this row; the next reconciliation
			// sweep re-evaluates it if anything is left to do.
			p.logger.Info("concurrent update detected, aborting delivery attempt",
				zap.String("notificationId", notification.ID),
			)
			return
		}
		p.logger.Error("failed to checkpoint notification as in progress",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return
	}

	if err := p.rateLimiter.Wait(ctx, channelName); err != nil {
		p.handleFailure(ctx, notification, fmt.Sprintf("rate limiter wait failed: %v", err))
		return
	}

	sendErr := p.send(ctx, notification)
	if sendErr == nil {
		p.handleSuccess(ctx, notification)
		return
	}

	if provider.IsTimeout(sendErr) {
		p.logger.Warn("provider call timed out",
			zap.String("notificationId", notification.ID),
			zap.String("channel", channelName),
		)
	}
	p.handleFailure(ctx, notification, sendErr.Error())
}

func (p *Processor) send(ctx context.Context, notification *domain.Notification) error {
	resolved, err := p.providers.Resolve(notification.Channel)
	if err != nil {
		// A missing provider is operationally equivalent to an unreachable
		// endpoint: it takes the regular failure path and consumes a retry.
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	start := p.now()
	sendErr := resolved.Send(sendCtx, *notification)
	if p.metrics != nil {
		p.metrics.ObserveSendDuration(strings.ToLower(notification.Channel.String()), p.now().Sub(start))
	}
	return sendErr
}

func (p *Processor) handleSuccess(ctx context.Context, notification *domain.Notification) {
	notification.Status = domain.StatusSent
	notification.ErrorMessage = nil

	if err := p.notifications.Save(ctx, notification); err != nil {
		p.logger.Error("failed to mark notification as sent",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return
	}

	p.appendAudit(ctx, notification.ID, domain.AuditSent,
		fmt.Sprintf("Successfully sent via %s", notification.Channel))

	if p.metrics != nil {
		p.metrics.IncNotificationSent(strings.ToLower(notification.Channel.String()))
	}
}

func (p *Processor) handleFailure(ctx context.Context, notification *domain.Notification, reason string) {
	notification.ErrorMessage = &reason

	exhausted := notification.RetryCount >= MaxRetries
	if exhausted {
		notification.Status = domain.StatusFailed
	} else {
		notification.Status = domain.StatusPending
	}

	if err := p.notifications.Save(ctx, notification); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			p.logger.Info("concurrent update detected while recording failure",
				zap.String("notificationId", notification.ID),
			)
			return
		}
		p.logger.Error("failed to record delivery failure",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return
	}

	if exhausted {
		p.appendAudit(ctx, notification.ID, domain.AuditFailed,
			fmt.Sprintf("Max retries reached. Error: %s", reason))
		if p.metrics != nil {
			p.metrics.IncNotificationFailed(strings.ToLower(notification.Channel.String()))
		}
		return
	}

	p.appendAudit(ctx, notification.ID, domain.AuditAttemptFailed,
		fmt.Sprintf("Failed: %s. Will retry.", reason))
}

func (p *Processor) appendAudit(ctx context.Context, notificationID, status, details string) {
	entry := &domain.AuditLogEntry{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		Status:         status,
		Details:        details,
		Timestamp:      p.now().UTC(),
	}

	if err := p.audits.Append(ctx, entry); err != nil {
		p.logger.Error("failed to append audit entry",
			zap.String("notificationId", notificationID),
			zap.String("auditStatus", status),
			zap.Error(err),
		)
	}
}
