package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scm-platform/notification-service/internal/dispatch"
	"github.com/scm-platform/notification-service/internal/domain"
	"github.com/scm-platform/notification-service/internal/observability"
	"github.com/scm-platform/notification-service/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval      = 60 * time.Second
	defaultStalenessThreshold = 10 * time.Minute
	defaultSweepLimit         = 100
)

// TaskSubmitter accepts asynchronous work; a rejection falls back to
// synchronous processing within the sweep.
type TaskSubmitter interface {
	Submit(task dispatch.Task) error
}

// Reconciler periodically finds notifications stuck in a non-terminal state
// past the staleness threshold and resubmits them for delivery.
//
// A stale PENDING row means the dispatch trigger was lost or rejected; a
// stale IN_PROGRESS row means a worker crashed after the checkpoint write.
// Both are recovered the same way, relying on the engine's terminal-state
// guard to keep resubmission idempotent.
type Reconciler struct {
	notifications repository.NotificationRepository
	audits        repository.AuditLogRepository
	processor     *Processor
	pool          TaskSubmitter
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	staleness     time.Duration
	limit         int
	now           func() time.Time
}

func NewReconciler(
	notifications repository.NotificationRepository,
	audits repository.AuditLogRepository,
	processor *Processor,
	pool TaskSubmitter,
	interval time.Duration,
	staleness time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit log repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleness <= 0 {
		staleness = defaultStalenessThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		notifications: notifications,
		audits:        audits,
		processor:     processor,
		pool:          pool,
		logger:        logger,
		interval:      interval,
		staleness:     staleness,
		limit:         defaultSweepLimit,
		now:           time.Now,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Start runs sweeps until the context is canceled. The first sweep runs
// immediately so rows left behind by a previous crash are picked up at
// startup rather than a full interval later. Sweeps execute sequentially
// on the ticker loop, so a slow sweep can never overlap the next one.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if stopped := r.runSweep(ctx); stopped {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if stopped := r.runSweep(ctx); stopped {
				return nil
			}
		}
	}
}

func (r *Reconciler) runSweep(ctx context.Context) (stopped bool) {
	if err := r.sweep(ctx); err != nil {
		if ctx.Err() != nil {
			return true
		}
		r.logger.Error("reconciliation sweep failed", zap.Error(err))
	}
	return false
}

func (r *Reconciler) sweep(ctx context.Context) error {
	olderThan := r.now().Add(-r.staleness)
	statuses := []domain.Status{domain.StatusPending, domain.StatusInProgress}

	stuck, err := r.notifications.FindStale(ctx, statuses, olderThan, r.limit)
	if err != nil {
		return fmt.Errorf("failed to query stuck notifications: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.Info("found stuck notifications to retry", zap.Int("count", len(stuck)))

	for i := range stuck {
		if ctx.Err() != nil {
			return nil
		}
		// One row's failure must not abort the sweep for the rest.
		r.resubmit(ctx, &stuck[i])
	}

	return nil
}

func (r *Reconciler) resubmit(ctx context.Context, notification *domain.Notification) {
	if err := r.notifications.IncrementRetryCount(ctx, notification.ID); err != nil {
		r.logger.Error("failed to increment retry count",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return
	}

	r.appendAudit(ctx, notification.ID,
		fmt.Sprintf("Retry attempt %d", notification.RetryCount+1))

	if r.metrics != nil {
		r.metrics.IncReconciled()
	}

	if r.pool != nil {
		err := r.pool.Submit(func(taskCtx context.Context) {
			r.processor.Process(taskCtx, notification.ID)
		})
		if err == nil {
			return
		}
		r.logger.Warn("dispatch pool rejected resubmission, processing inline",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
	}

	r.processor.Process(ctx, notification.ID)
}

func (r *Reconciler) appendAudit(ctx context.Context, notificationID, details string) {
	entry := &domain.AuditLogEntry{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		Status:         domain.AuditRetrying,
		Details:        details,
		Timestamp:      r.now().UTC(),
	}

	if err := r.audits.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append audit entry",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
	}
}
