package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ProcessFunc runs delivery for one notification id.
type ProcessFunc func(ctx context.Context, notificationID string)

// Trigger fires delivery asynchronously after a notification has been
// durably committed. The caller is never blocked on delivery completion.
type Trigger struct {
	pool    *Pool
	process ProcessFunc
	logger  *zap.Logger
}

func NewTrigger(pool *Pool, process ProcessFunc, logger *zap.Logger) (*Trigger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if process == nil {
		return nil, fmt.Errorf("process function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Trigger{
		pool:    pool,
		process: process,
		logger:  logger,
	}, nil
}

// NotifyCreated must be called only after the creating write is durable.
// A rejected submission is not an error for the caller: the notification
// stays PENDING and the reconciliation sweep picks it up.
func (t *Trigger) NotifyCreated(notificationID string) {
	err := t.pool.Submit(func(ctx context.Context) {
		t.process(ctx, notificationID)
	})
	if err != nil {
		t.logger.Warn("dispatch rejected, deferring to reconciler",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
	}
}
