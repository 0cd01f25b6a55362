package provider

import (
	"context"

	"github.com/scm-platform/notification-service/internal/domain"
)

// Provider is the outbound delivery port for one channel.
type Provider interface {
	Supports(channel domain.Channel) bool
	Send(ctx context.Context, notification domain.Notification) error
}
