package ratelimit

import "context"

// RateLimiter bounds delivery throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// NopLimiter never blocks; used when no Redis is configured.
type NopLimiter struct{}

func (NopLimiter) Allow(ctx context.Context, channel string) (bool, error) { return true, nil }
func (NopLimiter) Wait(ctx context.Context, channel string) error          { return nil }
