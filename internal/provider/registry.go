package provider

import (
	"errors"
	"fmt"

	"github.com/scm-platform/notification-service/internal/domain"
)

// ErrNoProvider marks a channel with no registered delivery capability.
var ErrNoProvider = errors.New("no provider found")

// Registry maps each channel to exactly one provider. Uniqueness is enforced
// at registration time; resolution is a direct map lookup.
type Registry struct {
	providers map[domain.Channel]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.Channel]Provider)}
}

// Register binds a provider to every channel it supports.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is required")
	}

	registered := 0
	for _, channel := range domain.Channels() {
		if !p.Supports(channel) {
			continue
		}
		if existing, ok := r.providers[channel]; ok && existing != nil {
			return fmt.Errorf("provider already registered for channel %s", channel)
		}
		r.providers[channel] = p
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("provider supports no known channel")
	}
	return nil
}

// Resolve returns the provider for a channel or an ErrNoProvider failure.
func (r *Registry) Resolve(channel domain.Channel) (Provider, error) {
	p, ok := r.providers[channel]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w for channel: %s", ErrNoProvider, channel)
	}
	return p, nil
}
