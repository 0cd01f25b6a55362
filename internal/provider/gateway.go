package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/scm-platform/notification-service/internal/domain"
)

// Per-call connect/read timeout for gateway requests.
const defaultGatewayTimeout = 5 * time.Second

type smsGatewayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type whatsAppGatewayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type pushGatewayRequest struct {
	DeviceToken string `json:"deviceToken"`
	Title       string `json:"title,omitempty"`
	Body        string `json:"body"`
}

// GatewayProvider delivers notifications for one channel by POSTing a
// JSON payload to a third-party HTTP gateway endpoint.
type GatewayProvider struct {
	client   *resty.Client
	channel  domain.Channel
	endpoint string
}

func NewSMSProvider(endpoint string) (*GatewayProvider, error) {
	return newGatewayProvider(domain.ChannelSMS, endpoint, nil)
}

func NewWhatsAppProvider(endpoint string) (*GatewayProvider, error) {
	return newGatewayProvider(domain.ChannelWhatsApp, endpoint, nil)
}

func NewPushProvider(endpoint string) (*GatewayProvider, error) {
	return newGatewayProvider(domain.ChannelPush, endpoint, nil)
}

// NewGatewayProviderWithClient exists for tests that need to tune the
// underlying client.
func NewGatewayProviderWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*GatewayProvider, error) {
	return newGatewayProvider(channel, endpoint, client)
}

func newGatewayProvider(channel domain.Channel, endpoint string, client *resty.Client) (*GatewayProvider, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}

	if client == nil {
		client = resty.New()
		client.SetTimeout(defaultGatewayTimeout)
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	// Retry policy lives in the delivery engine.
	client.SetRetryCount(0)

	return &GatewayProvider{
		client:   client,
		channel:  channel,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *GatewayProvider) Supports(channel domain.Channel) bool {
	return p != nil && channel == p.channel
}

func (p *GatewayProvider) Send(ctx context.Context, notification domain.Notification) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p.requestBody(notification)).
		Post(p.endpoint)
	if err != nil {
		return &ProviderError{
			Message: fmt.Sprintf("%s gateway request failed", strings.ToLower(p.channel.String())),
			Cause:   err,
		}
	}
	if response == nil {
		return &ProviderError{
			Message: "gateway returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &ProviderError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
	}
}

func (p *GatewayProvider) requestBody(notification domain.Notification) any {
	switch p.channel {
	case domain.ChannelPush:
		req := pushGatewayRequest{
			DeviceToken: notification.Recipient,
			Body:        notification.Content,
		}
		if notification.Subject != nil {
			req.Title = *notification.Subject
		}
		return req
	case domain.ChannelWhatsApp:
		return whatsAppGatewayRequest{
			To:      notification.Recipient,
			Message: notification.Content,
		}
	default:
		return smsGatewayRequest{
			To:      notification.Recipient,
			Message: notification.Content,
		}
	}
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// IsTimeout reports whether a send error was a timeout. Timeouts are
// ordinary delivery failures, not a distinct state.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Cause != nil {
		return errors.Is(providerErr.Cause, context.DeadlineExceeded)
	}
	return false
}
