package provider

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/scm-platform/notification-service/internal/domain"
)

const defaultEmailSubject = "You have a new notification"

// emailBodyTemplate is the base HTML wrapper applied to every outgoing email.
const emailBodyTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333333;">
  <h2>{{.Subject}}</h2>
  <div>{{.Content}}</div>
  <hr>
  <p style="font-size: 12px; color: #888888;">
    {{.CompanyName}} &middot; {{.Year}}
  </p>
</body>
</html>`

type emailTemplateData struct {
	Subject     string
	Content     string
	CompanyName string
	Year        int
}

// PostmarkSender is the subset of the Postmark client used to send email.
type PostmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailProvider delivers EMAIL notifications through Postmark's
// transactional API, wrapping the content in the base HTML template.
type EmailProvider struct {
	sender      PostmarkSender
	fromEmail   string
	companyName string
	template    *template.Template
	now         func() time.Time
}

func NewEmailProvider(serverToken, accountToken, fromEmail, companyName string) (*EmailProvider, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	return NewEmailProviderWithSender(postmark.NewClient(serverToken, accountToken), fromEmail, companyName)
}

func NewEmailProviderWithSender(sender PostmarkSender, fromEmail, companyName string) (*EmailProvider, error) {
	if sender == nil {
		return nil, fmt.Errorf("postmark sender is required")
	}
	fromEmail = strings.TrimSpace(fromEmail)
	if fromEmail == "" {
		return nil, fmt.Errorf("sender email is required")
	}
	companyName = strings.TrimSpace(companyName)
	if companyName == "" {
		companyName = "Notification Service"
	}

	tmpl, err := template.New("email_body").Parse(emailBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}

	return &EmailProvider{
		sender:      sender,
		fromEmail:   fromEmail,
		companyName: companyName,
		template:    tmpl,
		now:         time.Now,
	}, nil
}

func (p *EmailProvider) Supports(channel domain.Channel) bool {
	return channel == domain.ChannelEmail
}

func (p *EmailProvider) Send(ctx context.Context, notification domain.Notification) error {
	if p == nil || p.sender == nil {
		return fmt.Errorf("provider is not initialized")
	}

	subject := defaultEmailSubject
	if notification.Subject != nil && strings.TrimSpace(*notification.Subject) != "" {
		subject = strings.TrimSpace(*notification.Subject)
	}

	var body bytes.Buffer
	err := p.template.Execute(&body, emailTemplateData{
		Subject:     subject,
		Content:     notification.Content,
		CompanyName: p.companyName,
		Year:        p.now().Year(),
	})
	if err != nil {
		return &ProviderError{
			Message: "failed to render email body",
			Cause:   err,
		}
	}

	resp, err := p.sender.SendEmail(ctx, postmark.Email{
		From:     p.fromEmail,
		To:       notification.Recipient,
		Subject:  subject,
		HTMLBody: body.String(),
	})
	if err != nil {
		return &ProviderError{
			Message: "email send failed",
			Cause:   err,
		}
	}
	if resp.ErrorCode > 0 {
		return &ProviderError{
			StatusCode: int(resp.ErrorCode),
			Message:    fmt.Sprintf("postmark rejected message: %s", resp.Message),
		}
	}

	return nil
}
