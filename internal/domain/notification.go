package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is absorbing: once a notification
// reaches SENT or FAILED it is never processed or mutated again.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPush     Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels lists every supported delivery channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush}
}

// MaxContentLength bounds notification content (in characters).
const MaxContentLength = 10000

// Notification is the unit of delivery work.
//
// Version is an optimistic-concurrency guard: every successful write bumps
// it, and a save based on a stale in-memory copy fails with ErrConflict
// instead of overwriting a concurrent transition.
type Notification struct {
	ID           string
	Channel      Channel
	Recipient    string
	Subject      *string
	Content      string
	Status       Status
	RetryCount   int
	ErrorMessage *string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (n *Notification) Validate() error {
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if contentLen := len([]rune(n.Content)); contentLen > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters (got %d)", ErrValidation, MaxContentLength, contentLen)
	}
	return nil
}
