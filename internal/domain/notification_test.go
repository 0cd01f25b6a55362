package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestStatusIsValid(t *testing.T) {
	t.Parallel()

	valid := []Status{StatusPending, StatusInProgress, StatusSent, StatusFailed}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("Status(%q).IsValid() = false, want true", s)
		}
	}

	if Status("QUEUED").IsValid() {
		t.Error("Status(QUEUED).IsValid() = true, want false")
	}
	if Status("").IsValid() {
		t.Error("empty status should be invalid")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusInProgress, false},
		{StatusSent, true},
		{StatusFailed, true},
	}

	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.want {
			t.Errorf("Status(%q).IsTerminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseStatusFromString("  in_progress ")
	if err != nil {
		t.Fatalf("ParseStatusFromString() error = %v", err)
	}
	if got != StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got)
	}

	_, err = ParseStatusFromString("UNKNOWN")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  Channel
	}{
		{"email", ChannelEmail},
		{"SMS", ChannelSMS},
		{" whatsapp ", ChannelWhatsApp},
		{"Push", ChannelPush},
	}

	for _, tc := range cases {
		got, err := ParseChannelFromString(tc.input)
		if err != nil {
			t.Fatalf("ParseChannelFromString(%q) error = %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseChannelFromString(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}

	_, err := ParseChannelFromString("fax")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{
		Channel:   ChannelEmail,
		Recipient: "user@example.com",
		Content:   "hello",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	cases := []struct {
		name   string
		mutate func(n *Notification)
	}{
		{"missing recipient", func(n *Notification) { n.Recipient = "" }},
		{"missing content", func(n *Notification) { n.Content = "" }},
		{"invalid channel", func(n *Notification) { n.Channel = Channel("FAX") }},
		{"content too long", func(n *Notification) { n.Content = strings.Repeat("x", MaxContentLength+1) }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := valid
			tc.mutate(&n)
			if err := n.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}
