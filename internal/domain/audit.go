package domain

import "time"

// Audit status labels, one per significant lifecycle event.
const (
	AuditReceived      = "RECEIVED"
	AuditSent          = "SENT"
	AuditAttemptFailed = "ATTEMPT_FAILED"
	AuditRetrying      = "RETRYING"
	AuditFailed        = "FAILED"
)

// AuditLogEntry is an immutable record of one lifecycle event for a
// notification. Entries are append-only; ordering by timestamp reconstructs
// the full delivery history.
type AuditLogEntry struct {
	ID             string
	NotificationID string
	Status         string
	Details        string
	Timestamp      time.Time
}
