package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scm-platform/notification-service/internal/dispatch"
	"github.com/scm-platform/notification-service/internal/domain"
	"github.com/scm-platform/notification-service/internal/provider"
)

func newTestProcessor(t *testing.T, repo *fakeNotificationRepo, audits *fakeAuditLogRepo) *Processor {
	t.Helper()

	p, err := NewProcessor(repo, audits, &fakeProviderResolver{
		resolveFn: func(channel domain.Channel) (provider.Provider, error) {
			return &fakeProvider{}, nil
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return p
}

func TestReconcilerSweepQueriesStaleStatuses(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	queried := false
	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			queried = true
			if len(statuses) != 2 {
				t.Fatalf("statuses = %v, want PENDING and IN_PROGRESS", statuses)
			}
			if statuses[0] != domain.StatusPending || statuses[1] != domain.StatusInProgress {
				t.Fatalf("statuses = %v, want [PENDING IN_PROGRESS]", statuses)
			}
			if want := base.Add(-10 * time.Minute); !olderThan.Equal(want) {
				t.Fatalf("olderThan = %v, want %v", olderThan, want)
			}
			if limit != defaultSweepLimit {
				t.Fatalf("limit = %d, want %d", limit, defaultSweepLimit)
			}
			return nil, nil
		},
	}
	audits := &fakeAuditLogRepo{}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), nil, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	r.now = func() time.Time { return base }

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if !queried {
		t.Fatal("expected FindStale to be queried")
	}
}

func TestReconcilerResubmitBumpsRetryAndAudits(t *testing.T) {
	t.Parallel()

	stale := domain.Notification{
		ID:         "n-stuck",
		Channel:    domain.ChannelEmail,
		Recipient:  "user@example.com",
		Content:    "hello",
		Status:     domain.StatusInProgress,
		RetryCount: 1,
		Version:    4,
	}

	incremented := false
	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			return []domain.Notification{stale}, nil
		},
		incrementRetryCountFn: func(ctx context.Context, id string) error {
			if id != stale.ID {
				t.Fatalf("increment id = %s, want %s", id, stale.ID)
			}
			incremented = true
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			copied := stale
			copied.RetryCount++
			copied.Version++
			return &copied, nil
		},
	}

	var auditEntries []domain.AuditLogEntry
	audits := &fakeAuditLogRepo{
		appendFn: func(ctx context.Context, e *domain.AuditLogEntry) error {
			auditEntries = append(auditEntries, *e)
			return nil
		},
	}

	submitted := 0
	pool := &fakeTaskSubmitter{
		submitFn: func(task dispatch.Task) error {
			submitted++
			return nil
		},
	}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), pool, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	if !incremented {
		t.Fatal("expected retry count to be incremented before resubmission")
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d, want 1", submitted)
	}
	if len(auditEntries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(auditEntries))
	}
	if auditEntries[0].Status != domain.AuditRetrying {
		t.Fatalf("audit status = %s, want RETRYING", auditEntries[0].Status)
	}
	if auditEntries[0].Details != "Retry attempt 2" {
		t.Fatalf("audit details = %q, want %q", auditEntries[0].Details, "Retry attempt 2")
	}
}

func TestReconcilerOneFailureDoesNotAbortSweep(t *testing.T) {
	t.Parallel()

	stale := []domain.Notification{
		{ID: "n-bad", Channel: domain.ChannelSMS, Status: domain.StatusPending},
		{ID: "n-good", Channel: domain.ChannelSMS, Status: domain.StatusPending},
	}

	var incremented []string
	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			return stale, nil
		},
		incrementRetryCountFn: func(ctx context.Context, id string) error {
			if id == "n-bad" {
				return errors.New("row deadlock")
			}
			incremented = append(incremented, id)
			return nil
		},
	}
	audits := &fakeAuditLogRepo{}

	submittedIDs := make(map[string]bool)
	pool := &fakeTaskSubmitter{
		submitFn: func(task dispatch.Task) error {
			submittedIDs["call"] = true
			return nil
		},
	}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), pool, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	if len(incremented) != 1 || incremented[0] != "n-good" {
		t.Fatalf("incremented = %v, want only n-good", incremented)
	}
	if !submittedIDs["call"] {
		t.Fatal("healthy row should still be resubmitted after a failed one")
	}
}

func TestReconcilerProcessesInlineWhenPoolRejects(t *testing.T) {
	t.Parallel()

	stale := domain.Notification{
		ID:      "n-overflow",
		Channel: domain.ChannelEmail,
		Status:  domain.StatusPending,
	}

	processed := false
	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			return []domain.Notification{stale}, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			processed = true
			return nil, domain.ErrNotFound
		},
	}
	audits := &fakeAuditLogRepo{}

	pool := &fakeTaskSubmitter{
		submitFn: func(task dispatch.Task) error {
			return dispatch.ErrQueueFull
		},
	}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), pool, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if !processed {
		t.Fatal("expected inline processing when the pool rejects the task")
	}
}

// Drives a notification with a provider that never succeeds through the
// delivery engine and repeated reconciliation sweeps, end to end: three
// retryable failures, then FAILED on the fourth attempt with the retry
// count exhausted.
func TestReconcilerDrivesFailingDeliveryToExhaustion(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	stored := domain.Notification{
		ID:        "n-doomed",
		Channel:   domain.ChannelEmail,
		Recipient: "user@example.com",
		Content:   "hello",
		Status:    domain.StatusPending,
		Version:   1,
	}
	var statusWrites []domain.Status

	repo := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			mu.Lock()
			defer mu.Unlock()
			copied := stored
			return &copied, nil
		},
		saveFn: func(ctx context.Context, n *domain.Notification) error {
			mu.Lock()
			defer mu.Unlock()
			if n.Version != stored.Version {
				return domain.ErrConflict
			}
			n.Version++
			stored = *n
			statusWrites = append(statusWrites, n.Status)
			return nil
		},
		incrementRetryCountFn: func(ctx context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			stored.RetryCount++
			stored.Version++
			return nil
		},
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			mu.Lock()
			defer mu.Unlock()
			if stored.Status.IsTerminal() {
				return nil, nil
			}
			copied := stored
			return []domain.Notification{copied}, nil
		},
	}

	var auditEntries []domain.AuditLogEntry
	audits := &fakeAuditLogRepo{
		appendFn: func(ctx context.Context, e *domain.AuditLogEntry) error {
			mu.Lock()
			defer mu.Unlock()
			auditEntries = append(auditEntries, *e)
			return nil
		},
	}

	processor, err := NewProcessor(repo, audits, &fakeProviderResolver{
		resolveFn: func(channel domain.Channel) (provider.Provider, error) {
			return &fakeProvider{
				sendFn: func(ctx context.Context, n domain.Notification) error {
					return errors.New("smtp 550 mailbox unavailable")
				},
			}, nil
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	// A nil pool makes the reconciler process resubmissions synchronously,
	// so each sweep completes one full delivery attempt.
	r, err := NewReconciler(repo, audits, processor, nil, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	processor.Process(context.Background(), "n-doomed")
	for range 3 {
		if err := r.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
	}

	if stored.Status != domain.StatusFailed {
		t.Fatalf("final status = %s, want FAILED", stored.Status)
	}
	if stored.RetryCount != MaxRetries {
		t.Fatalf("final retry count = %d, want %d", stored.RetryCount, MaxRetries)
	}

	counts := map[string]int{}
	for _, e := range auditEntries {
		counts[e.Status]++
	}
	if counts[domain.AuditAttemptFailed] != 3 {
		t.Fatalf("ATTEMPT_FAILED audits = %d, want 3", counts[domain.AuditAttemptFailed])
	}
	if counts[domain.AuditFailed] != 1 {
		t.Fatalf("FAILED audits = %d, want 1", counts[domain.AuditFailed])
	}
	if counts[domain.AuditRetrying] != 3 {
		t.Fatalf("RETRYING audits = %d, want 3", counts[domain.AuditRetrying])
	}

	wantWrites := []domain.Status{
		domain.StatusInProgress, domain.StatusPending,
		domain.StatusInProgress, domain.StatusPending,
		domain.StatusInProgress, domain.StatusPending,
		domain.StatusInProgress, domain.StatusFailed,
	}
	if len(statusWrites) != len(wantWrites) {
		t.Fatalf("status writes = %v, want %v", statusWrites, wantWrites)
	}
	for i := range wantWrites {
		if statusWrites[i] != wantWrites[i] {
			t.Fatalf("status write[%d] = %s, want %s", i, statusWrites[i], wantWrites[i])
		}
	}

	// Terminal rows are no longer stale; the next sweep must leave the row
	// and the audit trail untouched.
	before := len(auditEntries)
	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if len(auditEntries) != before {
		t.Fatalf("audit entries after extra sweep = %d, want %d", len(auditEntries), before)
	}
}

func TestReconcilerSweepsImmediatelyOnStart(t *testing.T) {
	t.Parallel()

	swept := make(chan struct{})
	var once sync.Once
	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			once.Do(func() { close(swept) })
			return nil, nil
		},
	}
	audits := &fakeAuditLogRepo{}

	// The interval is far longer than the test; only an immediate startup
	// sweep can fire in time.
	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), nil, time.Hour, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("expected a sweep immediately after Start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not stop after context cancellation")
	}
}

func TestReconcilerStartStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			return nil, nil
		},
	}
	audits := &fakeAuditLogRepo{}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), nil, 10*time.Millisecond, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not stop after context cancellation")
	}
}

func TestReconcilerSweepErrorIsReportedNotFatal(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		findStaleFn: func(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Notification, error) {
			return nil, errors.New("connection reset")
		},
	}
	audits := &fakeAuditLogRepo{}

	r, err := NewReconciler(repo, audits, newTestProcessor(t, repo, audits), nil, time.Minute, 10*time.Minute, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}

	err = r.sweep(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("sweep() error = %v, want query failure", err)
	}
}

type fakeTaskSubmitter struct {
	submitFn func(task dispatch.Task) error
}

func (f *fakeTaskSubmitter) Submit(task dispatch.Task) error {
	if f.submitFn != nil {
		return f.submitFn(task)
	}
	return nil
}
