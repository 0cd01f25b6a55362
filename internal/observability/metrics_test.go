package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationSent("EMAIL")
	metrics.IncNotificationFailed("email")
	metrics.ObserveSendDuration("email", 120*time.Millisecond)
	metrics.IncDeliveryInFlight("email")
	metrics.DecDeliveryInFlight("email")
	metrics.IncReconciled()

	if got := testutil.ToFloat64(metrics.notificationsSentTotal.WithLabelValues("email")); got != 1 {
		t.Fatalf("notifications_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsFailedTotal.WithLabelValues("email")); got != 1 {
		t.Fatalf("notifications_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryInFlight.WithLabelValues("email")); got != 0 {
		t.Fatalf("delivery_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.reconciledTotal); got != 1 {
		t.Fatalf("reconciled_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsSkipsSelfScrape(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/metrics", "200")); got != 0 {
		t.Fatalf("http_requests_total = %v, want 0 for /metrics", got)
	}
}
