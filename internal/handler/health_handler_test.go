package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestLivezReportsOK(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/livez", LivezHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q, want ok", body.Status)
	}
}

func TestReadyzAllDependenciesUp(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/readyz", ReadyzHandler([]Check{
		{Name: "postgres", Probe: func(ctx context.Context) error { return nil }},
		{Name: "redis", Probe: func(ctx context.Context) error { return nil }},
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ready" {
		t.Fatalf("status = %q, want ready", body.Status)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["redis"] != "ok" {
		t.Fatalf("checks = %v, want all ok", body.Checks)
	}
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/readyz", ReadyzHandler([]Check{
		{Name: "postgres", Probe: func(ctx context.Context) error { return nil }},
		{Name: "redis", Probe: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "not_ready" {
		t.Fatalf("status = %q, want not_ready", body.Status)
	}
	if body.Checks["postgres"] != "ok" {
		t.Fatalf("postgres check = %q, want ok", body.Checks["postgres"])
	}
	if body.Checks["redis"] != "down" {
		t.Fatalf("redis check = %q, want down", body.Checks["redis"])
	}
}
