package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// Check is one readiness dependency probe. Readiness requires every probe
// to pass: a notification cannot be accepted without the store, nor
// delivered without the rate limiter backend.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	checks := []Check{
		{Name: "postgres", Probe: sqlDB.PingContext},
		{Name: "redis", Probe: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	}

	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks []Check) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		results := fiber.Map{}
		ready := true
		for _, check := range checks {
			status := "ok"
			if err := check.Probe(ctx); err != nil {
				status = "down"
				ready = false
			}
			results[check.Name] = status
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
