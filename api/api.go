// Package api exposes the prediction service over HTTP
package api

import (
	"atelier/mq"
	"atelier/pipeline"
	"atelier/storage"
	"atelier/util"

	"github.com/gofiber/fiber/v2"
)

// handleError logs an error at the caller's level and converts it into a
// fiber error with the given status and message
func handleError(err error, status int, message string) error {
	util.HandleErrorAtCallLevel(err, 2)
	return fiber.NewError(status, message)
}

// Deps carries the shared clients the route handlers need
type Deps struct {
	MQ     *mq.RabbitMQClient
	Worker *pipeline.Client
}

var deps Deps

// RegisterHealthRoutes registers the service health endpoints
func RegisterHealthRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// readiness covers the diffusion worker and the database behind the service
	app.Get("/ready", func(c *fiber.Ctx) error {
		if deps.Worker == nil {
			return handleError(nil, fiber.StatusServiceUnavailable, "worker client not configured")
		}
		if err := deps.Worker.Health(c.UserContext()); err != nil {
			return handleError(err, fiber.StatusServiceUnavailable, "diffusion worker unavailable")
		}
		// reconnects a dropped pool; skipped until the pool first comes up
		if storage.Pool != nil {
			if err := storage.EnsureDBConnection(c.UserContext()); err != nil {
				return handleError(err, fiber.StatusServiceUnavailable, "database unavailable")
			}
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})
}
