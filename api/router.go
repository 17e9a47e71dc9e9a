package api

import (
	"atelier/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// RegisterAllRoutes wires middleware and every route group onto the app
func RegisterAllRoutes(app *fiber.App, d Deps) {
	deps = d

	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", "*")
		c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Prefer")
		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	})

	RegisterHealthRoutes(app)

	app.Use(auth.WithAuth)

	RegisterPredictionRoutes(app)
	RegisterWorkerRoutes(app)
	RegisterStatusWebsocket(app)
}
