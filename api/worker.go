package api

import (
	"atelier/config"
	"atelier/models"

	"github.com/gofiber/fiber/v2"
)

// RegisterWorkerRoutes registers routes describing the generation backend
func RegisterWorkerRoutes(app *fiber.App) {
	app.Get("/api/schedulers", listSchedulers)
	app.Get("/api/generation/defaults", getGenerationDefaults)
}

// listSchedulers returns the supported scheduler names and their worker-side
// resolution
func listSchedulers(c *fiber.Ctx) error {
	type schedulerInfo struct {
		Name            string `json:"name"`
		Class           string `json:"class"`
		UseKarrasSigmas bool   `json:"use_karras_sigmas,omitempty"`
	}

	names := models.SchedulerNames()
	out := make([]schedulerInfo, 0, len(names))
	for _, name := range names {
		spec, _ := models.Scheduler(name).Spec()
		out = append(out, schedulerInfo{
			Name:            name,
			Class:           spec.Class,
			UseKarrasSigmas: spec.UseKarrasSigmas,
		})
	}

	return c.JSON(fiber.Map{"schedulers": out})
}

// getGenerationDefaults exposes the configured parameter defaults and limits
func getGenerationDefaults(c *fiber.Ctx) error {
	conf := config.GetConfig(nil)
	return c.JSON(conf.Generation)
}
