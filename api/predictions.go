package api

import (
	"errors"
	"path/filepath"
	"strings"

	"atelier/auth"
	"atelier/config"
	"atelier/models"
	"atelier/mq"
	"atelier/pipeline"
	svc "atelier/services"
	"atelier/util"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RegisterPredictionRoutes registers the prediction CRUD and output routes
func RegisterPredictionRoutes(app *fiber.App) {
	app.Post("/api/predictions", createPrediction)
	app.Get("/api/predictions", listPredictions)
	app.Get("/api/predictions/:id", getPrediction)
	app.Get("/api/predictions/:id/outputs/:filename", getPredictionOutput)
}

// createPrediction records a prediction and runs it. With a
// "Prefer: respond-async" header the run is enqueued and the queued record is
// returned immediately.
func createPrediction(c *fiber.Ctx) error {
	userID := auth.UserID(c)

	var request models.PredictionRequest
	if err := c.BodyParser(&request); err != nil {
		return handleError(err, fiber.StatusBadRequest, "Invalid request body")
	}

	p, err := svc.GetPredictionService().Create(c.UserContext(), userID, request)
	if err != nil {
		return handleError(err, fiber.StatusUnprocessableEntity, err.Error())
	}

	if wantsAsync(c) {
		if deps.MQ == nil || !deps.MQ.Initialized() {
			return handleError(nil, fiber.StatusNotImplemented, "Async predictions require the message queue")
		}

		_, err := mq.SubmitGenerationRequest(deps.MQ, p.Request, p.ID, userID,
			func(correlationID mq.CorrelationID, result models.GenerationQueueMessage, err error) {
				// completion is pushed over the status websocket; the result
				// frame only needs logging here
				fields := logrus.Fields{
					"correlationId": correlationID,
					"predictionId":  result.PredictionID,
				}
				if err != nil {
					util.LogWarning("Async prediction finished with error", fields)
					return
				}
				util.LogInfo("Async prediction finished", fields)
			})
		if err != nil {
			return handleError(err, fiber.StatusInternalServerError, "Failed to enqueue prediction")
		}

		return c.Status(fiber.StatusAccepted).JSON(p)
	}

	done, err := svc.GetPredictionService().Run(c.UserContext(), p.ID, userID, p.Request)
	if err != nil {
		if errors.Is(err, pipeline.ErrContentFiltered) {
			return handleError(err, fiber.StatusUnprocessableEntity, err.Error())
		}
		return handleError(err, fiber.StatusInternalServerError, "Prediction failed")
	}

	return c.Status(fiber.StatusCreated).JSON(done)
}

func wantsAsync(c *fiber.Ctx) bool {
	return strings.Contains(strings.ToLower(c.Get("Prefer")), "respond-async")
}

func getPrediction(c *fiber.Ctx) error {
	id := c.Params("id")

	p, err := svc.GetPredictionService().Get(c.UserContext(), id)
	if err != nil {
		return handleError(err, fiber.StatusNotFound, "Prediction not found")
	}
	if !auth.CanAccess(c, p.UserID) {
		return handleError(nil, fiber.StatusForbidden, "Forbidden")
	}

	return c.JSON(p)
}

func listPredictions(c *fiber.Ctx) error {
	userID := auth.UserID(c)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	predictions, err := svc.GetPredictionService().List(c.UserContext(), userID, limit, offset)
	if err != nil {
		return handleError(err, fiber.StatusInternalServerError, "Failed to list predictions")
	}

	return c.JSON(fiber.Map{
		"predictions": predictions,
		"limit":       limit,
		"offset":      offset,
	})
}

// getPredictionOutput serves a generated image from the output directory.
// ?view=true renders inline, otherwise the file downloads as an attachment.
func getPredictionOutput(c *fiber.Ctx) error {
	id := c.Params("id")
	filename := c.Params("filename")

	// output filenames are flat, reject anything that could escape the dir
	if filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return handleError(nil, fiber.StatusBadRequest, "Invalid filename")
	}

	p, err := svc.GetPredictionService().Get(c.UserContext(), id)
	if err != nil {
		return handleError(err, fiber.StatusNotFound, "Prediction not found")
	}
	if !auth.CanAccess(c, p.UserID) {
		return handleError(nil, fiber.StatusForbidden, "Forbidden")
	}

	conf := config.GetConfig(nil)
	path := filepath.Join(conf.Generation.OutputDirectory, id, filename)

	if c.QueryBool("view", false) {
		c.Set(fiber.HeaderContentType, "image/png")
		return c.SendFile(path)
	}

	return c.Download(path, filename)
}
