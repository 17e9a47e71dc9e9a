package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"atelier/adapter"
	"atelier/api"
	"atelier/config"
	"atelier/models"
	"atelier/mq"
	"atelier/pipeline"
	svc "atelier/services"
	"atelier/storage"
	"atelier/util"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	conf := config.GetConfig(nil)

	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	connStr := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		conf.Database.User,
		conf.Database.Password,
		conf.Database.Host,
		conf.Database.Port,
		conf.Database.DBName,
		conf.Database.SSLMode)
	if err := storage.InitDB(connStr); err != nil {
		util.HandleFatalError(err)
	}
	defer storage.CloseDB()

	if conf.Redis.Enabled {
		if err := storage.InitStorageCache(); err != nil {
			util.LogWarning("Redis cache unavailable, continuing without it", logrus.Fields{"error": err})
		} else {
			defer storage.CloseRedisCache()
		}
	}

	workerClient := pipeline.NewClient(conf.Worker.BaseURL, conf.WorkerRequestTimeout())
	loader := adapter.NewLoader(conf.Adapter.CacheDirectory, conf.Adapter.MaxArchiveBytes, conf.AdapterDownloadTimeout())
	engine := pipeline.NewEngine(workerClient, loader)

	var mqClient *mq.RabbitMQClient
	var statusPub svc.StatusPublisher
	if conf.Rabbitmq.Enabled {
		mqClient = mq.NewRabbitMQClient()
		statusPub = mqClient
	}

	svc.InitPredictionService(engine, statusPub)

	if mqClient != nil {
		err := mqClient.Initialize(func(ctx context.Context, msg models.GenerationQueueMessage) error {
			if msg.Request == nil {
				return util.NewError("queued generation request has no payload")
			}

			_, runErr := svc.GetPredictionService().Run(ctx, msg.PredictionID, msg.UserID, *msg.Request)

			result := models.GenerationQueueMessage{
				CorrelationID: msg.CorrelationID,
				Type:          models.GenerationQueueMessageTypeResult,
				PredictionID:  msg.PredictionID,
				UserID:        msg.UserID,
				Status:        models.PredictionStatusSucceeded,
				Timestamp:     msg.Timestamp,
			}
			if runErr != nil {
				result.Status = models.PredictionStatusFailed
				result.Error = runErr.Error()
			}
			if pubErr := mqClient.PublishResult(result); pubErr != nil {
				util.LogWarning("Failed to publish generation result", logrus.Fields{
					"predictionId": msg.PredictionID,
					"error":        pubErr.Error(),
				})
			}
			return runErr
		})
		if err != nil {
			util.HandleFatalError(err)
		}
		defer mqClient.Close()
		defer mq.CloseHandlerRegistry()
	}

	app := fiber.New(fiber.Config{
		AppName:   "atelier",
		BodyLimit: 50 * 1024 * 1024, // input images arrive base64-encoded
	})

	api.RegisterAllRoutes(app, api.Deps{
		MQ:     mqClient,
		Worker: workerClient,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			util.HandleError(err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	util.LogInfo("Starting server", logrus.Fields{"addr": addr})
	if err := app.Listen(addr); err != nil {
		util.HandleFatalError(err)
	}
}
