package svc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"atelier/config"
	"atelier/imaging"
	"atelier/models"
	"atelier/pipeline"
	"atelier/storage"
	"atelier/util"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PredictionService runs predictions end to end: record keeping, the
// pipeline call, output persistence and status notifications.
type PredictionService interface {
	// Create validates and records a new prediction for a user
	Create(ctx context.Context, userID string, request models.PredictionRequest) (*models.Prediction, error)
	// Run executes a recorded prediction and persists its outputs
	Run(ctx context.Context, predictionID, userID string, request models.PredictionRequest) (*models.Prediction, error)
	// Get fetches a prediction record
	Get(ctx context.Context, id string) (*models.Prediction, error)
	// List fetches a user's predictions, newest first
	List(ctx context.Context, userID string, limit, offset int) ([]models.Prediction, error)
}

// StatusPublisher fans prediction status transitions out to queue observers
type StatusPublisher interface {
	PublishStatus(msg models.GenerationQueueMessage) error
}

type predictionService struct {
	engine    *pipeline.Engine
	statusPub StatusPublisher

	// the worker holds one pipeline; generations never overlap
	runMu sync.Mutex
}

var (
	predSvc     *predictionService
	predSvcOnce sync.Once
)

// InitPredictionService wires the service to a pipeline engine and an
// optional status publisher
func InitPredictionService(engine *pipeline.Engine, statusPub StatusPublisher) PredictionService {
	predSvcOnce.Do(func() {
		predSvc = &predictionService{engine: engine, statusPub: statusPub}
	})
	return predSvc
}

// GetPredictionService returns the initialized service
func GetPredictionService() PredictionService {
	return predSvc
}

func (s *predictionService) Create(ctx context.Context, userID string, request models.PredictionRequest) (*models.Prediction, error) {
	conf := config.GetConfig(nil)

	request.ApplyDefaults(models.GenerationDefaults{
		Width:     conf.Generation.DefaultWidth,
		Height:    conf.Generation.DefaultHeight,
		Scheduler: models.Scheduler(conf.Generation.DefaultScheduler),
		Steps:     conf.Generation.DefaultSteps,
		Guidance:  conf.Generation.DefaultGuidance,
		Strength:  conf.Generation.DefaultStrength,
		LoraScale: conf.Generation.DefaultLoraScale,
	})
	if err := request.Validate(conf.Generation.MaxOutputs); err != nil {
		return nil, err
	}

	p := &models.Prediction{
		ID:      uuid.New().String(),
		UserID:  userID,
		Status:  models.PredictionStatusQueued,
		Request: request,
	}

	if err := storage.PredictionStoreInstance.AddPrediction(ctx, p); err != nil {
		return nil, util.HandleError(fmt.Errorf("failed to record prediction: %w", err))
	}

	util.LogInfo("Prediction created", logrus.Fields{
		"predictionId": p.ID,
		"userId":       userID,
		"mode":         request.Mode(),
		"seed":         *request.Seed,
	})
	return p, nil
}

func (s *predictionService) Run(ctx context.Context, predictionID, userID string, request models.PredictionRequest) (*models.Prediction, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	sock := GetSocketService()
	store := storage.PredictionStoreInstance

	if err := store.UpdateStatus(ctx, predictionID, models.PredictionStatusProcessing, ""); err != nil {
		return nil, err
	}
	s.publishStatus(predictionID, userID, models.PredictionStatusProcessing, "")
	sock.SendInfo(predictionID, userID, "Generation started")

	start := time.Now()
	outputs, err := s.engine.Run(ctx, request)
	if err != nil {
		if uerr := store.UpdateStatus(ctx, predictionID, models.PredictionStatusFailed, err.Error()); uerr != nil {
			util.LogWarning("Failed to record prediction failure", logrus.Fields{
				"predictionId": predictionID,
				"error":        uerr.Error(),
			})
		}
		s.publishStatus(predictionID, userID, models.PredictionStatusFailed, err.Error())
		sock.SendError(predictionID, userID, err.Error())
		return nil, err
	}

	files, err := s.saveOutputs(ctx, predictionID, userID, outputs)
	if err != nil {
		if uerr := store.UpdateStatus(ctx, predictionID, models.PredictionStatusFailed, err.Error()); uerr != nil {
			util.LogWarning("Failed to record prediction failure", logrus.Fields{
				"predictionId": predictionID,
				"error":        uerr.Error(),
			})
		}
		s.publishStatus(predictionID, userID, models.PredictionStatusFailed, err.Error())
		sock.SendError(predictionID, userID, err.Error())
		return nil, err
	}

	if err := store.SetOutputs(ctx, predictionID, files); err != nil {
		return nil, err
	}
	if err := store.UpdateStatus(ctx, predictionID, models.PredictionStatusSucceeded, ""); err != nil {
		return nil, err
	}
	s.publishStatus(predictionID, userID, models.PredictionStatusSucceeded, "")

	p, err := store.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}

	util.LogInfo("Prediction succeeded", logrus.Fields{
		"predictionId": predictionID,
		"outputs":      len(files),
		"elapsed":      time.Since(start).String(),
	})
	sock.SendCompletion(predictionID, userID, "Generation completed", p)

	return p, nil
}

// publishStatus fans a status transition out over the message queue when a
// publisher is wired
func (s *predictionService) publishStatus(predictionID, userID string, status models.PredictionStatus, errMsg string) {
	if s.statusPub == nil {
		return
	}
	msg := models.GenerationQueueMessage{
		CorrelationID: util.CorrelationID(predictionID, userID),
		Type:          models.GenerationQueueMessageTypeStatus,
		PredictionID:  predictionID,
		UserID:        userID,
		Status:        status,
		Error:         errMsg,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.statusPub.PublishStatus(msg); err != nil {
		util.LogWarning("Failed to publish status transition", logrus.Fields{
			"predictionId": predictionID,
			"status":       status,
		})
	}
}

// saveOutputs writes generated images and thumbnails under the prediction's
// output directory and records their metadata
func (s *predictionService) saveOutputs(ctx context.Context, predictionID, userID string, outputs []pipeline.Output) ([]models.OutputFile, error) {
	conf := config.GetConfig(nil)
	dir := fmt.Sprintf("%s/%s", conf.Generation.OutputDirectory, predictionID)

	files := make([]models.OutputFile, 0, len(outputs))
	for i, out := range outputs {
		filename := fmt.Sprintf("out-%d.png", i)
		if _, err := imaging.WriteOutput(dir, filename, out.Data); err != nil {
			return nil, err
		}

		thumbName := fmt.Sprintf("thumbnail_out-%d.png", i)
		if img, err := imaging.DecodePNG(out.Data); err == nil {
			thumbData, terr := imaging.EncodePNG(imaging.Thumbnail(img))
			if terr == nil {
				if _, werr := imaging.WriteOutput(dir, thumbName, thumbData); werr != nil {
					util.LogWarning("Failed to write thumbnail", logrus.Fields{
						"predictionId": predictionID,
						"filename":     thumbName,
					})
				}
			}
		}

		meta := models.ImageMetadata{
			PredictionID: predictionID,
			UserID:       userID,
			Filename:     filename,
			Thumbnail:    thumbName,
			Format:       "png",
			CreatedAt:    time.Now(),
		}
		if out.Width > 0 {
			meta.Width = util.IntPtr(out.Width)
			meta.Height = util.IntPtr(out.Height)
		}

		id, err := storage.ImageStoreInstance.StoreImage(ctx, &meta)
		if err != nil {
			return nil, util.HandleError(fmt.Errorf("failed to store image metadata: %w", err))
		}
		meta.ID = &id

		files = append(files, models.OutputFile{
			Filename:    filename,
			DownloadURL: fmt.Sprintf("/api/predictions/%s/outputs/%s", predictionID, filename),
			ViewURL:     fmt.Sprintf("/api/predictions/%s/outputs/%s?view=true", predictionID, filename),
			Width:       out.Width,
			Height:      out.Height,
		})
	}

	return files, nil
}

func (s *predictionService) Get(ctx context.Context, id string) (*models.Prediction, error) {
	return storage.PredictionStoreInstance.GetPrediction(ctx, id)
}

func (s *predictionService) List(ctx context.Context, userID string, limit, offset int) ([]models.Prediction, error) {
	if limit <= 0 {
		limit = 20
	}
	return storage.PredictionStoreInstance.ListPredictions(ctx, userID, limit, offset)
}
