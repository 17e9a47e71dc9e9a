package storage

import (
	"context"

	"atelier/models"
)

// PredictionStore abstracts prediction record persistence
type PredictionStore interface {
	AddPrediction(ctx context.Context, p *models.Prediction) error
	UpdateStatus(ctx context.Context, id string, status models.PredictionStatus, errMsg string) error
	SetOutputs(ctx context.Context, id string, outputs []models.OutputFile) error
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	ListPredictions(ctx context.Context, userID string, limit, offset int) ([]models.Prediction, error)
}

// ImageStore abstracts image metadata persistence
type ImageStore interface {
	StoreImage(ctx context.Context, image *models.ImageMetadata) (int, error)
	ListImages(ctx context.Context, predictionID string) ([]models.ImageMetadata, error)
	DeleteImage(ctx context.Context, imageID int) error
}

var (
	PredictionStoreInstance PredictionStore = &predictionStore{}
	ImageStoreInstance      ImageStore      = &imageStore{}
)
