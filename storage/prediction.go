package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"atelier/models"
	"atelier/util"
)

type predictionStore struct{}

func (s *predictionStore) AddPrediction(ctx context.Context, p *models.Prediction) error {
	if Pool == nil {
		return util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	request, err := json.Marshal(p.Request)
	if err != nil {
		return util.HandleError(fmt.Errorf("failed to marshal prediction request: %w", err))
	}

	err = Pool.QueryRow(ctx, GetQuery("prediction.add_prediction"), p.ID, p.UserID, p.Status, request).
		Scan(&p.CreatedAt)
	if err != nil {
		return util.HandleError(err)
	}

	// keep the cache warm for immediate status polls
	CachePrediction(ctx, p)
	return nil
}

func (s *predictionStore) UpdateStatus(ctx context.Context, id string, status models.PredictionStatus, errMsg string) error {
	if Pool == nil {
		return util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err := Pool.Exec(ctx, GetQuery("prediction.update_prediction_status"), id, status, errVal)
	if err != nil {
		return util.HandleError(err)
	}

	InvalidatePredictionCache(ctx, id)
	return nil
}

func (s *predictionStore) SetOutputs(ctx context.Context, id string, outputs []models.OutputFile) error {
	if Pool == nil {
		return util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	data, err := json.Marshal(outputs)
	if err != nil {
		return util.HandleError(fmt.Errorf("failed to marshal prediction outputs: %w", err))
	}

	_, err = Pool.Exec(ctx, GetQuery("prediction.set_prediction_outputs"), id, data)
	if err != nil {
		return util.HandleError(err)
	}

	InvalidatePredictionCache(ctx, id)
	return nil
}

func (s *predictionStore) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	if p, ok := GetPredictionFromCache(ctx, id); ok {
		return p, nil
	}

	if Pool == nil {
		return nil, util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	row := Pool.QueryRow(ctx, GetQuery("prediction.get_prediction"), id)
	p, err := scanPrediction(row)
	if err != nil {
		return nil, err
	}

	CachePrediction(ctx, p)
	return p, nil
}

func (s *predictionStore) ListPredictions(ctx context.Context, userID string, limit, offset int) ([]models.Prediction, error) {
	if Pool == nil {
		return nil, util.HandleError(fmt.Errorf("database connection pool is not initialized (Pool is nil)"))
	}

	rows, err := Pool.Query(ctx, GetQuery("prediction.list_predictions"), userID, limit, offset)
	if err != nil {
		return nil, util.HandleError(err)
	}
	defer rows.Close()

	var predictions []models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, util.HandleError(err)
	}

	return predictions, nil
}

// rowScanner matches both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*models.Prediction, error) {
	var p models.Prediction
	var request []byte
	var outputs []byte
	var errMsg *string

	err := row.Scan(&p.ID, &p.UserID, &p.Status, &request, &outputs, &errMsg,
		&p.CreatedAt, &p.StartedAt, &p.CompletedAt)
	if err != nil {
		return nil, util.HandleError(err)
	}

	if err := json.Unmarshal(request, &p.Request); err != nil {
		return nil, util.HandleError(fmt.Errorf("failed to unmarshal prediction request: %w", err))
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &p.Outputs); err != nil {
			return nil, util.HandleError(fmt.Errorf("failed to unmarshal prediction outputs: %w", err))
		}
	}
	if errMsg != nil {
		p.Error = *errMsg
	}

	return &p, nil
}
