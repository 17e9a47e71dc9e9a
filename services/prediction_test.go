package svc

import (
	"fmt"
	"testing"

	"atelier/models"
)

type capturePublisher struct {
	published []models.GenerationQueueMessage
	fail      bool
}

func (p *capturePublisher) PublishStatus(msg models.GenerationQueueMessage) error {
	if p.fail {
		return fmt.Errorf("channel closed")
	}
	p.published = append(p.published, msg)
	return nil
}

func TestPublishStatusTransitions(t *testing.T) {
	pub := &capturePublisher{}
	s := &predictionService{statusPub: pub}

	s.publishStatus("pred-1", "user-1", models.PredictionStatusProcessing, "")
	s.publishStatus("pred-1", "user-1", models.PredictionStatusFailed, "content filtered")

	if len(pub.published) != 2 {
		t.Fatalf("published %d status frames, want 2", len(pub.published))
	}

	first := pub.published[0]
	if first.Type != models.GenerationQueueMessageTypeStatus {
		t.Errorf("type = %v, want status", first.Type)
	}
	if first.Status != models.PredictionStatusProcessing {
		t.Errorf("status = %v, want processing", first.Status)
	}
	if first.CorrelationID != "pred-1::user-1" {
		t.Errorf("correlationID = %q", first.CorrelationID)
	}
	if first.Timestamp.IsZero() {
		t.Error("status frame missing timestamp")
	}

	second := pub.published[1]
	if second.Status != models.PredictionStatusFailed {
		t.Errorf("status = %v, want failed", second.Status)
	}
	if second.Error != "content filtered" {
		t.Errorf("error = %q, want the failure message", second.Error)
	}
}

func TestPublishStatusWithoutPublisher(t *testing.T) {
	s := &predictionService{}
	// a service without a queue skips status fan-out entirely
	s.publishStatus("pred-1", "user-1", models.PredictionStatusSucceeded, "")
}

func TestPublishStatusPublisherError(t *testing.T) {
	pub := &capturePublisher{fail: true}
	s := &predictionService{statusPub: pub}
	// publish failures are logged, never propagated into the run
	s.publishStatus("pred-1", "user-1", models.PredictionStatusSucceeded, "")
}
