package mq

import (
	"fmt"
	"strings"
	"time"

	"atelier/models"
	"atelier/util"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CorrelationID string

// ResultHandler is a function that processes a result from RabbitMQ
type ResultHandler func(correlationID CorrelationID, result models.GenerationQueueMessage, err error)

// ToCorrelationID builds a queue correlation ID for a prediction. If guid is
// provided it is used, otherwise a new UUID is generated.
// Format: "UUID::predictionID::userID"
func ToCorrelationID(predictionID, userID string, guid *string) CorrelationID {
	var id string
	if guid == nil {
		id = uuid.New().String()
	} else {
		id = *guid
	}
	return CorrelationID(id + "::" + util.CorrelationID(predictionID, userID))
}

// FromCorrelationID extracts the guid, prediction ID and user ID from a
// correlation ID in the "UUID::predictionID::userID" format
func FromCorrelationID(correlationID string) (string, string, string, error) {
	parts := strings.SplitN(string(correlationID), "::", 2)
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("invalid correlation ID format")
	}

	predictionID, userID, err := util.FromCorrelationID(parts[1])
	if err != nil {
		return "", "", "", err
	}

	return parts[0], predictionID, userID, nil
}

// SubmitGenerationRequest enqueues an async prediction and registers a
// handler for its eventual result
func SubmitGenerationRequest(
	client *RabbitMQClient,
	request models.PredictionRequest,
	predictionID string,
	userID string,
	handler ResultHandler,
) (CorrelationID, error) {
	correlationID := ToCorrelationID(predictionID, userID, nil)

	handlerReg.register(correlationID, handler, HandlerTimeoutDuration)

	msg := models.GenerationQueueMessage{
		CorrelationID:  string(correlationID),
		Type:           models.GenerationQueueMessageTypeRequest,
		PredictionID:   predictionID,
		UserID:         userID,
		Request:        &request,
		Timestamp:      time.Now().UTC(),
		MemoryRequired: util.Gb2b(10),
	}

	util.LogInfo("Submitting generation request to RabbitMQ", logrus.Fields{
		"correlationId": correlationID,
		"predictionId":  predictionID,
		"userId":        userID,
	})

	if err := client.PublishRequest(msg); err != nil {
		util.LogWarning("Failed to publish generation request to RabbitMQ", logrus.Fields{
			"correlationId": correlationID,
			"error":         err.Error(),
		})
		handlerReg.deregister(correlationID)
		return "", err
	}

	return correlationID, nil
}
