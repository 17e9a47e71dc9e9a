package models

import "time"

// GenerationQueueMessageType distinguishes queue payloads
type GenerationQueueMessageType string

const (
	GenerationQueueMessageTypeRequest GenerationQueueMessageType = "request"
	GenerationQueueMessageTypeResult  GenerationQueueMessageType = "result"
	GenerationQueueMessageTypeStatus  GenerationQueueMessageType = "status"
)

// GenerationQueueMessage is the envelope published to RabbitMQ for async
// predictions and for result/status fan-out
type GenerationQueueMessage struct {
	CorrelationID  string                     `json:"correlation_id"`
	Type           GenerationQueueMessageType `json:"type"`
	PredictionID   string                     `json:"prediction_id"`
	UserID         string                     `json:"user_id"`
	Request        *PredictionRequest         `json:"request,omitempty"`
	Outputs        []OutputFile               `json:"outputs,omitempty"`
	Status         PredictionStatus           `json:"status,omitempty"`
	Error          string                     `json:"error,omitempty"`
	Timestamp      time.Time                  `json:"timestamp"`
	MemoryRequired float32                    `json:"memory_required,omitempty"`
}

// SocketMessageType classifies websocket status frames
type SocketMessageType string

const (
	SocketMessageTypeInfo       SocketMessageType = "info"
	SocketMessageTypeCompletion SocketMessageType = "completion"
	SocketMessageTypeError      SocketMessageType = "error"
)

// SocketMessage is a status frame pushed to subscribed websocket clients
type SocketMessage struct {
	ID           string            `json:"id"`
	Type         SocketMessageType `json:"type"`
	PredictionID string            `json:"predictionId"`
	Status       PredictionStatus  `json:"status"`
	Content      *string           `json:"content,omitempty"`
	Payload      any               `json:"payload,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
