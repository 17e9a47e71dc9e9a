package svc

import (
	"sync"
	"time"

	"atelier/models"
	"atelier/util"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SocketService pushes prediction status frames to subscribed clients
type SocketService interface {
	Register(userID string, conn *websocket.Conn) string
	Unregister(userID, connID string)
	SendInfo(predictionID, userID, message string)
	SendCompletion(predictionID, userID, message string, payload any)
	SendError(predictionID, userID, message string) error
}

type socketConnection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *socketConnection) writeJSON(v any) error {
	// gorilla-style conns allow one concurrent writer
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type socketService struct {
	mu          sync.RWMutex
	connections map[string]map[string]*socketConnection // userID -> connID -> conn
}

var (
	socketSvc     *socketService
	socketSvcOnce sync.Once
)

// GetSocketService returns the process-wide socket service
func GetSocketService() SocketService {
	socketSvcOnce.Do(func() {
		socketSvc = &socketService{
			connections: make(map[string]map[string]*socketConnection),
		}
	})
	return socketSvc
}

// Register adds a websocket connection for a user and returns its ID
func (s *socketService) Register(userID string, conn *websocket.Conn) string {
	connID := uuid.New().String()

	s.mu.Lock()
	if s.connections[userID] == nil {
		s.connections[userID] = make(map[string]*socketConnection)
	}
	s.connections[userID][connID] = &socketConnection{conn: conn}
	s.mu.Unlock()

	util.LogInfo("Status WebSocket connection established", logrus.Fields{
		"userID": userID,
		"connID": connID,
	})
	return connID
}

// Unregister removes a websocket connection
func (s *socketService) Unregister(userID, connID string) {
	s.mu.Lock()
	if conns, ok := s.connections[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(s.connections, userID)
		}
	}
	s.mu.Unlock()
}

func (s *socketService) send(userID string, msg models.SocketMessage) {
	s.mu.RLock()
	conns := make([]*socketConnection, 0, len(s.connections[userID]))
	for _, c := range s.connections[userID] {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			util.LogWarning("Failed to write status frame", logrus.Fields{
				"userID": userID,
				"error":  err.Error(),
			})
		}
	}
}

// SendInfo pushes a progress frame
func (s *socketService) SendInfo(predictionID, userID, message string) {
	s.send(userID, models.SocketMessage{
		ID:           uuid.New().String(),
		Type:         models.SocketMessageTypeInfo,
		PredictionID: predictionID,
		Status:       models.PredictionStatusProcessing,
		Content:      &message,
		Timestamp:    time.Now(),
	})
}

// SendCompletion pushes a success frame with the prediction payload
func (s *socketService) SendCompletion(predictionID, userID, message string, payload any) {
	s.send(userID, models.SocketMessage{
		ID:           uuid.New().String(),
		Type:         models.SocketMessageTypeCompletion,
		PredictionID: predictionID,
		Status:       models.PredictionStatusSucceeded,
		Content:      &message,
		Payload:      payload,
		Timestamp:    time.Now(),
	})
}

// SendError pushes a failure frame and returns the message as an error for
// call sites that propagate it
func (s *socketService) SendError(predictionID, userID, message string) error {
	s.send(userID, models.SocketMessage{
		ID:           uuid.New().String(),
		Type:         models.SocketMessageTypeError,
		PredictionID: predictionID,
		Status:       models.PredictionStatusFailed,
		Content:      &message,
		Timestamp:    time.Now(),
	})
	return util.NewError(message)
}
