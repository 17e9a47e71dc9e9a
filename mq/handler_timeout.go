package mq

import (
	"sync"
	"time"

	"atelier/models"
	"atelier/util"

	"github.com/sirupsen/logrus"
)

// HandlerTimeoutDuration is the time after which a result handler expires.
// Generation plus refinement plus an adapter cold start fits well inside it.
const HandlerTimeoutDuration = 45 * time.Minute

// handlerRegistration stores information about a registered handler
type handlerRegistration struct {
	handler    ResultHandler
	registered time.Time
	timeout    time.Duration
}

// handlerRegistry is a thread-safe registry for result handlers with timeout
type handlerRegistry struct {
	handlers map[CorrelationID]handlerRegistration
	mu       sync.Mutex
	done     chan struct{}
}

func newHandlerRegistry() *handlerRegistry {
	r := &handlerRegistry{
		handlers: make(map[CorrelationID]handlerRegistration),
		done:     make(chan struct{}),
	}
	go r.cleanupExpiredHandlers()
	return r
}

// register adds a handler for a correlation ID with a timeout
func (r *handlerRegistry) register(correlationID CorrelationID, handler ResultHandler, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[correlationID] = handlerRegistration{
		handler:    handler,
		registered: time.Now(),
		timeout:    timeout,
	}

	util.LogDebug("Registered result handler with timeout", logrus.Fields{
		"correlationId": correlationID,
		"timeout":       timeout,
	})
}

// deregister removes a handler for a correlation ID
func (r *handlerRegistry) deregister(correlationID CorrelationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, correlationID)
}

// handle runs and removes the handler for a correlation ID
func (r *handlerRegistry) handle(correlationID CorrelationID, result models.GenerationQueueMessage, err error) bool {
	r.mu.Lock()
	reg, exists := r.handlers[correlationID]
	if exists {
		delete(r.handlers, correlationID)
	}
	r.mu.Unlock()

	if !exists {
		util.LogWarning("No handler registered for correlation ID", logrus.Fields{
			"correlationId": correlationID,
		})
		return false
	}

	reg.handler(correlationID, result, err)
	return true
}

// cleanupExpiredHandlers periodically removes expired handlers
func (r *handlerRegistry) cleanupExpiredHandlers() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			now := time.Now()
			for id, reg := range r.handlers {
				if now.Sub(reg.registered) > reg.timeout {
					util.LogWarning("Result handler expired", logrus.Fields{
						"correlationId": id,
						"duration":      now.Sub(reg.registered),
					})

					go reg.handler(id, models.GenerationQueueMessage{}, util.NewError("result handler timed out"))
					delete(r.handlers, id)
				}
			}
			r.mu.Unlock()
		case <-r.done:
			return
		}
	}
}

// close stops the cleanup goroutine
func (r *handlerRegistry) close() {
	close(r.done)
}

// Global registry instance
var handlerReg = newHandlerRegistry()

// CloseHandlerRegistry stops the registry's cleanup goroutine
func CloseHandlerRegistry() {
	handlerReg.close()
}
