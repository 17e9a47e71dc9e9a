// Package mq carries async predictions over RabbitMQ. A single consumer with
// prefetch 1 preserves the one-request-at-a-time worker model.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"atelier/config"
	"atelier/models"
	"atelier/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitMQ topology
const (
	ExchangeNameGeneration = "generation.exchange"
	QueueNameRequests      = "generation.requests"
	QueueNameResults       = "generation.results"
	QueueNameStatus        = "generation.status"
)

// RequestHandler runs a dequeued prediction request. It is invoked serially.
type RequestHandler func(ctx context.Context, msg models.GenerationQueueMessage) error

// RabbitMQClient handles communication with RabbitMQ
type RabbitMQClient struct {
	conn            *amqp.Connection
	pubChan         *amqp.Channel
	requestChan     *amqp.Channel
	resultChan      *amqp.Channel
	requestConsumer <-chan amqp.Delivery
	resultConsumer  <-chan amqp.Delivery
	connString      string
	initialized     bool
	requestHandler  RequestHandler
	ctx             context.Context
	cancelCtx       context.CancelFunc
}

// NewRabbitMQClient creates a new RabbitMQ client from configuration
func NewRabbitMQClient() *RabbitMQClient {
	ctx, cancel := context.WithCancel(context.Background())

	conf := config.GetConfig(nil)
	connString := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		conf.Rabbitmq.User,
		conf.Rabbitmq.Password,
		conf.Rabbitmq.Host,
		conf.Rabbitmq.Port)

	return &RabbitMQClient{
		connString: connString,
		ctx:        ctx,
		cancelCtx:  cancel,
	}
}

// Initialize sets up the RabbitMQ connection, topology and consumers.
// handler receives dequeued prediction requests one at a time.
func (c *RabbitMQClient) Initialize(handler RequestHandler) error {
	if c.initialized {
		return nil
	}
	c.requestHandler = handler

	var err error

	c.conn, err = amqp.Dial(c.connString)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.pubChan, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.requestChan, err = c.conn.Channel()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("failed to open request channel: %w", err)
	}

	// One unacked request at a time keeps the GPU worker serialized
	if err = c.requestChan.Qos(1, 0, false); err != nil {
		c.cleanup()
		return fmt.Errorf("failed to set request channel QoS: %w", err)
	}

	c.resultChan, err = c.conn.Channel()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("failed to open result channel: %w", err)
	}

	err = c.pubChan.ExchangeDeclare(
		ExchangeNameGeneration, // name
		"topic",                // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		c.cleanup()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queues := []string{QueueNameRequests, QueueNameResults, QueueNameStatus}
	for _, q := range queues {
		_, err = c.pubChan.QueueDeclare(
			q,     // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			c.cleanup()
			return fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}

	bindingKeys := map[string]string{
		QueueNameRequests: "request.generate",
		QueueNameResults:  "result.*",
		QueueNameStatus:   "status.*",
	}
	for queue, key := range bindingKeys {
		err = c.pubChan.QueueBind(queue, key, ExchangeNameGeneration, false, nil)
		if err != nil {
			c.cleanup()
			return fmt.Errorf("failed to bind queue %s: %w", queue, err)
		}
	}

	c.requestConsumer, err = c.requestChan.Consume(
		QueueNameRequests, // queue
		"",                // consumer
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		c.cleanup()
		return fmt.Errorf("failed to register request consumer: %w", err)
	}

	c.resultConsumer, err = c.resultChan.Consume(
		QueueNameResults, "", false, false, false, false, nil,
	)
	if err != nil {
		c.cleanup()
		return fmt.Errorf("failed to register result consumer: %w", err)
	}

	c.initialized = true
	logrus.Info("RabbitMQ client initialized successfully")

	go c.consumeRequests()
	go c.consumeResults()

	return nil
}

func (c *RabbitMQClient) cleanup() {
	if c.resultChan != nil {
		c.resultChan.Close()
	}
	if c.requestChan != nil {
		c.requestChan.Close()
	}
	if c.pubChan != nil {
		c.pubChan.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Close closes the connection and channels
func (c *RabbitMQClient) Close() {
	c.cancelCtx()
	c.cleanup()
	c.initialized = false
	logrus.Info("RabbitMQ client closed")
}

// Initialized returns whether the client is initialized
func (c *RabbitMQClient) Initialized() bool {
	return c.initialized
}

// publish sends a message to the generation exchange under a routing key
func (c *RabbitMQClient) publish(routingKey string, msg models.GenerationQueueMessage) error {
	if !c.initialized {
		return fmt.Errorf("RabbitMQ client not initialized")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return util.HandleError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.pubChan.PublishWithContext(
		ctx,
		ExchangeNameGeneration, // exchange
		routingKey,             // routing key
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			DeliveryMode:  amqp.Persistent,
			ContentType:   "application/json",
			Body:          body,
			Timestamp:     time.Now(),
			CorrelationId: msg.CorrelationID,
		},
	)
	if err != nil {
		return util.HandleError(err)
	}

	util.LogDebug("Published message to RabbitMQ", logrus.Fields{
		"routingKey":    routingKey,
		"correlationId": msg.CorrelationID,
	})
	return nil
}

// PublishRequest enqueues an async prediction request
func (c *RabbitMQClient) PublishRequest(msg models.GenerationQueueMessage) error {
	return c.publish("request.generate", msg)
}

// PublishResult publishes a prediction result for waiting callers
func (c *RabbitMQClient) PublishResult(msg models.GenerationQueueMessage) error {
	return c.publish("result."+msg.PredictionID, msg)
}

// PublishStatus publishes a status transition for observers
func (c *RabbitMQClient) PublishStatus(msg models.GenerationQueueMessage) error {
	return c.publish("status."+string(msg.Status), msg)
}

// consumeRequests runs dequeued prediction requests serially
func (c *RabbitMQClient) consumeRequests() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.requestConsumer:
			if !ok {
				logrus.Warn("Request consumer channel closed")
				return
			}

			var req models.GenerationQueueMessage
			if err := json.Unmarshal(msg.Body, &req); err != nil {
				util.HandleError(err)
				msg.Reject(false)
				continue
			}

			util.LogInfo("Dequeued generation request", logrus.Fields{
				"correlationId": req.CorrelationID,
				"predictionId":  req.PredictionID,
			})

			if c.requestHandler != nil {
				if err := c.requestHandler(c.ctx, req); err != nil {
					util.HandleError(err, logrus.Fields{
						"predictionId": req.PredictionID,
					})
				}
			}

			// Ack regardless: failures are recorded on the prediction, a
			// redelivery would re-run an already-failed generation
			msg.Ack(false)
		}
	}
}

// consumeResults dispatches result messages to registered handlers
func (c *RabbitMQClient) consumeResults() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.resultConsumer:
			if !ok {
				logrus.Warn("Result consumer channel closed")
				return
			}

			var result models.GenerationQueueMessage
			if err := json.Unmarshal(msg.Body, &result); err != nil {
				util.HandleError(err)
				msg.Reject(false)
				continue
			}

			util.LogDebug("Received generation result", logrus.Fields{
				"correlationId": result.CorrelationID,
			})

			var resultErr error
			if result.Error != "" {
				resultErr = util.NewError(result.Error)
			}
			handlerReg.handle(CorrelationID(result.CorrelationID), result, resultErr)

			msg.Ack(false)
		}
	}
}
