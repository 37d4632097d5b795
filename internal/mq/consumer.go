package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/metrics"
	"github.com/semilimes/sgateway/pkg/contextx"
	"github.com/semilimes/sgateway/pkg/json"
)

const consumerTag = "sgateway"

// ServiceCall is the message shape the consumer serves: a gateway call
// addressed by service, version and method, with the request payload
// inline. Version defaults to 1.
type ServiceCall struct {
	Service string          `json:"service"`
	Version int             `json:"version"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Consumer serves gateway calls from the bus through the shared pipeline.
// A domain error marked for client retry is requeued; every other failure
// abandons the message. Deliveries are processed one at a time.
type Consumer struct {
	client   *Client
	registry *gateway.Registry
	pipeline *gateway.Pipeline
	log      *zap.Logger
}

// NewConsumer builds a consumer over the shared client, registry and
// pipeline.
func NewConsumer(client *Client, registry *gateway.Registry, pipeline *gateway.Pipeline, log *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		registry: registry,
		pipeline: pipeline,
		log:      log.With(zap.String("module", "mq.consumer")),
	}
}

// Run consumes until ctx is cancelled, redialing with exponential backoff
// after every dropped session. It only returns on shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	for {
		err := c.consume(ctx, policy.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := policy.NextBackOff()
		c.log.Warn("message bus consumer disconnected",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// consume opens a session and serves deliveries until the connection drops
// or ctx is cancelled. onReady runs once the session is live.
func (c *Consumer) consume(ctx context.Context, onReady func()) error {
	if err := c.client.Connect(); err != nil {
		return err
	}
	ch, err := c.client.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(QueueServiceCalls, consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", QueueServiceCalls, err)
	}

	onReady()
	c.log.Info("consuming gateway calls", zap.String("queue", QueueServiceCalls))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery serves one message and settles it: ack on success, requeue
// when the error suggests a retry, abandon otherwise.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	err := c.serve(ctx, d)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Error("failed to ack message", zap.Error(ackErr))
		}
		metrics.MQMessages.WithLabelValues("ack").Inc()
		return
	}

	apiErr, isAPI := gateway.AsAPIError(err)
	requeue := isAPI && apiErr.ClientRetry
	switch {
	case requeue:
		c.log.Info("Service call via MQ produced error, but will be requeued",
			zap.String("error", apiErr.Error()))
	case isAPI:
		c.log.Error("Service call via MQ produced permanent error",
			zap.String("error", apiErr.Error()))
	default:
		// Unknown failure, no way to tell whether a retry is safe.
		c.log.Error("unexpected error while serving message", zap.Error(err))
	}

	if nackErr := d.Nack(false, requeue); nackErr != nil {
		c.log.Error("failed to nack message", zap.Error(nackErr))
	}
	if requeue {
		metrics.MQMessages.WithLabelValues("requeue").Inc()
	} else {
		metrics.MQMessages.WithLabelValues("abandon").Inc()
	}
}

// serve decodes the message, resolves the addressed method and runs it
// through the pipeline.
func (c *Consumer) serve(ctx context.Context, d amqp.Delivery) error {
	var call ServiceCall
	if err := json.Unmarshal(d.Body, &call); err != nil {
		return gateway.NewBadRequestError("Unexpected data").WithCause(err)
	}
	if call.Service == "" || call.Method == "" {
		return gateway.NewBadRequestError("Message data has wrong format")
	}
	if call.Version == 0 {
		call.Version = 1
	}

	svc, ok := c.registry.Service(call.Service, call.Version)
	if !ok {
		return gateway.NewServiceNotFoundError(
			fmt.Sprintf("Service %s v.%d is unavailable", call.Service, call.Version))
	}
	method, ok := svc.Method(call.Method)
	if !ok {
		return gateway.NewServiceNotFoundError(
			fmt.Sprintf("Method %s is unavailable", call.Method))
	}

	requestID := d.MessageId
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = contextx.WithRequestID(ctx, requestID)
	log := c.log.With(zap.String("request_id", requestID))

	req := gateway.NewRequest(svc, method, newTransportRequest(call.Payload), method.Webhook)
	log.Debug("message received",
		zap.String("routing_key", d.RoutingKey),
		zap.String("path", req.PathRepr()),
	)

	start := time.Now()
	_, err := c.pipeline.Execute(ctx, req)
	code := "ok"
	if err != nil {
		code = gateway.FromError(err).Code
	}
	metrics.RequestsTotal.WithLabelValues(call.Service, call.Method, code).Inc()
	metrics.RequestDuration.WithLabelValues(call.Service, call.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	log.Debug("handled message", zap.String("path", req.PathRepr()))
	return nil
}
