package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/pkg/contextx"
	"github.com/semilimes/sgateway/pkg/json"
)

// Publisher sends JSON messages to the bus. It reconnects through the
// shared client, so a dropped broker surfaces as a publish error rather
// than a poisoned channel.
type Publisher struct {
	client *Client
	log    *zap.Logger
}

// NewPublisher builds a publisher over the shared client.
func NewPublisher(client *Client, log *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		log:    log.With(zap.String("module", "mq.publisher")),
	}
}

// Publish marshals body as JSON and sends it as a persistent message. The
// request ID, when the context carries one, rides along as the message ID
// so consumers log the same identifier.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if err := p.client.Connect(); err != nil {
		return err
	}
	ch, err := p.client.Channel()
	if err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    contextx.RequestID(ctx),
			Timestamp:    time.Now(),
			Body:         data,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}
	p.log.Debug("message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)
	return nil
}
