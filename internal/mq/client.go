// Package mq connects the gateway to the message bus: a managed AMQP
// connection, the JSON publisher behind request logs and async service
// calls, and the consumer serving gateway calls that arrive on the bus.
package mq

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// ExchangeTopic is the shared topic exchange everything flows through.
	ExchangeTopic = "sl.topic"
	// QueueServiceCalls feeds the gateway-call consumer.
	QueueServiceCalls = "sgateway_calls"
	// RoutingKeyServiceCall routes async follow-up calls back into the
	// gateway-call queue.
	RoutingKeyServiceCall = "sgateway.service_call"

	logRoutingKeyPrefix = "sgateway.log.service_request."
)

// LogRoutingKey is the routing key request-log entries are published under.
func LogRoutingKey(service string) string {
	return logRoutingKeyPrefix + service
}

// ErrNotConnected is returned when an operation needs a live channel and
// there is none.
var ErrNotConnected = errors.New("not connected to message bus")

// Client manages one AMQP connection and channel. Connect is idempotent and
// redials after a dropped connection, so callers may retry through it.
type Client struct {
	url string
	log *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient builds an unconnected client for the given broker URL.
func NewClient(url string, log *zap.Logger) *Client {
	return &Client{
		url: url,
		log: log.With(zap.String("module", "mq")),
	}
}

// Connect dials the broker and declares the gateway topology. A live
// connection is left untouched.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to dial message bus: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	c.log.Info("connected to message bus")
	return nil
}

// declareTopology sets up the durable exchange, the gateway-call queue, and
// the service-call binding. Declarations are idempotent on the broker side.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeTopic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeTopic, err)
	}
	if _, err := ch.QueueDeclare(QueueServiceCalls, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueServiceCalls, err)
	}
	if err := ch.QueueBind(QueueServiceCalls, RoutingKeyServiceCall, ExchangeTopic, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueServiceCalls, err)
	}
	return nil
}

// Channel returns the live channel, or ErrNotConnected.
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.conn == nil || c.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// IsAvailable reports whether the connection is up.
func (c *Client) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.channel = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.log.Error("failed to close message bus connection", zap.Error(err))
		return err
	}
	return nil
}
