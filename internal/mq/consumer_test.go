package mq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

// markerMiddleware counts ingress executions. Not webhook friendly.
type markerMiddleware struct {
	gateway.PassMiddleware
	calls int
}

func (*markerMiddleware) Name() string { return "marker" }

func (m *markerMiddleware) ProcessRequest(context.Context, *gateway.Request) (*gateway.Response, error) {
	m.calls++
	return nil, nil
}

func newConsumerFixture(t *testing.T, handler gateway.HandlerFunc, mws ...gateway.Middleware) *Consumer {
	t.Helper()
	svc, err := gateway.NewService(gateway.ServiceConfig{
		Name: "email",
		Methods: []*gateway.Method{
			{Name: "send", Handler: handler},
			{Name: "save_email_status", Webhook: true, Handler: handler},
		},
	}, zap.NewNop())
	require.NoError(t, err)

	registry := gateway.New()
	require.NoError(t, registry.Register(svc))
	return NewConsumer(nil, registry, gateway.NewPipeline(mws, zap.NewNop()), zap.NewNop())
}

func delivery(body string) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body)}, ack
}

func TestConsumerAcksHandledMessage(t *testing.T) {
	var got map[string]interface{}
	consumer := newConsumerFixture(t, func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		data, err := req.Data(ctx)
		if err != nil {
			return nil, err
		}
		got = data
		return gateway.NewResponse(map[string]interface{}{"sent": true}), nil
	})

	d, ack := delivery(`{"service": "email", "method": "send", "payload": {"to": "bob@example.com"}}`)
	consumer.HandleDelivery(context.Background(), d)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	require.NotNil(t, got, "handler never ran")
	assert.Equal(t, "bob@example.com", got["to"], "message version defaults to 1")
}

func TestConsumerPayloadDefaultsToEmptyObject(t *testing.T) {
	var got map[string]interface{}
	consumer := newConsumerFixture(t, func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		data, err := req.Data(ctx)
		if err != nil {
			return nil, err
		}
		got = data
		return gateway.NewResponse(nil), nil
	})

	d, ack := delivery(`{"service": "email", "method": "send"}`)
	consumer.HandleDelivery(context.Background(), d)

	assert.True(t, ack.acked)
	assert.Empty(t, got)
}

func TestConsumerAbandonsUndeliverableMessages(t *testing.T) {
	cases := map[string]string{
		"not an object":   `[1, 2]`,
		"missing service": `{"method": "send"}`,
		"missing method":  `{"service": "email"}`,
		"unknown service": `{"service": "nope", "method": "send"}`,
		"unknown version": `{"service": "email", "version": 2, "method": "send"}`,
		"unknown method":  `{"service": "email", "method": "missing"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			consumer := newConsumerFixture(t, func(context.Context, *gateway.Request) (*gateway.Response, error) {
				called = true
				return gateway.NewResponse(nil), nil
			})

			d, ack := delivery(body)
			consumer.HandleDelivery(context.Background(), d)

			assert.False(t, ack.acked)
			assert.True(t, ack.nacked)
			assert.False(t, ack.requeue, "undeliverable messages must not requeue")
			assert.False(t, called)
		})
	}
}

func TestConsumerRequeuesOnClientRetry(t *testing.T) {
	consumer := newConsumerFixture(t, func(context.Context, *gateway.Request) (*gateway.Response, error) {
		return nil, gateway.NewFailoverFailError()
	})

	d, ack := delivery(`{"service": "email", "method": "send"}`)
	consumer.HandleDelivery(context.Background(), d)

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestConsumerAbandonsOnPermanentError(t *testing.T) {
	calls := 0
	consumer := newConsumerFixture(t, func(context.Context, *gateway.Request) (*gateway.Response, error) {
		calls++
		return nil, gateway.NewBadRequestError("broken payload")
	})

	d, ack := delivery(`{"service": "email", "method": "send"}`)
	consumer.HandleDelivery(context.Background(), d)

	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)
	assert.Equal(t, 1, calls)
}

func TestConsumerRunsWebhookMethodsInWebhookMode(t *testing.T) {
	marker := &markerMiddleware{}
	consumer := newConsumerFixture(t, func(context.Context, *gateway.Request) (*gateway.Response, error) {
		return gateway.NewResponse(nil), nil
	}, marker)

	d, ack := delivery(`{"service": "email", "method": "save_email_status"}`)
	consumer.HandleDelivery(context.Background(), d)
	assert.True(t, ack.acked)
	assert.Equal(t, 0, marker.calls, "webhook methods skip unfriendly middlewares")

	d, ack = delivery(`{"service": "email", "method": "send"}`)
	consumer.HandleDelivery(context.Background(), d)
	assert.True(t, ack.acked)
	assert.Equal(t, 1, marker.calls)
}

func TestTransportRequest(t *testing.T) {
	tr := newTransportRequest(nil)

	body, err := tr.Body()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), body)
	assert.Equal(t, "", tr.Method())
	assert.Equal(t, "amqp", tr.Scheme())
	assert.Equal(t, "//sgateway_calls", tr.URL())

	tr = newTransportRequest([]byte(`{"a": 1}`))
	body, err = tr.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(body))
}

func TestLogRoutingKey(t *testing.T) {
	assert.Equal(t, "sgateway.log.service_request.email", LogRoutingKey("email"))
}
