package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/mq"
)

// NameLogger is the configuration name of the request-log middleware.
const NameLogger = "logger"

// LogPublisher sends request-log entries to the message bus. *mq.Publisher
// implements it.
type LogPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Logger emits one log entry per request: the called path, the protocol,
// fulfillment, the loggable properties gathered along the pipeline, and the
// error when there is one. Entries go to the message bus under
// SERVICE_MQ_LOGGING, otherwise to the debug log.
type Logger struct {
	gateway.PassMiddleware

	pub       LogPublisher
	mqLogging bool
	debug     bool
	log       *zap.Logger
}

// NewLogger builds the middleware. pub may be nil when the bus is not
// configured; MQ logging then degrades to warnings.
func NewLogger(pub LogPublisher, mqLogging, debug bool, log *zap.Logger) *Logger {
	return &Logger{
		pub:       pub,
		mqLogging: mqLogging,
		debug:     debug,
		log:       log.With(zap.String("middleware", NameLogger)),
	}
}

func (*Logger) Name() string          { return NameLogger }
func (*Logger) WebhookFriendly() bool { return true }

func (l *Logger) ProcessResponse(ctx context.Context, req *gateway.Request, resp *gateway.Response, callErr error) (*gateway.Response, error) {
	if resp == nil && callErr != nil {
		l.log.Debug("request error", zap.Any("error", gateway.FromError(callErr).ToMap()))
	}

	entry := l.buildEntry(req, resp, callErr)

	if !l.mqLogging {
		l.log.Debug("log data", zap.Any("data", entry))
		return nil, nil
	}

	if err := l.publish(ctx, req.Service.Name(), entry); err != nil {
		if l.debug {
			return nil, err
		}
		// Logs matter, but a dead broker must not fail requests.
		l.log.Warn("can not send log to MQ", zap.Error(err))
	}
	return nil, nil
}

func (l *Logger) buildEntry(req *gateway.Request, resp *gateway.Response, callErr error) map[string]interface{} {
	format := "Request to %s [%s]"
	if req.IsWebhook() {
		format = "Webhook callback on %s [%s]"
	}

	if ext, ok := req.Extension(ExtStartTime); ok {
		if start, ok := ext.(time.Time); ok {
			elapsed := time.Since(start).Seconds()
			req.AddLoggableProperty("processing_time", math.Round(elapsed*1000)/1000)
		}
	}

	entry := map[string]interface{}{
		"log_message":       fmt.Sprintf(format, req.Transport.URL(), req.Transport.Method()),
		"protocol":          req.Transport.Scheme(),
		"service":           req.Service.Name(),
		"version":           req.Service.Version(),
		"method":            req.Method.Name,
		"request_fulfilled": resp != nil && resp.RequestFulfilled,
	}
	for k, v := range req.LoggableProperties() {
		entry["prop_"+k] = v
	}
	if callErr != nil {
		apiErr := gateway.FromError(callErr)
		entry["error_name"] = apiErr.Name
		entry["error_msg"] = apiErr.Message
	}
	return entry
}

func (l *Logger) publish(ctx context.Context, service string, entry map[string]interface{}) error {
	if l.pub == nil {
		return errors.New("MQ producer not available")
	}
	return l.pub.Publish(ctx, mq.ExchangeTopic, mq.LogRoutingKey(service), entry)
}
