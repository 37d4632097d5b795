package middleware

import (
	"context"
	"time"

	"github.com/semilimes/sgateway/internal/gateway"
)

// NameStartTime is the configuration name of the timing middleware.
const NameStartTime = "start_time"

// StartTime stamps the request arrival time so the logger middleware can
// report processing duration.
type StartTime struct {
	gateway.PassMiddleware
}

// NewStartTime builds the middleware.
func NewStartTime() *StartTime { return &StartTime{} }

func (*StartTime) Name() string          { return NameStartTime }
func (*StartTime) WebhookFriendly() bool { return true }

func (*StartTime) ProcessRequest(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	req.AddExtension(ExtStartTime, time.Now())
	return nil, nil
}
