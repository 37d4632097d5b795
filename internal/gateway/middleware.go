package gateway

import "context"

// Middleware wraps request handling on both sides of the service call.
//
// ProcessRequest runs before the handler. A non-nil response short-circuits
// the handler, a non-nil error aborts the ingress phase.
//
// ProcessResponse runs after the handler, always, even when ingress or the
// handler failed. It receives the response so far (nil when the call
// errored) and the call error (nil on success). A non-nil return value
// replaces the response for the middlewares that follow.
type Middleware interface {
	Name() string

	// WebhookFriendly middlewares also run for webhook requests. Everything
	// else is skipped there, webhooks carry no caller credentials.
	WebhookFriendly() bool

	ProcessRequest(ctx context.Context, req *Request) (*Response, error)
	ProcessResponse(ctx context.Context, req *Request, resp *Response, callErr error) (*Response, error)
}

// PassMiddleware is an embeddable no-op base. Middlewares that only care
// about one phase embed it and override the rest.
type PassMiddleware struct{}

func (PassMiddleware) WebhookFriendly() bool { return false }

func (PassMiddleware) ProcessRequest(context.Context, *Request) (*Response, error) {
	return nil, nil
}

func (PassMiddleware) ProcessResponse(context.Context, *Request, *Response, error) (*Response, error) {
	return nil, nil
}
