// Package email exposes transactional email sending over interchangeable
// delivery providers.
package email

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Name is the service name requests are routed by.
const Name = "email"

var messageSchema = gateway.MustCompileSchema(`{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"title": "Email Message",
	"type": "object",
	"additionalProperties": false,
	"definitions": {
		"Person": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"email": {"type": "string", "format": "email"},
				"name": {"type": "string"}
			},
			"required": ["email"]
		}
	},
	"properties": {
		"from_email": {"$ref": "#/definitions/Person"},
		"reply_to": {"$ref": "#/definitions/Person"},
		"to": {"type": "array", "items": {"$ref": "#/definitions/Person"}, "minItems": 1},
		"cc": {"type": "array", "items": {"$ref": "#/definitions/Person"}, "minItems": 1},
		"bcc": {"type": "array", "items": {"$ref": "#/definitions/Person"}, "minItems": 1},
		"subject": {"type": "string"},
		"body_plain_text": {"type": "string"},
		"body_html": {"type": "string"},
		"transform_css": {"type": "boolean", "default": false}
	},
	"required": ["from_email", "to", "subject", "body_plain_text"]
}`)

// NewService assembles the email service over the given providers.
func NewService(providers []gateway.Provider, log *zap.Logger) (*gateway.Service, error) {
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "Emails service",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "send", HTTPMethod: http.MethodPost, Schema: messageSchema, Handler: send},
			{Name: "save_email_status", HTTPMethod: http.MethodPost, Webhook: true, Handler: saveEmailStatus},
		},
	}, log)
}

func send(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	data, err := req.Data(ctx)
	if err != nil {
		return nil, err
	}

	// transform_css is accepted for client compatibility. Inlining CSS into
	// style attributes is left to the upstream template pipeline, the body
	// goes out as submitted.
	result, err := req.Service.FailoverProviderCall(ctx, req, "send", data)
	if err != nil {
		return nil, err
	}
	if sent, ok := result.(bool); !ok || !sent {
		return nil, gateway.NewServiceInternalError("Sorry, can't send the email")
	}
	return gateway.NewResponse(map[string]interface{}{"sent": true}), nil
}

// saveEmailStatus takes delivery event callbacks from the providers. The
// events are acknowledged and dropped for now.
func saveEmailStatus(context.Context, *gateway.Request) (*gateway.Response, error) {
	return gateway.NewResponse(map[string]interface{}{}), nil
}
