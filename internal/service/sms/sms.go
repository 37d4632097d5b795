// Package sms exposes SMS sending over interchangeable delivery providers.
package sms

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Name is the service name requests are routed by.
const Name = "sms"

// The sender is either a phone number or an alphanumeric sender id of up to
// 11 characters with at least one letter. The letter requirement is a
// separate pattern because RE2 has no lookahead.
var messageSchema = gateway.MustCompileSchema(`{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"title": "SMS Message",
	"type": "object",
	"additionalProperties": false,
	"definitions": {
		"SenderNumber": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"value": {"type": "string", "pattern": "^(\\+\\d{1,3}[- ]?)?\\d{10}$"}
			},
			"required": ["value"]
		},
		"SenderAlphaname": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"value": {
					"type": "string",
					"allOf": [
						{"pattern": "^[a-zA-Z0-9 ]{1,11}$"},
						{"pattern": "[a-zA-Z]"}
					]
				}
			},
			"required": ["value"]
		}
	},
	"properties": {
		"sender": {
			"oneOf": [
				{"$ref": "#/definitions/SenderNumber"},
				{"$ref": "#/definitions/SenderAlphaname"}
			]
		},
		"to_number": {"type": "string"},
		"body": {"type": "string", "maxLength": 1600}
	},
	"required": ["sender", "to_number", "body"]
}`)

// NewService assembles the sms service over the given providers.
func NewService(providers []gateway.Provider, log *zap.Logger) (*gateway.Service, error) {
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "SMS Service",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "send", HTTPMethod: http.MethodPost, Schema: messageSchema, Handler: send},
		},
	}, log)
}

func send(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	data, err := req.Data(ctx)
	if err != nil {
		return nil, err
	}

	result, err := req.Service.FailoverProviderCall(ctx, req, "send_sms", data)
	if err != nil {
		return nil, err
	}
	if sent, ok := result.(bool); !ok || !sent {
		return nil, gateway.NewServiceInternalError("Sorry, can't send the SMS")
	}
	return gateway.NewResponse(map[string]interface{}{}), nil
}
