// Package currency exposes exchange rate lookup and amount conversion over
// rate providers.
package currency

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Name is the service name requests are routed by.
const Name = "currency_exchange"

var convertSchema = gateway.MustCompileSchema(`{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"title": "Convert Query",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"from_currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"to_currency": {"type": "array", "items": {"type": "string", "minLength": 3, "maxLength": 3}},
		"amount": {"type": "number", "minimum": 0}
	},
	"required": ["from_currency", "amount"]
}`)

// Rate is one currency quote.
type Rate struct {
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// Rates is the quote sheet a provider returns.
type Rates struct {
	Base     string `json:"base"`
	Rates    []Rate `json:"rates"`
	Datetime string `json:"datetime"`
}

// RatesQuery asks a provider for quotes. An empty Date means the latest
// published rates; an empty Currencies list means every currency the
// provider publishes.
type RatesQuery struct {
	Base       string
	Date       string
	Currencies []string
}

// ConvertQuery asks a provider to convert an amount from one currency into
// each of the target currencies.
type ConvertQuery struct {
	From   string
	To     []string
	Amount decimal.Decimal
}

// NewService assembles the currency exchange service over the given
// providers.
func NewService(providers []gateway.Provider, log *zap.Logger) (*gateway.Service, error) {
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "Currency Exchange service",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "rates", HTTPMethod: http.MethodGet, Handler: rates},
			{Name: "convert", HTTPMethod: http.MethodGet, Handler: convert},
		},
	}, log)
}

func rates(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		RequiredMethods: []string{"get_rates"},
	})
	if err != nil {
		return nil, err
	}

	date := req.Arg("date")
	if date != "" {
		if date, err = normalizeDate(date); err != nil {
			return nil, err
		}
	}

	base := req.Arg("base")
	if base == "" {
		base = "USD"
	}

	result, err := prov.Call(ctx, "get_rates", RatesQuery{
		Base:       base,
		Date:       date,
		Currencies: splitList(req.Arg("currencies")),
	})
	if err != nil {
		return nil, err
	}
	return gateway.NewResponse(result).WithParam(gateway.ParamGlobalCache, true), nil
}

func convert(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	amount, err := decimal.NewFromString(req.Arg("amount"))
	if err != nil {
		return nil, gateway.NewBadRequestError("`amount` must be a valid number")
	}

	// An absent `to` keeps the single empty element so the query fails
	// schema validation instead of silently converting into everything.
	to := strings.Split(req.Arg("to"), ",")
	toDoc := make([]interface{}, len(to))
	for i, c := range to {
		toDoc[i] = c
	}
	if err := convertSchema.Validate(map[string]interface{}{
		"from_currency": req.Arg("from"),
		"to_currency":   toDoc,
		"amount":        amount.InexactFloat64(),
	}); err != nil {
		return nil, err
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		RequiredMethods: []string{"convert"},
	})
	if err != nil {
		return nil, err
	}

	result, err := prov.Call(ctx, "convert", ConvertQuery{
		From:   req.Arg("from"),
		To:     to,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	return gateway.NewResponse(result).WithParam(gateway.ParamGlobalCache, true), nil
}

// normalizeDate parses a client-supplied date into YYYY-MM-DD.
func normalizeDate(raw string) (string, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	return "", gateway.NewBadRequestError("`date` is incorrect")
}

// splitList splits a comma separated query argument, dropping empty parts.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
