// Package taxrates exposes sales tax calculation for a sale shipped between
// two addresses. Vendor responses are normalized into a single shape, so
// callers never see which tax engine served them.
package taxrates

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Name is the service name requests are routed by.
const Name = "tax_rates"

var saleTaxSchema = gateway.MustCompileSchema(`{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"title": "Sale Tax Query",
	"type": "object",
	"additionalProperties": false,
	"definitions": {
		"SaleLine": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"line_number": {"type": "number", "minimum": 1},
				"quantity": {"type": "number", "minimum": 1},
				"amount_total": {"type": "number"},
				"item_code": {"type": "string", "maxLength": 50},
				"tax_code": {"type": "string", "maxLength": 25},
				"description": {"type": "string", "maxLength": 256}
			},
			"required": ["line_number", "quantity", "amount_total"]
		},
		"Address": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"street_line1": {"type": "string", "maxLength": 100},
				"street_line2": {"type": "string", "maxLength": 100},
				"city": {"type": "string", "maxLength": 50},
				"region_code": {"type": "string", "maxLength": 3},
				"country_code": {"type": "string", "minLength": 2, "maxLength": 2, "format": "iso-country-code"},
				"postal_code": {"type": "string", "maxLength": 11}
			}
		}
	},
	"properties": {
		"sale_id": {"type": "string", "maxLength": 50},
		"customer_id": {"type": "string", "maxLength": 50},
		"salesperson_id": {"type": "string", "maxLength": 25},
		"lines": {"type": "array", "items": {"$ref": "#/definitions/SaleLine"}},
		"date": {"type": "string", "format": "date"},
		"amount": {"type": "number"},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3, "format": "iso-currency-code"},
		"ship_from_address": {"$ref": "#/definitions/Address"},
		"ship_to_address": {"$ref": "#/definitions/Address"},
		"ordered_at_address": {"$ref": "#/definitions/Address"},
		"acceptence_at_address": {"$ref": "#/definitions/Address"}
	},
	"required": ["customer_id", "lines", "date", "currency", "ship_from_address", "ship_to_address"]
}`)

// LineTax is one jurisdiction's tax applied to a sale line.
type LineTax struct {
	Rate            float64 `json:"rate"`
	TaxName         string  `json:"tax_name"`
	Country         string  `json:"country"`
	Region          string  `json:"region"`
	TaxCodeID       string  `json:"tax_code_id"`
	TaxType         string  `json:"tax_type"`
	TaxJurisdiction string  `json:"tax_jurisdiction"`
}

// LineTaxes groups the taxes applied to a single sale line.
type LineTaxes struct {
	LineNumber int       `json:"line_number"`
	Taxes      []LineTax `json:"taxes"`
}

// SaleTaxes is the normalized tax engine response.
type SaleTaxes struct {
	TotalTax float64     `json:"total_tax"`
	Lines    []LineTaxes `json:"lines"`
}

// DomesticSaleStrategy keeps the first provider that declares support for
// the sale country. Providers opt in through gateway.CountrySupport.
type DomesticSaleStrategy struct {
	Country string
}

func (s DomesticSaleStrategy) Select(_ context.Context, _ *gateway.Request, providers []gateway.Provider) (gateway.Provider, error) {
	for _, p := range providers {
		support, ok := p.(gateway.CountrySupport)
		if !ok {
			continue
		}
		for _, country := range support.SupportedCountries() {
			if country == s.Country {
				return p, nil
			}
		}
	}
	return nil, nil
}

// NewService assembles the tax rates service over the given providers.
func NewService(providers []gateway.Provider, log *zap.Logger) (*gateway.Service, error) {
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "Sales tax rates (for a specified address and other)",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "taxes_for_sale", HTTPMethod: http.MethodPost, Schema: saleTaxSchema, Handler: taxesForSale},
		},
	}, log)
}

func taxesForSale(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	data, err := req.Data(ctx)
	if err != nil {
		return nil, err
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		RequiredMethods: []string{"taxes_for_sale"},
		Strategy:        DomesticSaleStrategy{Country: "US"},
	})
	if err != nil {
		return nil, err
	}

	result, err := prov.Call(ctx, "taxes_for_sale", data)
	if err != nil {
		return nil, err
	}
	return gateway.NewResponse(result), nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toFloat(v interface{}) float64 {
	n, _ := v.(float64)
	return n
}

// toInt accepts both numeric and stringified line numbers, which tax engines
// are known to mix.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
