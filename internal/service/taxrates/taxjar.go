package taxrates

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

// TaxJar calculates sales taxes with the TaxJar smart sales tax API. It
// declares no supported countries yet, so the domestic sale strategy never
// picks it until the account coverage is confirmed.
type TaxJar struct {
	*gateway.BaseProvider

	cfg    *config.Config
	client *upstream.Client
}

// NewTaxJar builds the TaxJar provider.
func NewTaxJar(cfg *config.Config, client *upstream.Client, log *zap.Logger) *TaxJar {
	p := &TaxJar{
		BaseProvider: gateway.NewBaseProvider("taxjar", "TaxJar", log),
		cfg:          cfg,
		client:       client,
	}
	p.Handle("taxes_for_sale", p.taxesForSale)
	return p
}

// SupportedCountries reports the markets the TaxJar account covers.
func (p *TaxJar) SupportedCountries() []string {
	return nil
}

func (p *TaxJar) taxesForSale(ctx context.Context, args interface{}) (interface{}, error) {
	sale, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("sale query expected")
	}

	if err := p.RequireConfig("TAXJAR_API_TOKEN", p.cfg.TaxjarAPIToken); err != nil {
		return nil, err
	}

	rawLines, _ := sale["lines"].([]interface{})
	items := make([]map[string]interface{}, 0, len(rawLines))
	for _, raw := range rawLines {
		line, _ := raw.(map[string]interface{})
		item := map[string]interface{}{
			"id":               line["line_number"],
			"quantity":         line["quantity"],
			"product_tax_code": str(line["tax_code"]),
		}
		amount := toFloat(line["amount_total"])
		if quantity := toFloat(line["quantity"]); amount != 0 && quantity != 0 {
			item["unit_price"] = amount / quantity
		}
		items = append(items, item)
	}

	payload := map[string]interface{}{
		"amount":          sale["amount"],
		"shipping":        0,
		"nexus_addresses": []interface{}{},
		"line_items":      items,
	}
	taxjarAddress(payload, "to", sale["ship_to_address"])
	taxjarAddress(payload, "from", sale["ship_from_address"])

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method: http.MethodPost,
		URL:    upstream.JoinURL(p.cfg.TaxjarAPIURL, "taxes"),
		Headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": "Bearer " + p.cfg.TaxjarAPIToken,
		},
		JSON: payload,
	})
	if err != nil {
		return nil, err
	}

	var reply map[string]interface{}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError("Unknown response from upstream")
	}
	if _, failed := reply["error"]; failed {
		detail := str(reply["detail"])
		if toFloat(reply["status"]) == http.StatusBadRequest {
			return nil, gateway.NewBadRequestError(detail)
		}
		return nil, gateway.NewProviderError(detail)
	}
	return parseTaxJarTaxes(reply)
}

// taxjarAddress flattens a query address into prefixed to_*/from_* request
// fields, skipping empty values.
func taxjarAddress(payload map[string]interface{}, dir string, v interface{}) {
	addr, _ := v.(map[string]interface{})
	fields := map[string]string{
		"zip":     str(addr["postal_code"]),
		"country": str(addr["country_code"]),
		"state":   str(addr["region_code"]),
		"city":    str(addr["city"]),
		"street":  strings.TrimSpace(str(addr["street_line1"]) + " " + str(addr["street_line2"])),
	}
	for key, value := range fields {
		if value != "" {
			payload[dir+"_"+key] = value
		}
	}
}

// parseTaxJarTaxes maps a TaxJar /taxes reply onto the normalized response.
// TaxJar reports one rate per jurisdiction level, so each level with a
// nonzero rate becomes its own line tax.
func parseTaxJarTaxes(reply map[string]interface{}) (*SaleTaxes, error) {
	tax, ok := reply["tax"].(map[string]interface{})
	if !ok {
		return nil, gateway.NewProviderError("Unknown response from upstream")
	}

	taxes := &SaleTaxes{TotalTax: toFloat(tax["amount_to_collect"])}

	jurisdictions, _ := tax["jurisdictions"].(map[string]interface{})
	country := str(jurisdictions["country"])
	state := str(jurisdictions["state"])
	county := str(jurisdictions["county"])
	city := str(jurisdictions["city"])

	breakdown, _ := tax["breakdown"].(map[string]interface{})
	rawLines, _ := breakdown["line_items"].([]interface{})
	for _, raw := range rawLines {
		line, _ := raw.(map[string]interface{})
		parsed := LineTaxes{LineNumber: toInt(line["id"])}

		levels := []struct {
			rate         float64
			jurisType    string
			jurisdiction string
			label        string
		}{
			{toFloat(line["state_sales_tax_rate"]), "STA", state, state + " STATE TAX"},
			{toFloat(line["county_tax_rate"]), "CTY", county, county + " COUNTY TAX"},
			{toFloat(line["city_tax_rate"]), "CIT", city, city + " CITY TAX"},
			{toFloat(line["special_tax_rate"]), "STJ", state, state + " SPECIAL TAX"},
		}
		for _, level := range levels {
			if level.rate == 0 || level.jurisdiction == "" {
				continue
			}
			parsed.Taxes = append(parsed.Taxes, LineTax{
				Rate:            level.rate,
				TaxName:         level.label,
				Country:         country,
				Region:          state,
				TaxCodeID:       fmt.Sprintf("%s_%s_%s", country, level.jurisType, level.jurisdiction),
				TaxType:         "Sales",
				TaxJurisdiction: level.jurisdiction,
			})
		}
		taxes.Lines = append(taxes.Lines, parsed)
	}
	return taxes, nil
}
