package taxrates

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

// Avatax calculates US sales taxes with Avalara AvaTax. Every call creates a
// SalesOrder transaction, which is an estimate and is never committed.
type Avatax struct {
	*gateway.BaseProvider

	cfg    *config.Config
	client *upstream.Client
}

// NewAvatax builds the AvaTax provider.
func NewAvatax(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Avatax {
	p := &Avatax{
		BaseProvider: gateway.NewBaseProvider("avatax", "AvaTax by Alavara", log),
		cfg:          cfg,
		client:       client,
	}
	p.Handle("taxes_for_sale", p.taxesForSale)
	return p
}

// SupportedCountries reports the markets the AvaTax account covers.
func (p *Avatax) SupportedCountries() []string {
	return []string{"US"}
}

func (p *Avatax) taxesForSale(ctx context.Context, args interface{}) (interface{}, error) {
	sale, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("sale query expected")
	}

	if err := p.RequireConfig("ALAVARA_ACCOUNT_ID", p.cfg.AlavaraAccountID); err != nil {
		return nil, err
	}
	if err := p.RequireConfig("ALAVARA_LICENCE_KEY", p.cfg.AlavaraLicenceKey); err != nil {
		return nil, err
	}

	rawLines, _ := sale["lines"].([]interface{})
	lines := make([]map[string]interface{}, 0, len(rawLines))
	for _, raw := range rawLines {
		line, _ := raw.(map[string]interface{})
		lines = append(lines, map[string]interface{}{
			"number":      line["line_number"],
			"quantity":    line["quantity"],
			"amount":      line["amount_total"],
			"itemCode":    str(line["item_code"]),
			"taxCode":     str(line["tax_code"]),
			"description": str(line["description"]),
		})
	}

	addresses := map[string]interface{}{
		"shipFrom":               avataxAddress(sale["ship_from_address"]),
		"shipTo":                 avataxAddress(sale["ship_to_address"]),
		"pointOfOrderOrigin":     avataxAddress(sale["ship_from_address"]),
		"pointOfOrderAcceptance": avataxAddress(sale["ship_to_address"]),
	}
	if ordered, ok := sale["ordered_at_address"].(map[string]interface{}); ok && len(ordered) > 0 {
		addresses["pointOfOrderOrigin"] = avataxAddress(ordered)
	}
	if accepted, ok := sale["acceptence_at_address"].(map[string]interface{}); ok && len(accepted) > 0 {
		addresses["pointOfOrderAcceptance"] = avataxAddress(accepted)
	}

	payload := map[string]interface{}{
		"type":            "SalesOrder",
		"code":            str(sale["sale_id"]),
		"customerCode":    sale["customer_id"],
		"currencyCode":    sale["currency"],
		"salespersonCode": str(sale["salesperson_id"]),
		"date":            sale["date"],
		"lines":           lines,
		"addresses":       addresses,
	}

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.cfg.AvataxAPIURL, "transactions", "create"),
		Headers: map[string]string{"Accept": "application/json"},
		Auth:    &upstream.BasicAuth{Username: p.cfg.AlavaraAccountID, Password: p.cfg.AlavaraLicenceKey},
		JSON:    payload,
	})
	if err != nil {
		return nil, err
	}

	var reply map[string]interface{}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError("Unknown response from upstream")
	}
	if errDoc, failed := reply["error"].(map[string]interface{}); failed {
		return nil, avataxError(errDoc)
	}
	if _, ok := reply["code"]; !ok {
		return nil, gateway.NewProviderError("Unknown response from upstream")
	}

	p.Log().Debug("AvaTax transaction estimated", zap.Any("response", reply))
	return parseAvataxTaxes(reply), nil
}

// avataxAddress flattens a query address into the AvaTax shape. Empty
// addresses stay empty, so the engine falls back to its own defaults.
func avataxAddress(v interface{}) map[string]interface{} {
	addr, ok := v.(map[string]interface{})
	if !ok || len(addr) == 0 {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{
		"line1":      str(addr["street_line1"]),
		"line2":      str(addr["street_line2"]),
		"city":       str(addr["city"]),
		"postalCode": str(addr["postal_code"]),
	}
	if country := str(addr["country_code"]); country != "" {
		out["country"] = country
	}
	if region := str(addr["region_code"]); region != "" {
		out["region"] = region
	}
	return out
}

// avataxError maps the AvaTax error envelope: input problems go back to the
// caller, everything else is the provider's fault.
func avataxError(errDoc map[string]interface{}) error {
	message := str(errDoc["message"])
	if str(errDoc["target"]) == "IncorrectData" {
		return gateway.NewBadRequestError(message).WithPayload(map[string]interface{}{
			"error_details": errDoc["details"],
		})
	}
	return gateway.NewProviderError(message)
}

// parseAvataxTaxes normalizes an AvaTax transaction document. The composite
// tax_code_id keys a jurisdiction as country_jurisType_jurisName.
func parseAvataxTaxes(doc map[string]interface{}) *SaleTaxes {
	taxes := &SaleTaxes{TotalTax: toFloat(doc["totalTax"])}

	rawLines, _ := doc["lines"].([]interface{})
	for _, rawLine := range rawLines {
		line, _ := rawLine.(map[string]interface{})
		parsed := LineTaxes{LineNumber: toInt(line["lineNumber"])}

		details, _ := line["details"].([]interface{})
		for _, rawDetail := range details {
			detail, _ := rawDetail.(map[string]interface{})
			parsed.Taxes = append(parsed.Taxes, LineTax{
				Rate:    toFloat(detail["rate"]),
				TaxName: str(detail["taxName"]),
				Country: str(detail["country"]),
				Region:  str(detail["region"]),
				TaxCodeID: fmt.Sprintf("%s_%s_%s",
					str(detail["country"]), str(detail["jurisType"]), str(detail["jurisName"])),
				TaxType:         str(detail["taxType"]),
				TaxJurisdiction: str(detail["jurisName"]),
			})
		}
		taxes.Lines = append(taxes.Lines, parsed)
	}
	return taxes
}
