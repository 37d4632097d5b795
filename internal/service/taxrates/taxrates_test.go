package taxrates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

type serviceTransport struct {
	body []byte
}

func (tr *serviceTransport) Method() string        { return "POST" }
func (tr *serviceTransport) Header(string) string  { return "" }
func (tr *serviceTransport) Query() url.Values     { return url.Values{} }
func (tr *serviceTransport) RawQuery() string      { return "" }
func (tr *serviceTransport) Body() ([]byte, error) { return tr.body, nil }
func (tr *serviceTransport) RemoteAddr() string    { return "10.0.0.1" }
func (tr *serviceTransport) URL() string           { return "/tax_rates/v1/taxes_for_sale" }
func (tr *serviceTransport) Scheme() string        { return "http" }

func newTaxService(t *testing.T, providers ...gateway.Provider) *gateway.Service {
	t.Helper()
	svc, err := NewService(providers, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, gateway.New().Register(svc))
	return svc
}

func saleRequest(t *testing.T, svc *gateway.Service, body interface{}) *gateway.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	m, ok := svc.Method("taxes_for_sale")
	require.True(t, ok)
	return gateway.NewRequest(svc, m, &serviceTransport{body: raw}, false)
}

func validSaleQuery() map[string]interface{} {
	return map[string]interface{}{
		"sale_id":     "S-1001",
		"customer_id": "C-204",
		"lines": []interface{}{
			map[string]interface{}{
				"line_number":  1,
				"quantity":     2,
				"amount_total": 100,
				"description":  "Steel bolts",
			},
		},
		"date":     "2023-06-01",
		"amount":   100,
		"currency": "USD",
		"ship_from_address": map[string]interface{}{
			"street_line1": "351 30th Street NE",
			"city":         "Ruskin",
			"region_code":  "FL",
			"country_code": "US",
			"postal_code":  "33570",
		},
		"ship_to_address": map[string]interface{}{
			"street_line1": "9500 Gilman Drive",
			"city":         "La Jolla",
			"region_code":  "CA",
			"country_code": "US",
			"postal_code":  "92093",
		},
	}
}

// decodedQuery round-trips the fixture through JSON, so value types match
// what a provider sees on a live request.
func decodedQuery(t *testing.T) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(validSaleQuery())
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestTaxesForSaleNormalizesProviderResponse(t *testing.T) {
	svc := newTaxService(t, NewMocked(zap.NewNop()))
	req := saleRequest(t, svc, validSaleQuery())

	resp, err := svc.CallMethod(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "_mocked_", req.LoggableProperties()["provider"])

	taxes, ok := resp.Data.(*SaleTaxes)
	require.True(t, ok)
	assert.Equal(t, 0.0, taxes.TotalTax)
	require.Len(t, taxes.Lines, 1)
	assert.Equal(t, 1, taxes.Lines[0].LineNumber)
	require.Len(t, taxes.Lines[0].Taxes, 1)
	assert.Equal(t, LineTax{
		Rate:            0,
		TaxName:         "FL STATE TAX",
		Country:         "US",
		Region:          "FL",
		TaxCodeID:       "US_STA_FLORIDA",
		TaxType:         "Sales",
		TaxJurisdiction: "FLORIDA",
	}, taxes.Lines[0].Taxes[0])
}

func TestTaxesForSaleValidatesQuery(t *testing.T) {
	svc := newTaxService(t, NewMocked(zap.NewNop()))
	query := validSaleQuery()
	delete(query, "customer_id")
	req := saleRequest(t, svc, query)

	_, err := svc.CallMethod(context.Background(), req)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ServiceBadRequestError", apiErr.Name)
	assert.Equal(t, "Input schema error", apiErr.Message)
}

func TestDomesticSaleSkipsForeignProviders(t *testing.T) {
	taxjar := NewTaxJar(&config.Config{}, upstream.New(zap.NewNop()), zap.NewNop())
	svc := newTaxService(t, taxjar, NewMocked(zap.NewNop()))
	req := saleRequest(t, svc, validSaleQuery())

	_, err := svc.CallMethod(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "_mocked_", req.LoggableProperties()["provider"])
}

func TestDomesticSaleWithoutSupportedProvider(t *testing.T) {
	taxjar := NewTaxJar(&config.Config{}, upstream.New(zap.NewNop()), zap.NewNop())
	svc := newTaxService(t, taxjar)
	req := saleRequest(t, svc, validSaleQuery())

	_, err := svc.CallMethod(context.Background(), req)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ProviderUnavailable", apiErr.Name)
	assert.Equal(t, "Can not select service provider", apiErr.Message)
}

func TestAvataxTaxesForSale(t *testing.T) {
	var (
		user    string
		pass    string
		path    string
		payload map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{
			"code": "S-1001", "totalTax": 8.5,
			"lines": [{"lineNumber": "1", "details": [
				{"rate": 0.085, "taxName": "CA STATE TAX", "country": "US", "region": "CA",
				 "jurisType": "STA", "jurisName": "CALIFORNIA", "taxType": "Sales"}]}]
		}`))
	}))
	defer srv.Close()

	cfg := &config.Config{AvataxAPIURL: srv.URL, AlavaraAccountID: "acct", AlavaraLicenceKey: "licence"}
	p := NewAvatax(cfg, upstream.New(zap.NewNop()), zap.NewNop())

	result, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
	require.NoError(t, err)

	assert.Equal(t, "acct", user)
	assert.Equal(t, "licence", pass)
	assert.Equal(t, "/transactions/create", path)
	assert.Equal(t, "SalesOrder", payload["type"])
	assert.Equal(t, "C-204", payload["customerCode"])
	assert.Equal(t, "USD", payload["currencyCode"])

	lines, ok := payload["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 1)
	line, _ := lines[0].(map[string]interface{})
	assert.Equal(t, float64(1), line["number"])
	assert.Equal(t, float64(100), line["amount"])

	addresses, _ := payload["addresses"].(map[string]interface{})
	shipFrom, _ := addresses["shipFrom"].(map[string]interface{})
	assert.Equal(t, "351 30th Street NE", shipFrom["line1"])
	// No explicit order addresses in the query, so both points fall back.
	origin, _ := addresses["pointOfOrderOrigin"].(map[string]interface{})
	assert.Equal(t, "351 30th Street NE", origin["line1"])
	acceptance, _ := addresses["pointOfOrderAcceptance"].(map[string]interface{})
	assert.Equal(t, "9500 Gilman Drive", acceptance["line1"])

	taxes, ok := result.(*SaleTaxes)
	require.True(t, ok)
	assert.Equal(t, 8.5, taxes.TotalTax)
	require.Len(t, taxes.Lines, 1)
	assert.Equal(t, 1, taxes.Lines[0].LineNumber)
	require.Len(t, taxes.Lines[0].Taxes, 1)
	assert.Equal(t, "US_STA_CALIFORNIA", taxes.Lines[0].Taxes[0].TaxCodeID)
	assert.Equal(t, 0.085, taxes.Lines[0].Taxes[0].Rate)
}

func TestAvataxIncorrectDataBecomesBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"target": "IncorrectData", "message": "Invalid ZIP code",
			"details": [{"message": "The ZIP is not valid for FL"}]}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{AvataxAPIURL: srv.URL, AlavaraAccountID: "acct", AlavaraLicenceKey: "licence"}
	p := NewAvatax(cfg, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ServiceBadRequestError", apiErr.Name)
	assert.Equal(t, "Invalid ZIP code", apiErr.Message)
	assert.NotNil(t, apiErr.Payload["error_details"])
}

func TestAvataxUnknownResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	cfg := &config.Config{AvataxAPIURL: srv.URL, AlavaraAccountID: "acct", AlavaraLicenceKey: "licence"}
	p := NewAvatax(cfg, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ProviderError", apiErr.Name)
	assert.Equal(t, "Unknown response from upstream", apiErr.Message)
}

func TestAvataxRequiresCredentials(t *testing.T) {
	p := NewAvatax(&config.Config{}, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ConfigurationError", apiErr.Name)
}

func TestTaxJarTaxesForSale(t *testing.T) {
	var (
		auth    string
		path    string
		payload map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"tax": {"amount_to_collect": 1.09, "rate": 0.1025,
			"jurisdictions": {"country": "US", "state": "CA", "county": "LOS ANGELES", "city": "LOS ANGELES"},
			"breakdown": {"line_items": [
				{"id": "1", "state_sales_tax_rate": 0.0625, "county_tax_rate": 0.01,
				 "city_tax_rate": 0, "special_tax_rate": 0.03}]}}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{TaxjarAPIURL: srv.URL, TaxjarAPIToken: "tj-token"}
	p := NewTaxJar(cfg, upstream.New(zap.NewNop()), zap.NewNop())

	result, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tj-token", auth)
	assert.Equal(t, "/taxes", path)
	assert.Equal(t, "92093", payload["to_zip"])
	assert.Equal(t, "33570", payload["from_zip"])
	assert.Equal(t, "CA", payload["to_state"])
	assert.Equal(t, float64(100), payload["amount"])

	items, ok := payload["line_items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	item, _ := items[0].(map[string]interface{})
	assert.Equal(t, float64(50), item["unit_price"])

	taxes, ok := result.(*SaleTaxes)
	require.True(t, ok)
	assert.Equal(t, 1.09, taxes.TotalTax)
	require.Len(t, taxes.Lines, 1)
	assert.Equal(t, 1, taxes.Lines[0].LineNumber)
	require.Len(t, taxes.Lines[0].Taxes, 3)
	assert.Equal(t, "US_STA_CA", taxes.Lines[0].Taxes[0].TaxCodeID)
	assert.Equal(t, "CA STATE TAX", taxes.Lines[0].Taxes[0].TaxName)
	assert.Equal(t, "US_CTY_LOS ANGELES", taxes.Lines[0].Taxes[1].TaxCodeID)
	assert.Equal(t, "US_STJ_CA", taxes.Lines[0].Taxes[2].TaxCodeID)
}

func TestTaxJarErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		reply    string
		wantName string
	}{
		{
			name:     "bad request",
			reply:    `{"error": "Bad Request", "detail": "to_zip invalid", "status": 400}`,
			wantName: "ServiceBadRequestError",
		},
		{
			name:     "server error",
			reply:    `{"error": "Internal Server Error", "detail": "engine down", "status": 503}`,
			wantName: "ProviderError",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.reply))
			}))
			defer srv.Close()

			cfg := &config.Config{TaxjarAPIURL: srv.URL, TaxjarAPIToken: "tj-token"}
			p := NewTaxJar(cfg, upstream.New(zap.NewNop()), zap.NewNop())

			_, err := p.Call(context.Background(), "taxes_for_sale", decodedQuery(t))
			apiErr, ok := gateway.AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantName, apiErr.Name)
		})
	}
}
