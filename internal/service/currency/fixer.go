package currency

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

// FixerIO serves exchange rates published by fixer.io.
type FixerIO struct {
	*gateway.BaseProvider

	cfg    *config.Config
	client *upstream.Client
}

// NewFixerIO builds the fixer.io rates provider.
func NewFixerIO(cfg *config.Config, client *upstream.Client, log *zap.Logger) *FixerIO {
	p := &FixerIO{
		BaseProvider: gateway.NewBaseProvider("fixer_io", "Fixer.io", log),
		cfg:          cfg,
		client:       client,
	}
	p.Handle("get_rates", p.getRates)
	p.Handle("convert", p.convert)
	return p
}

func (p *FixerIO) getRates(ctx context.Context, args interface{}) (interface{}, error) {
	query, ok := args.(RatesQuery)
	if !ok {
		return nil, gateway.NewInternalError("rates query expected")
	}
	return p.fetchRates(ctx, query)
}

// convert quotes the target currencies against the source one and applies
// the rates to the requested amount.
func (p *FixerIO) convert(ctx context.Context, args interface{}) (interface{}, error) {
	query, ok := args.(ConvertQuery)
	if !ok {
		return nil, gateway.NewInternalError("convert query expected")
	}

	rates, err := p.fetchRates(ctx, RatesQuery{Base: query.From, Currencies: query.To})
	if err != nil {
		return nil, err
	}

	converted := make(map[string]decimal.Decimal, len(rates.Rates))
	for _, rate := range rates.Rates {
		converted[rate.Currency] = query.Amount.Mul(rate.Value)
	}
	return converted, nil
}

func (p *FixerIO) fetchRates(ctx context.Context, query RatesQuery) (*Rates, error) {
	date := query.Date
	if date == "" {
		date = "latest"
	}

	params := url.Values{"base": {query.Base}}
	if len(query.Currencies) > 0 {
		params.Set("symbols", strings.Join(query.Currencies, ","))
	}

	target := upstream.JoinURL(p.cfg.FixerAPIURL, date)
	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method: http.MethodGet,
		URL:    target,
		Query:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Provider error when get '%s': %s", target, resp.Body))
	}

	var reply struct {
		Base  string             `json:"base"`
		Date  string             `json:"date"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Unexpected reply from '%s': %s", target, resp.Body))
	}

	currencies := make([]string, 0, len(reply.Rates))
	for currency := range reply.Rates {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	rates := &Rates{
		Base:     reply.Base,
		Datetime: reply.Date,
		Rates:    make([]Rate, 0, len(currencies)),
	}
	for _, currency := range currencies {
		rates.Rates = append(rates.Rates, Rate{
			Currency: currency,
			Value:    decimal.NewFromFloat(reply.Rates[currency]),
		})
	}
	return rates, nil
}
