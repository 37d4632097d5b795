package currency

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Mocked quotes every currency at 1 and converts without touching any
// upstream. Meant for tests and local runs.
type Mocked struct {
	*gateway.BaseProvider
}

// NewMocked builds the mocked rates provider.
func NewMocked(log *zap.Logger) *Mocked {
	p := &Mocked{BaseProvider: gateway.NewBaseProvider("_mocked_", "Mocked", log)}
	p.Handle("get_rates", p.getRates)
	p.Handle("convert", p.convert)
	return p
}

func (p *Mocked) getRates(_ context.Context, args interface{}) (interface{}, error) {
	query, ok := args.(RatesQuery)
	if !ok {
		return nil, gateway.NewInternalError("rates query expected")
	}

	datetime := query.Date
	if datetime == "" {
		datetime = "latest"
	}
	rates := &Rates{Base: query.Base, Datetime: datetime}
	for _, currency := range query.Currencies {
		rates.Rates = append(rates.Rates, Rate{Currency: currency, Value: decimal.NewFromInt(1)})
	}
	return rates, nil
}

func (p *Mocked) convert(_ context.Context, args interface{}) (interface{}, error) {
	query, ok := args.(ConvertQuery)
	if !ok {
		return nil, gateway.NewInternalError("convert query expected")
	}

	converted := make(map[string]decimal.Decimal, len(query.To))
	for _, currency := range query.To {
		converted[currency] = query.Amount
	}
	return converted, nil
}
