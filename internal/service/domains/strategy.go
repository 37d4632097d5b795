package domains

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/semilimes/sgateway/internal/gateway"
)

// RegistrantStrategy picks the registrar that sells the domain cheapest.
// Registrars reporting the domain unavailable are passed over.
type RegistrantStrategy struct {
	Domain string
}

func (s RegistrantStrategy) Select(ctx context.Context, _ *gateway.Request,
	providers []gateway.Provider,
) (gateway.Provider, error) {
	type quote struct {
		provider gateway.Provider
		price    decimal.Decimal
	}

	var quotes []quote
	for _, prov := range providers {
		result, err := prov.Call(ctx, "check_availability", s.Domain)
		if err != nil {
			return nil, err
		}
		availability, ok := result.(*Availability)
		if !ok || !availability.Available {
			continue
		}
		quotes = append(quotes, quote{provider: prov, price: availability.Price})
	}
	if len(quotes) == 0 {
		return nil, gateway.NewBadRequestError(
			"This domain seems to be unavailable (or invalid). Check availability first or try again later.")
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].price.LessThan(quotes[j].price)
	})
	return quotes[0].provider, nil
}
