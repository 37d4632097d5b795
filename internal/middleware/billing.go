package middleware

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// NameBilling is the configuration name of the billing middleware.
const NameBilling = "billing"

// Billing reports the call's cost through response headers and the request
// log. Pricing is a service -> method -> USD cost table; unpriced methods
// and anonymous requests are not billed. No funds are held here.
type Billing struct {
	gateway.PassMiddleware

	pricelist map[string]map[string]string
	log       *zap.Logger
}

// NewBilling builds the middleware over the price list.
func NewBilling(pricelist map[string]map[string]string, log *zap.Logger) *Billing {
	return &Billing{
		pricelist: pricelist,
		log:       log.With(zap.String("middleware", NameBilling)),
	}
}

func (*Billing) Name() string { return NameBilling }

func (b *Billing) ProcessResponse(ctx context.Context, req *gateway.Request, resp *gateway.Response, _ error) (*gateway.Response, error) {
	if resp == nil {
		return nil, nil
	}

	entityID, err := req.EntityID(ctx)
	if err != nil || entityID == "" {
		b.log.Error("can not bill request that doesn't provide entity")
		return nil, nil
	}

	raw, ok := b.pricelist[req.Service.Name()][req.Method.Name]
	if !ok {
		return nil, nil
	}
	cost, err := decimal.NewFromString(raw)
	if err != nil {
		b.log.Error("unreadable price list entry",
			zap.String("path", req.PathRepr()),
			zap.String("cost", raw),
			zap.Error(err),
		)
		return nil, nil
	}

	b.log.Debug("request billed", zap.String("cost", cost.String()))
	resp.AddHeader("X-Request-Cost", cost.String())
	resp.AddHeader("X-Request-Cost-Currency", "USD")
	req.AddLoggableProperty("cost", cost.String())
	return nil, nil
}
