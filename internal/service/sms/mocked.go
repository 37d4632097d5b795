package sms

import (
	"context"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Mocked accepts every message without delivering anything.
type Mocked struct {
	*gateway.BaseProvider
}

// NewMocked builds the mocked provider.
func NewMocked(log *zap.Logger) *Mocked {
	p := &Mocked{BaseProvider: gateway.NewBaseProvider("_mocked_", "Mocked", log)}
	p.Handle("send_sms", func(context.Context, interface{}) (interface{}, error) {
		return true, nil
	})
	return p
}
