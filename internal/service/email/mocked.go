package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Mocked accepts every message without delivering anything. Tests and local
// setups run the service over it.
type Mocked struct {
	*gateway.BaseProvider
}

// NewMocked builds the mocked provider.
func NewMocked(log *zap.Logger) *Mocked {
	p := &Mocked{BaseProvider: gateway.NewBaseProvider("_mocked_", "Mocked", log)}
	p.Handle("send", func(context.Context, interface{}) (interface{}, error) {
		return true, nil
	})
	return p
}
