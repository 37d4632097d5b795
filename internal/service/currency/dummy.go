package currency

import (
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Dummy is a registered provider that advertises no methods, so provider
// selection always has to pass it over.
type Dummy struct {
	*gateway.BaseProvider
}

// NewDummy builds the inert provider.
func NewDummy(log *zap.Logger) *Dummy {
	return &Dummy{BaseProvider: gateway.NewBaseProvider("dummy", "dummy test", log)}
}
