package currency

import (
	"context"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
	"github.com/semilimes/sgateway/pkg/di"
)

// Register wires the currency exchange service into the gateway registry.
func Register(_ context.Context, container *di.Container) error {
	var (
		cfg      *config.Config
		log      *zap.Logger
		client   *upstream.Client
		registry *gateway.Registry
	)
	if err := container.Resolve(&cfg); err != nil {
		return err
	}
	if err := container.Resolve(&log); err != nil {
		return err
	}
	if err := container.Resolve(&client); err != nil {
		return err
	}
	if err := container.Resolve(&registry); err != nil {
		return err
	}

	svc, err := NewService([]gateway.Provider{
		NewFixerIO(cfg, client, log),
		NewDummy(log),
	}, log)
	if err != nil {
		return err
	}
	return registry.Register(svc)
}
