package domains

import (
	"context"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/mq"
	"github.com/semilimes/sgateway/internal/repository"
	"github.com/semilimes/sgateway/internal/upstream"
	"github.com/semilimes/sgateway/pkg/di"
)

// Register wires the domains service into the gateway registry.
func Register(_ context.Context, container *di.Container) error {
	var (
		cfg       *config.Config
		log       *zap.Logger
		client    *upstream.Client
		registry  *gateway.Registry
		repo      *repository.DomainsRepository
		publisher *mq.Publisher
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
	if err := container.Resolve(&repo); err != nil {
		return err
	}
	if err := container.Resolve(&publisher); err != nil {
		return err
	}

	godaddy, err := NewGoDaddy(cfg, client, log)
	if err != nil {
		return err
	}
	svc, err := NewService([]gateway.Provider{godaddy}, repo, publisher, cfg, log)
	if err != nil {
		return err
	}
	return registry.Register(svc)
}
