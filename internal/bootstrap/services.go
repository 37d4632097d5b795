package bootstrap

import (
	"context"
	"fmt"

	"github.com/semilimes/sgateway/internal/service/currency"
	"github.com/semilimes/sgateway/internal/service/docs"
	"github.com/semilimes/sgateway/internal/service/domains"
	"github.com/semilimes/sgateway/internal/service/email"
	"github.com/semilimes/sgateway/internal/service/sms"
	"github.com/semilimes/sgateway/internal/service/taxrates"
	"github.com/semilimes/sgateway/pkg/di"
)

// RegisterFunc wires one service and its providers into the gateway
// registry, resolving shared infrastructure from the container.
type RegisterFunc func(ctx context.Context, container *di.Container) error

// builtin maps installable service names to their wiring functions.
var builtin = map[string]RegisterFunc{
	email.Name:    email.Register,
	sms.Name:      sms.Register,
	currency.Name: currency.Register,
	taxrates.Name: taxrates.Register,
	domains.Name:  domains.Register,
	docs.Name:     docs.Register,
}

// RegisterServices installs the named services in order. A name without a
// builtin entry aborts startup.
func RegisterServices(ctx context.Context, container *di.Container, names []string) error {
	for _, name := range names {
		register, ok := builtin[name]
		if !ok {
			return fmt.Errorf("unknown service: %s", name)
		}
		if err := register(ctx, container); err != nil {
			return fmt.Errorf("failed to register service %s: %w", name, err)
		}
	}
	return nil
}
