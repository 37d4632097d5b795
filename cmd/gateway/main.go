// The gateway binary: one process serving the HTTP surface and the message
// bus consumer over the shared service registry and middleware pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/semilimes/sgateway/database"
	"github.com/semilimes/sgateway/internal/bootstrap"
	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/mq"
	"github.com/semilimes/sgateway/internal/server"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return err
	}

	app, err := bootstrap.Initialize(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize gateway: %v\n", err)
		return err
	}
	defer app.Close()

	log := app.Log
	defer func() {
		_ = log.Sync()
	}()

	if cfg.DBMigrate {
		if err := database.Migrate(app.DB); err != nil {
			log.Error("Failed to apply migrations", zap.Error(err))
			return err
		}
		log.Info("Database migrations applied")
	}

	if err := bootstrap.RegisterServices(ctx, app.Container, cfg.InstalledServices); err != nil {
		log.Error("Failed to register services", zap.Error(err))
		return err
	}
	log.Info("Services registered", zap.Strings("services", cfg.InstalledServices))

	srv := server.New(cfg, log, app.Registry, app.Pipeline)
	probes := map[string]server.Probe{
		"database": app.DB.PingContext,
		"redis":    app.Redis.IsAvailable,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.AMQPURL != "" {
		consumer := mq.NewConsumer(app.MQ, app.Registry, app.Pipeline, log)
		group.Go(func() error {
			return consumer.Run(ctx)
		})
		probes["message_bus"] = func(context.Context) error {
			if !app.MQ.IsAvailable() {
				return mq.ErrNotConnected
			}
			return nil
		}
	} else {
		log.Warn("Message bus URL not configured, queue consumer disabled")
	}
	srv.SetProbes(probes)

	if app.Idempotency.TTL() > 0 {
		janitor := cron.New()
		_, err := janitor.AddFunc("@hourly", func() {
			removed, err := app.Idempotency.PurgeExpired(ctx)
			if err != nil {
				log.Error("Failed to purge expired idempotency locks", zap.Error(err))
				return
			}
			if removed > 0 {
				log.Info("Purged expired idempotency locks", zap.Int64("removed", removed))
			}
		})
		if err != nil {
			log.Error("Failed to schedule idempotency janitor", zap.Error(err))
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	if err := group.Wait(); err != nil {
		log.Error("Gateway stopped with error", zap.Error(err))
		return err
	}
	log.Info("Gateway stopped")
	return nil
}
