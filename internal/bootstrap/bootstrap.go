// Package bootstrap wires the gateway's shared infrastructure into the DI
// container, assembles the middleware pipeline, and installs the configured
// services into the registry.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/database/connect"
	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/metrics"
	"github.com/semilimes/sgateway/internal/middleware"
	"github.com/semilimes/sgateway/internal/mq"
	"github.com/semilimes/sgateway/internal/repository"
	"github.com/semilimes/sgateway/internal/upstream"
	"github.com/semilimes/sgateway/pkg/di"
	"github.com/semilimes/sgateway/pkg/logger"
	"github.com/semilimes/sgateway/pkg/redis"
)

// App is the assembled gateway: shared infrastructure in the container,
// services in the registry, and the pipeline both transports execute.
type App struct {
	Container   *di.Container
	Log         *zap.Logger
	DB          *sql.DB
	Redis       *redis.Client
	MQ          *mq.Client
	Registry    *gateway.Registry
	Pipeline    *gateway.Pipeline
	Idempotency *repository.IdempotencyRepository
}

// Initialize builds the logger and the container, dials Postgres and Redis,
// and assembles the configured middleware pipeline. The message bus client
// starts unconnected and dials on first use.
func Initialize(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(logger.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "sgateway",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	container := di.New()
	if err := registerInfrastructure(ctx, container, cfg, log); err != nil {
		return nil, err
	}
	metrics.Register()

	var (
		db          *sql.DB
		redisClient *redis.Client
		cache       *redis.Cache
		idempotency *repository.IdempotencyRepository
		mqClient    *mq.Client
		publisher   *mq.Publisher
		registry    *gateway.Registry
	)
	if err := container.Resolve(&db); err != nil {
		return nil, err
	}
	if err := container.Resolve(&redisClient); err != nil {
		return nil, err
	}
	if err := container.Resolve(&cache); err != nil {
		return nil, err
	}
	if err := container.Resolve(&idempotency); err != nil {
		return nil, err
	}
	if err := container.Resolve(&mqClient); err != nil {
		return nil, err
	}
	if err := container.Resolve(&publisher); err != nil {
		return nil, err
	}
	if err := container.Resolve(&registry); err != nil {
		return nil, err
	}

	deps := middleware.Deps{
		Config:      cfg,
		Log:         log,
		Redis:       redisClient,
		Cache:       cache,
		Idempotency: idempotency,
	}
	if cfg.AMQPURL != "" {
		deps.Publisher = publisher
	}
	chain, err := middleware.Build(cfg.PipelineMiddlewares, deps)
	if err != nil {
		return nil, err
	}

	return &App{
		Container:   container,
		Log:         log,
		DB:          db,
		Redis:       redisClient,
		MQ:          mqClient,
		Registry:    registry,
		Pipeline:    gateway.NewPipeline(chain, log),
		Idempotency: idempotency,
	}, nil
}

// Close releases the shared connections. The bus and Redis clients log
// their own close failures.
func (a *App) Close() {
	_ = a.MQ.Close()
	_ = a.Redis.Close()
	if err := a.DB.Close(); err != nil {
		a.Log.Error("failed to close database", zap.Error(err))
	}
}

// registerInfrastructure installs the factories every service and middleware
// resolves from. Factories run at most once, so Postgres and Redis are dialed
// on first resolve.
func registerInfrastructure(ctx context.Context, container *di.Container, cfg *config.Config, log *zap.Logger) error {
	if err := container.Register((*config.Config)(nil), func(_ *di.Container) (interface{}, error) {
		return cfg, nil
	}); err != nil {
		return err
	}
	if err := container.Register((*zap.Logger)(nil), func(_ *di.Container) (interface{}, error) {
		return log, nil
	}); err != nil {
		return err
	}
	if err := container.Register((*sql.DB)(nil), func(_ *di.Container) (interface{}, error) {
		return connect.Postgres(ctx, log, cfg)
	}); err != nil {
		return err
	}
	if err := container.Register((*redis.Client)(nil), func(_ *di.Container) (interface{}, error) {
		return redis.NewClient(redis.Config{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
			MaxRetries:   cfg.RedisMaxRetries,
		}, log)
	}); err != nil {
		return err
	}
	if err := container.Register((*redis.Cache)(nil), func(c *di.Container) (interface{}, error) {
		var client *redis.Client
		if err := c.Resolve(&client); err != nil {
			return nil, err
		}
		return redis.NewCache(client), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*mq.Client)(nil), func(_ *di.Container) (interface{}, error) {
		return mq.NewClient(cfg.AMQPURL, log), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*mq.Publisher)(nil), func(c *di.Container) (interface{}, error) {
		var client *mq.Client
		if err := c.Resolve(&client); err != nil {
			return nil, err
		}
		return mq.NewPublisher(client, log), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*gateway.Registry)(nil), func(_ *di.Container) (interface{}, error) {
		return gateway.Default(), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*upstream.Client)(nil), func(_ *di.Container) (interface{}, error) {
		return upstream.New(log), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*repository.IdempotencyRepository)(nil), func(c *di.Container) (interface{}, error) {
		var db *sql.DB
		if err := c.Resolve(&db); err != nil {
			return nil, err
		}
		return repository.NewIdempotencyRepository(db, log, cfg.IdempotencyTTL), nil
	}); err != nil {
		return err
	}
	if err := container.Register((*repository.DomainsRepository)(nil), func(c *di.Container) (interface{}, error) {
		var db *sql.DB
		if err := c.Resolve(&db); err != nil {
			return nil, err
		}
		return repository.NewDomainsRepository(db, log), nil
	}); err != nil {
		return err
	}
	return nil
}
