// Package middleware implements the pipeline middlewares: request timing,
// authentication, idempotency locking, rate limiting, billing headers,
// response caching, request logging, and central-config resolution. Build
// assembles the chain from the configured name list.
package middleware

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/repository"
	"github.com/semilimes/sgateway/pkg/redis"
)

// Extension keys shared between middlewares along one request.
const (
	// ExtStartTime is the request arrival time stamped by StartTime.
	ExtStartTime = "_start_time"
	// ExtIdempotencyKey marks a request that holds an idempotency lock.
	ExtIdempotencyKey = "_idempotency_key"
	// ExtServiceRequestsLeft is the per-service quota remainder.
	ExtServiceRequestsLeft = "service_requests_left"
	// ExtTotalRequestsLeft is the account-wide quota remainder.
	ExtTotalRequestsLeft = "total_requests_left"
	// ExtCentralConfig carries the central-config provider.
	ExtCentralConfig = "central_config"
)

// Deps carries the shared infrastructure the middlewares draw on. Fields a
// configured chain never names may stay nil.
type Deps struct {
	Config      *config.Config
	Log         *zap.Logger
	Redis       *redis.Client
	Cache       *redis.Cache
	Idempotency *repository.IdempotencyRepository
	Publisher   LogPublisher
}

// Build assembles the middleware chain for the configured names, in order.
// The idempotency middleware is dropped when its lock TTL is not positive:
// such requests pass through unlocked.
func Build(names []string, deps Deps) ([]gateway.Middleware, error) {
	cfg := deps.Config
	log := deps.Log

	chain := make([]gateway.Middleware, 0, len(names))
	for _, name := range names {
		switch name {
		case NameStartTime:
			chain = append(chain, NewStartTime())
		case NameAuth:
			mw, err := NewAuth(cfg.InternalGatewayKey, cfg.IsLocal, cfg.DefaultEntityID, log)
			if err != nil {
				return nil, err
			}
			chain = append(chain, mw)
		case NameIdempotency:
			if deps.Idempotency == nil || deps.Idempotency.TTL() <= 0 {
				log.Info("idempotency middleware disabled, requests pass through unlocked")
				continue
			}
			chain = append(chain, NewIdempotency(deps.Idempotency, log))
		case NameRateLimit:
			if deps.Redis == nil {
				return nil, fmt.Errorf("middleware %s requires redis", name)
			}
			chain = append(chain, NewRateLimit(deps.Redis, cfg.RateLimits, log))
		case NameBilling:
			chain = append(chain, NewBilling(cfg.Pricelist, log))
		case NameCache:
			if deps.Cache == nil {
				return nil, fmt.Errorf("middleware %s requires redis", name)
			}
			chain = append(chain, NewCache(deps.Cache, cfg.ResponseCacheTTL, log))
		case NameLogger:
			chain = append(chain, NewLogger(deps.Publisher, cfg.ServiceMQLogging, cfg.Debug, log))
		case NameCentralConfig:
			provider, err := NewProvider(cfg, log)
			if err != nil {
				return nil, err
			}
			chain = append(chain, NewCentralConfig(provider))
		default:
			return nil, fmt.Errorf("unknown middleware: %s", name)
		}
	}
	return chain, nil
}
