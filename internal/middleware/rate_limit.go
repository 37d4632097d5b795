package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/redis"
)

// NameRateLimit is the configuration name of the rate-limit middleware.
const NameRateLimit = "rate_limit"

// RateLimit enforces the per-entity quotas: one account-wide, one per
// service, the service one checked first. Counters live in Redis and expire
// with the quota window; requests without an authenticated entity pass
// uncounted. Services marked only_limit_fulfilled do not count unfulfilled
// responses against their quota.
type RateLimit struct {
	gateway.PassMiddleware

	redis  *redis.Client
	limits config.RateLimits
	log    *zap.Logger
}

// NewRateLimit builds the middleware over the shared Redis client.
func NewRateLimit(client *redis.Client, limits config.RateLimits, log *zap.Logger) *RateLimit {
	return &RateLimit{
		redis:  client,
		limits: limits,
		log:    log.With(zap.String("middleware", NameRateLimit)),
	}
}

func (*RateLimit) Name() string { return NameRateLimit }

func (r *RateLimit) ProcessRequest(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	entityID, err := req.EntityID(ctx)
	if err != nil || entityID == "" {
		return nil, nil
	}

	service := req.Service.Name()
	serviceQuota, ok := r.limits.PerService[service]
	if !ok {
		serviceQuota = config.Quota{Limit: -1}
	}

	serviceLeft, err := r.numberLeft(ctx, serviceUsageKey(service, entityID), serviceQuota)
	if err != nil {
		return nil, err
	}
	if serviceLeft == 0 {
		return nil, gateway.NewServiceQuotaExceededError("")
	}
	if serviceLeft > 0 {
		req.AddExtension(ExtServiceRequestsLeft, serviceLeft)
	}

	totalLeft, err := r.numberLeft(ctx, totalUsageKey(entityID), r.limits.Total)
	if err != nil {
		return nil, err
	}
	if totalLeft == 0 {
		return nil, gateway.NewTotalQuotaExceededError("")
	}
	if totalLeft > 0 {
		req.AddExtension(ExtTotalRequestsLeft, totalLeft)
	}

	r.log.Debug("rate limit quota is OK")
	return nil, nil
}

func (r *RateLimit) ProcessResponse(ctx context.Context, req *gateway.Request, resp *gateway.Response, _ error) (*gateway.Response, error) {
	entityID, err := req.EntityID(ctx)
	if err != nil || entityID == "" {
		return nil, nil
	}

	onlyFulfilled := r.limits.PerService[req.Service.Name()].OnlyLimitFulfilled
	if resp == nil || (!resp.RequestFulfilled && onlyFulfilled) {
		// This request does not count against the quotas.
		return nil, nil
	}

	pipe := r.redis.Pipeline()
	pipe.Incr(ctx, serviceUsageKey(req.Service.Name(), entityID))
	pipe.Incr(ctx, totalUsageKey(entityID))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("failed to count request against quotas", zap.Error(err))
	}

	if left, ok := req.Extension(ExtTotalRequestsLeft); ok {
		if n, ok := left.(int); ok {
			resp.AddHeader("X-Total-Quota", strconv.Itoa(n-1))
		}
	}
	if left, ok := req.Extension(ExtServiceRequestsLeft); ok {
		if n, ok := left.(int); ok {
			resp.AddHeader("X-Service-Quota", strconv.Itoa(n-1))
		}
	}
	return nil, nil
}

// numberLeft reports how much of the quota remains. A fresh counter is
// created with the window's expiry before the remainder is computed, so the
// window opens at first use. A negative quota means unlimited.
func (r *RateLimit) numberLeft(ctx context.Context, key string, quota config.Quota) (int, error) {
	if quota.Limit < 0 {
		return quota.Limit, nil
	}

	usage := 0
	val, err := r.redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		if err := r.redis.Set(ctx, key, 0, quota.Window).Err(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if usage, err = strconv.Atoi(val); err != nil {
			return 0, fmt.Errorf("unreadable usage counter %s: %w", key, err)
		}
	}
	return quota.Limit - usage, nil
}

func totalUsageKey(entityID string) string {
	return fmt.Sprintf("total_api_usage_%s", entityID)
}

func serviceUsageKey(service, entityID string) string {
	return fmt.Sprintf("service_usage_%s_%s", service, entityID)
}
