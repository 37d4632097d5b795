package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "SECRET_KEY_HERE", cfg.InternalGatewayKey)
	assert.Equal(t,
		[]string{"email", "currency_exchange", "sms", "docs", "domains", "tax_rates"},
		cfg.InstalledServices)
	assert.Equal(t,
		[]string{"start_time", "auth", "idempotency", "rate_limit", "billing", "cache", "logger"},
		cfg.PipelineMiddlewares)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5*time.Minute, cfg.ResponseCacheTTL)
	assert.Empty(t, cfg.AMQPURL)
	assert.Contains(t, cfg.DBURL, "sgateway_default")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INSTALLED_SERVICES", "email, sms")
	t.Setenv("SERVICES_PIPELINE_MIDDLEWARES", "start_time,logger")
	t.Setenv("IDEMPOTENCY_TTL", "60")
	t.Setenv("IS_LOCAL", "true")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "sms"}, cfg.InstalledServices)
	assert.Equal(t, []string{"start_time", "logger"}, cfg.PipelineMiddlewares)
	assert.Equal(t, time.Minute, cfg.IdempotencyTTL)
	assert.True(t, cfg.IsLocal)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestDefaultRateLimits(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.RateLimits.Total.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimits.Total.Window)
	assert.False(t, cfg.RateLimits.Total.OnlyLimitFulfilled)

	email := cfg.RateLimits.PerService["email"]
	assert.Equal(t, 100, email.Limit)
	assert.True(t, email.OnlyLimitFulfilled)

	fx := cfg.RateLimits.PerService["currency_exchange"]
	assert.Equal(t, time.Minute, fx.Window)
	assert.True(t, fx.OnlyLimitFulfilled)
}

func TestDefaultPricelist(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.01", cfg.Pricelist["email"]["send"])
	assert.Equal(t, "0.5", cfg.Pricelist["sms"]["send"])
	assert.Equal(t, "0.001", cfg.Pricelist["currency_exchange"]["rates"])
	_, priced := cfg.Pricelist["docs"]
	assert.False(t, priced)
}

func TestSafeDBURL(t *testing.T) {
	cfg := &Config{DBURL: "postgres://gateway:hunter2@db:5432/sgateway?sslmode=disable"}
	assert.Equal(t, "postgres://gateway:xxxxx@db:5432/sgateway?sslmode=disable", cfg.SafeDBURL())

	cfg = &Config{DBURL: "postgres://localhost:5432/sgateway_default?sslmode=disable"}
	assert.Equal(t, cfg.DBURL, cfg.SafeDBURL())
}
