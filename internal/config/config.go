// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Quota is a request allowance over a rolling window.
type Quota struct {
	Limit  int
	Window time.Duration
	// OnlyLimitFulfilled counts only requests that produced a fulfilled
	// response against the quota.
	OnlyLimitFulfilled bool
}

// RateLimits holds the account-wide and per-service quotas.
type RateLimits struct {
	Total      Quota
	PerService map[string]Quota
}

// Config is the flat environment-backed gateway configuration.
type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string
	Debug       bool
	IsLocal     bool

	InternalGatewayKey string
	DefaultEntityID    string

	InstalledServices   []string
	PipelineMiddlewares []string

	DBURL                    string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBMigrate                bool

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	AMQPURL          string
	ServiceMQLogging bool

	IdempotencyTTL   time.Duration
	ResponseCacheTTL time.Duration

	CentralConfigProvider string
	CentralConfigPath     string

	RateLimits RateLimits
	// Pricelist maps service -> method -> USD cost as a decimal string.
	Pricelist map[string]map[string]string
	// DomainZonesPricelist maps supported domain zones to fixed USD prices.
	DomainZonesPricelist map[string]string
	// CompanyContactJSON is the company contact attached to domain purchases
	// as the tech/billing party, in the registration client-form shape.
	CompanyContactJSON string

	SendgridAPIKey string
	MailgunDomain  string
	MailgunAPIKey  string
	PostmarkAPIKey string
	PostmarkSender string

	TwillioSID   string
	TwillioToken string

	FixerAPIURL string

	GodaddyAPIURL                string
	GodaddyKey                   string
	GodaddySecret                string
	DomainsClientAccountPassword string

	AvataxAPIURL      string
	AlavaraAccountID  string
	AlavaraLicenceKey string

	TaxjarAPIURL   string
	TaxjarAPIToken string

	DocsAPIURL string
}

const emptyCompanyContact = `{"first_name":"","last_name":"","middle_name":"","organization":"","email":"",` +
	`"phone":{"country_code":"","global_number":""},` +
	`"mailing_address":{"address1":"","address2":"","city":"","state":"","postal_code":"","country":""}}`

// Load reads the configuration from the environment, applying defaults for
// everything a local instance can run without.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("APP_LOG_LEVEL", "info"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),

		InternalGatewayKey: getEnv("INTERNAL_GATEWAY_KEY", "SECRET_KEY_HERE"),
		DefaultEntityID:    getEnv("DEFAULT_ENTITY_ID", "1"),

		InstalledServices: getList("INSTALLED_SERVICES",
			[]string{"email", "currency_exchange", "sms", "docs", "domains", "tax_rates"}),
		PipelineMiddlewares: getList("SERVICES_PIPELINE_MIDDLEWARES",
			[]string{"start_time", "auth", "idempotency", "rate_limit", "billing", "cache", "logger"}),

		DBURL: getEnv("DB_URL", "postgres://localhost:5432/sgateway_default?sslmode=disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AMQPURL: os.Getenv("MESSAGE_BUS_AMQP_URL"),

		CentralConfigProvider: getEnv("CENTRAL_CONFIG_PROVIDER", "dummy"),
		CentralConfigPath:     os.Getenv("CENTRAL_CONFIG_PATH"),

		CompanyContactJSON: getEnv("COMPANY_CONTACT", emptyCompanyContact),

		SendgridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailgunDomain:  os.Getenv("MAILGUN_DOMAIN"),
		MailgunAPIKey:  os.Getenv("MAILGUN_API_KEY"),
		PostmarkAPIKey: os.Getenv("POSTMARK_API_KEY"),
		PostmarkSender: os.Getenv("POSTMARK_SENDER"),

		TwillioSID:   os.Getenv("TWILLIO_SID"),
		TwillioToken: os.Getenv("TWILLIO_TOKEN"),

		FixerAPIURL: getEnv("FIXER_API_URL", "http://api.fixer.io"),

		GodaddyAPIURL:                getEnv("GODADDY_API_URL", "https://api.ote-godaddy.com/v1/"),
		GodaddyKey:                   os.Getenv("GODADDY_KEY"),
		GodaddySecret:                os.Getenv("GODADDY_SECRET"),
		DomainsClientAccountPassword: os.Getenv("DOMAINS_CLIENT_ACCOUNT_PASSWORD"),

		AvataxAPIURL:      getEnv("AVATAX_API_URL", "https://sandbox-rest.avatax.com/api/v2/"),
		AlavaraAccountID:  os.Getenv("ALAVARA_ACCOUNT_ID"),
		AlavaraLicenceKey: os.Getenv("ALAVARA_LICENCE_KEY"),

		TaxjarAPIURL:   getEnv("TAXJAR_API_URL", "https://api.taxjar.com/v2/"),
		TaxjarAPIToken: os.Getenv("TAXJAR_API_TOKEN"),

		DocsAPIURL: getEnv("DOCS_API_URL", "https://docs.semilimes.info"),
	}

	cfg.Debug = getBool("DEBUG", false)
	cfg.IsLocal = getBool("IS_LOCAL", false)
	cfg.DBMigrate = getBool("DB_MIGRATE", false)
	cfg.ServiceMQLogging = getBool("SERVICE_MQ_LOGGING", false)

	var err error
	if cfg.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}
	if cfg.DBConnMaxLifetimeMinutes, err = getInt("DB_CONN_MAX_LIFETIME_MINUTES", 30); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RedisMinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.RedisMaxRetries, err = getInt("REDIS_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	idempotencyTTL, err := getInt("IDEMPOTENCY_TTL", 86400)
	if err != nil {
		return nil, err
	}
	cfg.IdempotencyTTL = time.Duration(idempotencyTTL) * time.Second

	cacheTTL, err := getInt("RESPONSE_CACHE_TTL", 300)
	if err != nil {
		return nil, err
	}
	cfg.ResponseCacheTTL = time.Duration(cacheTTL) * time.Second

	cfg.RateLimits = defaultRateLimits()
	cfg.Pricelist = defaultPricelist()
	cfg.DomainZonesPricelist = map[string]string{"com": "0"}

	return cfg, nil
}

// SafeDBURL is the database URL with the password masked, for logging.
func (c *Config) SafeDBURL() string {
	u, err := url.Parse(c.DBURL)
	if err != nil {
		return "postgres://invalid-url"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}

// defaultRateLimits mirrors the stock quota table: 5000 requests per hour
// per account, plus tighter per-service quotas that count only fulfilled
// requests.
func defaultRateLimits() RateLimits {
	return RateLimits{
		Total: Quota{Limit: 5000, Window: time.Hour},
		PerService: map[string]Quota{
			"email":             {Limit: 100, Window: time.Hour, OnlyLimitFulfilled: true},
			"currency_exchange": {Limit: 100, Window: time.Minute, OnlyLimitFulfilled: true},
		},
	}
}

// defaultPricelist holds the per-call USD costs reported by the billing
// middleware.
func defaultPricelist() map[string]map[string]string {
	return map[string]map[string]string{
		"email":             {"send": "0.01"},
		"sms":               {"send": "0.5"},
		"currency_exchange": {"rates": "0.001"},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
