package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
	"github.com/semilimes/sgateway/pkg/redis"
)

// NameCache is the configuration name of the response-cache middleware.
const NameCache = "cache"

const cacheKeyPrefix = "cached_response_"

// cacheCodecVersion guards the stored envelope shape. Entries written by an
// incompatible build read as misses instead of breaking requests.
const cacheCodecVersion = 1

type cacheEnvelope struct {
	V    int         `json:"v"`
	Data interface{} `json:"data"`
}

// Cache serves repeated GET requests from Redis. Only responses flagged
// global_cache are stored; a hit counts as fulfilled and shows up in the
// request log as from_cache.
type Cache struct {
	gateway.PassMiddleware

	cache *redis.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewCache builds the middleware over the shared cache with the given entry
// lifetime.
func NewCache(cache *redis.Cache, ttl time.Duration, log *zap.Logger) *Cache {
	return &Cache{
		cache: cache,
		ttl:   ttl,
		log:   log.With(zap.String("middleware", NameCache)),
	}
}

func (*Cache) Name() string { return NameCache }

func (c *Cache) ProcessRequest(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if req.Transport.Method() != "GET" {
		return nil, nil
	}

	key := cacheKey(req)
	c.log.Debug("cache lookup", zap.String("key", key))

	raw, err := c.cache.GetBytes(ctx, key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var envelope cacheEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.V != cacheCodecVersion {
		c.log.Warn("dropping cache entry with incompatible codec", zap.String("key", key))
		return nil, nil
	}

	req.AddLoggableProperty("from_cache", true)
	return gateway.NewResponse(envelope.Data), nil
}

func (c *Cache) ProcessResponse(ctx context.Context, req *gateway.Request, resp *gateway.Response, _ error) (*gateway.Response, error) {
	if req.Transport.Method() != "GET" || resp == nil || resp.IsStream() {
		return nil, nil
	}
	flag, _ := resp.Param(gateway.ParamGlobalCache)
	if cacheable, _ := flag.(bool); !cacheable {
		return nil, nil
	}

	key := cacheKey(req)
	if err := c.cache.Set(ctx, key, cacheEnvelope{V: cacheCodecVersion, Data: resp.Data}, c.ttl); err != nil {
		return nil, err
	}
	c.log.Debug("response cached", zap.String("key", key))
	return nil, nil
}

// cacheKey derives the entry key from the dotted call path and the raw
// query string.
func cacheKey(req *gateway.Request) string {
	query := base64.StdEncoding.EncodeToString([]byte(req.Transport.RawQuery()))
	uniform := base64.StdEncoding.EncodeToString([]byte(req.PathRepr() + "_" + query))
	return cacheKeyPrefix + uniform
}
