package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/redis"
)

func newCacheFixture(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	client, mr := testRedis(t)
	return NewCache(redis.NewCache(client), 5*time.Minute, zap.NewNop()), mr
}

func cachedRatesRequest(t *testing.T, rawQuery string) *gateway.Request {
	t.Helper()
	tr := &testTransport{
		method:   "GET",
		rawQuery: rawQuery,
		uri:      "/currency_exchange/v1/rates",
	}
	return buildRequest(t, "currency_exchange", &gateway.Method{Name: "rates", HTTPMethod: "GET"}, tr, false)
}

func TestCacheSkipsNonGETRequests(t *testing.T) {
	ctx := context.Background()
	mw, mr := newCacheFixture(t)
	req := buildRequest(t, "email", nil, nil, false)

	resp, err := mw.ProcessRequest(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, resp)

	stored := gateway.NewResponse(nil).WithParam(gateway.ParamGlobalCache, true)
	_, err = mw.ProcessResponse(ctx, req, stored, nil)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCacheStoresAndServesGlobalResponses(t *testing.T) {
	ctx := context.Background()
	mw, mr := newCacheFixture(t)
	req := cachedRatesRequest(t, "base=USD")

	// Cold cache: pass through.
	resp, err := mw.ProcessRequest(ctx, req)
	require.NoError(t, err)
	require.Nil(t, resp)

	data := map[string]interface{}{"rates": map[string]interface{}{"EUR": 0.91}}
	fresh := gateway.NewResponse(data).WithParam(gateway.ParamGlobalCache, true)
	_, err = mw.ProcessResponse(ctx, req, fresh, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, mr.TTL(cacheKey(req)))

	// Same call again: served from the cache.
	repeat := cachedRatesRequest(t, "base=USD")
	hit, err := mw.ProcessRequest(ctx, repeat)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.RequestFulfilled)
	assert.Equal(t, data, hit.Data)
	assert.Equal(t, true, repeat.LoggableProperties()["from_cache"])
}

func TestCacheRequiresGlobalCacheFlag(t *testing.T) {
	ctx := context.Background()
	mw, mr := newCacheFixture(t)
	req := cachedRatesRequest(t, "base=USD")

	_, err := mw.ProcessResponse(ctx, req, gateway.NewResponse(map[string]interface{}{"n": 1}), nil)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCacheKeyVariesWithQuery(t *testing.T) {
	ctx := context.Background()
	mw, _ := newCacheFixture(t)

	usd := cachedRatesRequest(t, "base=USD")
	fresh := gateway.NewResponse(map[string]interface{}{"base": "USD"}).
		WithParam(gateway.ParamGlobalCache, true)
	_, err := mw.ProcessResponse(ctx, usd, fresh, nil)
	require.NoError(t, err)

	eur := cachedRatesRequest(t, "base=EUR")
	hit, err := mw.ProcessRequest(ctx, eur)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestCacheDropsIncompatibleEntries(t *testing.T) {
	ctx := context.Background()
	mw, mr := newCacheFixture(t)

	cases := map[string]string{
		"foreign codec": `{"v":99,"data":{"n":1}}`,
		"not json":      "garbage",
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			req := cachedRatesRequest(t, "base=USD")
			require.NoError(t, mr.Set(cacheKey(req), stored))

			hit, err := mw.ProcessRequest(ctx, req)
			require.NoError(t, err)
			assert.Nil(t, hit)
		})
	}
}

func TestCacheSkipsStreamResponses(t *testing.T) {
	ctx := context.Background()
	mw, mr := newCacheFixture(t)
	req := cachedRatesRequest(t, "")

	chunks := make(chan []byte)
	close(chunks)
	stream := gateway.NewStreamResponse(chunks, "application/pdf").
		WithParam(gateway.ParamGlobalCache, true)

	_, err := mw.ProcessResponse(ctx, req, stream, nil)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}
