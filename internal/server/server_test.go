package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
)

func respondWith(data interface{}) gateway.HandlerFunc {
	return func(context.Context, *gateway.Request) (*gateway.Response, error) {
		return gateway.NewResponse(data), nil
	}
}

func failWith(err error) gateway.HandlerFunc {
	return func(context.Context, *gateway.Request) (*gateway.Response, error) {
		return nil, err
	}
}

func newTestServer(t *testing.T, debug bool) *Server {
	t.Helper()

	provider := gateway.NewBaseProvider("_mocked_", "", zap.NewNop())
	provider.Handle("send", func(context.Context, interface{}) (interface{}, error) {
		return true, nil
	})

	svc, err := gateway.NewService(gateway.ServiceConfig{
		Name:        "email",
		VerboseName: "Email sending service",
		Providers:   []gateway.Provider{provider},
		Methods: []*gateway.Method{
			{Name: "send", HTTPMethod: "POST", Handler: respondWith(map[string]interface{}{"sent": true})},
			{Name: "reject", HTTPMethod: "POST", Handler: failWith(gateway.NewBadRequestError("nope"))},
			{Name: "explode", HTTPMethod: "POST", Handler: failWith(errors.New("kaboom"))},
			{Name: "vanish", HTTPMethod: "POST", Handler: func(context.Context, *gateway.Request) (*gateway.Response, error) {
				return nil, nil
			}},
			{Name: "report", HTTPMethod: "GET", Handler: func(context.Context, *gateway.Request) (*gateway.Response, error) {
				chunks := make(chan []byte, 2)
				chunks <- []byte("%PDF-")
				chunks <- []byte("1.4")
				close(chunks)
				return gateway.NewStreamResponse(chunks, "application/pdf"), nil
			}},
			{Name: "create", HTTPMethod: "POST", Handler: func(context.Context, *gateway.Request) (*gateway.Response, error) {
				resp := gateway.NewResponse(map[string]interface{}{"id": 7}).WithStatus(http.StatusCreated)
				resp.AddHeader("X-Request-Cost", "0.01")
				return resp, nil
			}},
			{Name: "save_email_status", HTTPMethod: "POST", Webhook: true, Handler: respondWith(map[string]interface{}{})},
		},
	}, zap.NewNop())
	require.NoError(t, err)

	registry := gateway.New()
	require.NoError(t, registry.Register(svc))

	cfg := &config.Config{HTTPAddr: ":0", Debug: debug}
	return New(cfg, zap.NewNop(), registry, gateway.NewPipeline(nil, zap.NewNop()))
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServerServesServiceMethod(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/email/v1/send")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]interface{}{"sent": true}, decodeBody(t, rec))
}

func TestServerRejectsWrongVerb(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/email/v1/send")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerUnknownRoutes(t *testing.T) {
	s := newTestServer(t, false)

	for _, target := range []string{
		"/email/v1/unknown",
		"/email/v2/send",
		"/unknown/v1/send",
		"/email/v1/send/",
	} {
		rec := do(t, s, http.MethodPost, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestServerRendersDomainError(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/email/v1/reject")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "007", rec.Header().Get("X-Error-Code"))

	body := decodeBody(t, rec)
	assert.Equal(t, "ServiceBadRequestError", body["error_name"])
	assert.Equal(t, "nope", body["message"])
	assert.Equal(t, false, body["retry_suggested"])
}

func TestServerMasksUnexpectedErrors(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/email/v1/explode")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "000", rec.Header().Get("X-Error-Code"))

	body := decodeBody(t, rec)
	assert.Equal(t, "InternalError", body["error_name"])
	assert.Nil(t, body["message"])
	assert.Equal(t, "kaboom", body["error_details"])
}

func TestServerSurfacesUnexpectedErrorsInDebug(t *testing.T) {
	rec := do(t, newTestServer(t, true), http.MethodPost, "/email/v1/explode")

	body := decodeBody(t, rec)
	assert.Equal(t, "InternalError", body["error_name"])
	assert.Equal(t, "kaboom", body["message"])
}

func TestServerReportsMissingResponse(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/email/v1/vanish")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ServiceUnavailable", body["error_name"])
	assert.Equal(t, "Service didn't return any response", body["message"])
}

func TestServerRoutesWebhooksSeparately(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodPost, "/_webhooks/email/v1/save_email_status")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/email/v1/save_email_status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStreamsChunkedResponses(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/email/v1/report")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestServerAppliesStatusAndHeaders(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodPost, "/email/v1/create")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0.01", rec.Header().Get("X-Request-Cost"))
}

func TestServerServesCatalog(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/services/_schema")
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	require.Len(t, catalog, 1)
	assert.Equal(t, "email", catalog[0]["name"])
	assert.Equal(t, "Email sending service", catalog[0]["verbose_name"])

	methods, ok := catalog[0]["methods"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, methods, "send")
}

func TestServerServesServiceSchema(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodGet, "/services/email/v1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "email", body["name"])
	assert.Equal(t, float64(1), body["version"])

	for _, target := range []string{
		"/services/email/v9",
		"/services/unknown/v1",
		"/services/email/nope",
	} {
		rec := do(t, s, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, "ServiceNotFound", decodeBody(t, rec)["error_name"], target)
	}
}

func TestServerIndexListsRoutesAndServices(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	page := rec.Body.String()
	assert.True(t, strings.HasPrefix(page, "<pre>"))
	assert.Contains(t, page, "&quot;routes&quot;")
	assert.Contains(t, page, "email_v1")
	assert.Contains(t, page, "_mocked_")
	assert.Contains(t, page, "/email/v1/send")
	assert.NotContains(t, page, `"routes"`)
}

func TestServerHealth(t *testing.T) {
	rec := do(t, newTestServer(t, false), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ok"}, decodeBody(t, rec))
}

func TestServerHealthReportsProbes(t *testing.T) {
	srv := newTestServer(t, false)
	srv.SetProbes(map[string]Probe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := do(t, srv, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{
		"database": "ok",
		"redis":    "connection refused",
	}, body["components"])
}

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in      string
		version int
		ok      bool
	}{
		{"v1", 1, true},
		{"v12", 12, true},
		{"1", 0, false},
		{"v0", 0, false},
		{"vx", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		version, ok := parseVersion(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.version, version, tc.in)
	}
}
