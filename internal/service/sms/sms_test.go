package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

type serviceTransport struct {
	body []byte
}

func (tr *serviceTransport) Method() string        { return "POST" }
func (tr *serviceTransport) Header(string) string  { return "" }
func (tr *serviceTransport) Query() url.Values     { return url.Values{} }
func (tr *serviceTransport) RawQuery() string      { return "" }
func (tr *serviceTransport) Body() ([]byte, error) { return tr.body, nil }
func (tr *serviceTransport) RemoteAddr() string    { return "10.0.0.1" }
func (tr *serviceTransport) URL() string           { return "/sms/v1/send" }
func (tr *serviceTransport) Scheme() string        { return "http" }

func newSMSService(t *testing.T, providers ...gateway.Provider) *gateway.Service {
	t.Helper()
	svc, err := NewService(providers, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, gateway.New().Register(svc))
	return svc
}

func sendRequest(t *testing.T, svc *gateway.Service, body interface{}) *gateway.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	m, ok := svc.Method("send")
	require.True(t, ok)
	return gateway.NewRequest(svc, m, &serviceTransport{body: raw}, false)
}

func validMessage() map[string]interface{} {
	return map[string]interface{}{
		"sender":    map[string]interface{}{"value": "semilimes"},
		"to_number": "+15005550006",
		"body":      "Your code is 814370",
	}
}

func TestSendDeliversThroughProvider(t *testing.T) {
	svc := newSMSService(t, NewMocked(zap.NewNop()))
	req := sendRequest(t, svc, validMessage())

	resp, err := svc.CallMethod(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, resp.Data)
	assert.Equal(t, "_mocked_", req.LoggableProperties()["provider"])
}

func TestSendAcceptsNumericSender(t *testing.T) {
	svc := newSMSService(t, NewMocked(zap.NewNop()))
	msg := validMessage()
	msg["sender"] = map[string]interface{}{"value": "+1-5005550006"}
	req := sendRequest(t, svc, msg)

	_, err := svc.CallMethod(context.Background(), req)
	require.NoError(t, err)
}

func TestSendRejectsBadSender(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{name: "too long alphaname", value: "semilimes-gateway"},
		{name: "digits only short", value: "12345"},
		{name: "empty", value: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newSMSService(t, NewMocked(zap.NewNop()))
			msg := validMessage()
			msg["sender"] = map[string]interface{}{"value": tc.value}
			req := sendRequest(t, svc, msg)

			_, err := svc.CallMethod(context.Background(), req)
			apiErr, ok := gateway.AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, "ServiceBadRequestError", apiErr.Name)
		})
	}
}

func TestSendReportsUndeliveredMessage(t *testing.T) {
	declined := gateway.NewBaseProvider("declined", "", zap.NewNop())
	declined.Handle("send_sms", func(context.Context, interface{}) (interface{}, error) {
		return false, nil
	})
	svc := newSMSService(t, declined)
	req := sendRequest(t, svc, validMessage())

	_, err := svc.CallMethod(context.Background(), req)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ServiceInternalError", apiErr.Name)
	assert.Equal(t, "Sorry, can't send the SMS", apiErr.Message)
}

func TestTwillioSendSMS(t *testing.T) {
	var (
		user string
		pass string
		path string
		form url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		path = r.URL.Path
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM87105da94bff44b999e4e6eb90d8eb6a","status":"queued"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{TwillioSID: "AC123", TwillioToken: "tw-token"}
	p := NewTwillio(cfg, upstream.New(zap.NewNop()), zap.NewNop())
	p.apiURL = srv.URL

	result, err := p.Call(context.Background(), "send_sms", validMessage())
	require.NoError(t, err)
	assert.Equal(t, true, result)

	assert.Equal(t, "AC123", user)
	assert.Equal(t, "tw-token", pass)
	assert.Equal(t, "/Accounts/AC123/Messages.json", path)
	assert.Equal(t, "+15005550006", form.Get("To"))
	assert.Equal(t, "semilimes", form.Get("From"))
	assert.Equal(t, "Your code is 814370", form.Get("Body"))
}

func TestTwillioFailureRaisesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_code":21212,"message":"Invalid From number"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{TwillioSID: "AC123", TwillioToken: "tw-token"}
	p := NewTwillio(cfg, upstream.New(zap.NewNop()), zap.NewNop())
	p.apiURL = srv.URL

	_, err := p.Call(context.Background(), "send_sms", validMessage())
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ProviderError", apiErr.Name)
	assert.Contains(t, apiErr.Message, "21212")
}

func TestTwillioRequiresCredentials(t *testing.T) {
	p := NewTwillio(&config.Config{}, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "send_sms", validMessage())
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ConfigurationError", apiErr.Name)
}
