package docs

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

type docsTransport struct {
	body []byte
}

func (tr *docsTransport) Method() string        { return "POST" }
func (tr *docsTransport) Header(string) string  { return "" }
func (tr *docsTransport) Query() url.Values     { return url.Values{} }
func (tr *docsTransport) RawQuery() string      { return "" }
func (tr *docsTransport) Body() ([]byte, error) { return tr.body, nil }
func (tr *docsTransport) RemoteAddr() string    { return "10.0.0.1" }
func (tr *docsTransport) URL() string           { return "/docs/v1/html_to_pdf" }
func (tr *docsTransport) Scheme() string        { return "http" }

type stubRenderer struct {
	*gateway.BaseProvider
}

func newStubRenderer(handler gateway.MethodFunc) *stubRenderer {
	p := &stubRenderer{BaseProvider: gateway.NewBaseProvider("stub", "Stub", zap.NewNop())}
	p.Handle("html_to_pdf", handler)
	return p
}

func newDocsService(t *testing.T, providers ...gateway.Provider) *gateway.Service {
	t.Helper()
	svc, err := NewService(providers, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, gateway.New().Register(svc))
	return svc
}

func renderRequest(t *testing.T, svc *gateway.Service, body interface{}) *gateway.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	m, ok := svc.Method("html_to_pdf")
	require.True(t, ok)
	return gateway.NewRequest(svc, m, &docsTransport{body: raw}, false)
}

func drain(chunks <-chan []byte) []byte {
	var out []byte
	for chunk := range chunks {
		out = append(out, chunk...)
	}
	return out
}

func TestHTMLToPDFStreamsRenderedFile(t *testing.T) {
	chunks := make(chan []byte, 2)
	chunks <- []byte("%PDF-1.7 ")
	chunks <- []byte("rendered")
	close(chunks)

	var seen interface{}
	svc := newDocsService(t, newStubRenderer(func(_ context.Context, args interface{}) (interface{}, error) {
		seen = args
		return &Stream{ContentType: "application/pdf", Chunks: chunks}, nil
	}))
	req := renderRequest(t, svc, map[string]interface{}{"html": "<h1>Invoice</h1>"})

	resp, err := svc.CallMethod(context.Background(), req)
	require.NoError(t, err)

	require.True(t, resp.IsStream())
	assert.Equal(t, "application/pdf", resp.ContentType)
	assert.Equal(t, []byte("%PDF-1.7 rendered"), drain(resp.Chunks))
	assert.Equal(t, map[string]interface{}{"html": "<h1>Invoice</h1>"}, seen)
}

func TestHTMLToPDFUnexpectedProviderResult(t *testing.T) {
	svc := newDocsService(t, newStubRenderer(func(context.Context, interface{}) (interface{}, error) {
		return "not a stream", nil
	}))
	req := renderRequest(t, svc, map[string]interface{}{"html": "<p>hi</p>"})

	_, err := svc.CallMethod(context.Background(), req)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "InternalError", apiErr.Name)
	assert.Equal(t, "Unexpected rendering response", apiErr.Message)
}

func TestSemilimesRendersDocument(t *testing.T) {
	var (
		path    string
		payload map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7 rendered by server"))
	}))
	defer srv.Close()

	p := NewSemilimes(&config.Config{DocsAPIURL: srv.URL}, upstream.New(zap.NewNop()), zap.NewNop())

	result, err := p.Call(context.Background(), "html_to_pdf", map[string]interface{}{
		"html": "<h1>Invoice</h1>",
	})
	require.NoError(t, err)

	assert.Equal(t, "/htmltopdf/", path)
	assert.Equal(t, map[string]interface{}{"html": "<h1>Invoice</h1>"}, payload)

	stream, ok := result.(*Stream)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", stream.ContentType)
	assert.Equal(t, []byte("%PDF-1.7 rendered by server"), drain(stream.Chunks))
}

func TestSemilimesRenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`malformed html`))
	}))
	defer srv.Close()

	p := NewSemilimes(&config.Config{DocsAPIURL: srv.URL}, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "html_to_pdf", map[string]interface{}{"html": "<"})
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ProviderError", apiErr.Name)
	assert.Equal(t, "Error rendering your document (422)", apiErr.Message)
}

func TestSemilimesRequiresAPIURL(t *testing.T) {
	p := NewSemilimes(&config.Config{}, upstream.New(zap.NewNop()), zap.NewNop())

	_, err := p.Call(context.Background(), "html_to_pdf", map[string]interface{}{"html": "<p>hi</p>"})
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ConfigurationError", apiErr.Name)
	assert.Equal(t, "DOCS_API_URL is required to use semilimes provider", apiErr.Message)
}
