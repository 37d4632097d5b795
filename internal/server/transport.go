package server

import (
	"io"
	"net/http"
	"net/url"
	"sync"
)

// httpRequest adapts *http.Request to the gateway transport contract. The
// body is read once and memoized so the pipeline and the service see the
// same bytes.
type httpRequest struct {
	r *http.Request

	once sync.Once
	body []byte
	err  error
}

func newHTTPRequest(r *http.Request) *httpRequest {
	return &httpRequest{r: r}
}

func (h *httpRequest) Method() string            { return h.r.Method }
func (h *httpRequest) Header(name string) string { return h.r.Header.Get(name) }
func (h *httpRequest) Query() url.Values         { return h.r.URL.Query() }
func (h *httpRequest) RawQuery() string          { return h.r.URL.RawQuery }
func (h *httpRequest) RemoteAddr() string        { return h.r.RemoteAddr }
func (h *httpRequest) URL() string               { return h.r.URL.Path }

func (h *httpRequest) Body() ([]byte, error) {
	h.once.Do(func() {
		h.body, h.err = io.ReadAll(h.r.Body)
	})
	return h.body, h.err
}

func (h *httpRequest) Scheme() string {
	if h.r.TLS != nil {
		return "https"
	}
	return "http"
}
