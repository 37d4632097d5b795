// Package upstream is the outbound HTTP client the service providers share.
// Every upstream host gets its own circuit breaker, so one failing vendor
// cannot soak up gateway workers while the others keep serving.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	cb "github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/pkg/json"
)

// errServerStatus marks a 5xx reply so the breaker counts it as a failure
// while the caller still receives the response.
var errServerStatus = errors.New("upstream responded with a server error")

// BasicAuth carries credentials for vendors using HTTP basic auth.
type BasicAuth struct {
	Username string
	Password string
}

// RequestSpec describes one outbound call. Set either JSON or Form, not
// both; JSON wins when both are present.
type RequestSpec struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Auth    *BasicAuth

	// JSON is marshaled as the request body.
	JSON interface{}
	// Form is sent url-encoded.
	Form url.Values
}

// Response is a fully read upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into target.
func (r *Response) JSON(target interface{}) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return errors.Wrap(err, "decode upstream response")
	}
	return nil
}

// Client issues provider calls with per-host circuit breaking.
type Client struct {
	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*cb.CircuitBreaker
}

// New builds a client with a 30 second end-to-end request timeout.
func New(log *zap.Logger) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: 30 * time.Second}, log)
}

// NewWithHTTPClient builds a client around an existing http.Client.
func NewWithHTTPClient(hc *http.Client, log *zap.Logger) *Client {
	return &Client{
		http:     hc,
		log:      log.With(zap.String("module", "upstream")),
		breakers: make(map[string]*cb.CircuitBreaker),
	}
}

// Do performs the request and reads the whole body. Transport failures and
// open breakers come back as errors; HTTP error statuses do not, callers
// inspect the status themselves.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	host, err := specHost(spec)
	if err != nil {
		return nil, err
	}

	result, err := c.breakerFor(host).Execute(func() (interface{}, error) {
		resp, reqErr := c.roundTrip(ctx, spec)
		if reqErr != nil {
			return nil, reqErr
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		return nil, errors.Wrapf(err, "upstream %s", host)
	}
	return result.(*Response), nil
}

// Stream performs the request and hands the body back unread, for chunked
// pass-through. The caller closes the reader.
func (c *Client) Stream(ctx context.Context, spec RequestSpec) (io.ReadCloser, *http.Response, error) {
	host, err := specHost(spec)
	if err != nil {
		return nil, nil, err
	}

	result, err := c.breakerFor(host).Execute(func() (interface{}, error) {
		req, reqErr := c.buildRequest(ctx, spec)
		if reqErr != nil {
			return nil, reqErr
		}
		resp, reqErr := c.http.Do(req)
		if reqErr != nil {
			return nil, reqErr
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		return nil, nil, errors.Wrapf(err, "upstream %s", host)
	}
	resp := result.(*http.Response)
	return resp.Body, resp, nil
}

func (c *Client) roundTrip(ctx context.Context, spec RequestSpec) (*Response, error) {
	req, err := c.buildRequest(ctx, spec)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream response")
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	target := spec.URL
	if len(spec.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + spec.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case spec.JSON != nil:
		encoded, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case spec.Form != nil:
		body = strings.NewReader(spec.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range spec.Headers {
		req.Header.Set(name, value)
	}
	if spec.Auth != nil {
		req.SetBasicAuth(spec.Auth.Username, spec.Auth.Password)
	}
	return req, nil
}

func (c *Client) breakerFor(host string) *cb.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if breaker, ok := c.breakers[host]; ok {
		return breaker
	}

	log := c.log
	breaker := cb.NewCircuitBreaker(cb.Settings{
		Name:        "upstream:" + host,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	c.breakers[host] = breaker
	return breaker
}

func specHost(spec RequestSpec) (string, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return "", errors.Wrap(err, "parse upstream url")
	}
	if u.Host == "" {
		return "", errors.Errorf("upstream url %q has no host", spec.URL)
	}
	return u.Host, nil
}

// JoinURL glues path segments onto a base URL, tolerating stray slashes on
// either side.
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, segment := range segments {
		out += "/" + strings.Trim(segment, "/")
	}
	return out
}
