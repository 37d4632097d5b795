package gateway

import "net/url"

// TransportRequest is the adapter-facing view of an inbound request. The
// HTTP and AMQP adapters both implement it, so the pipeline and services
// never touch transport types directly.
type TransportRequest interface {
	// Method is the HTTP verb, or "" for queue messages.
	Method() string
	// Header returns a header value, or "" when absent.
	Header(name string) string
	// Query returns the parsed query arguments.
	Query() url.Values
	// RawQuery returns the unparsed query string.
	RawQuery() string
	// Body returns the raw request payload.
	Body() ([]byte, error)
	// RemoteAddr is the caller's network address.
	RemoteAddr() string
	// URL is the request target used in log lines.
	URL() string
	// Scheme names the transport ("http", "https", "amqp").
	Scheme() string
}
