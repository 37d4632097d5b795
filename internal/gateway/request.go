package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/semilimes/sgateway/pkg/json"
)

// ErrNoLazyProperty is returned when a lazy property was never attached to
// the request.
var ErrNoLazyProperty = errors.New("no such lazy property")

// Request is the envelope every pipeline operation works on. It carries the
// resolved service and method, the transport view of the inbound call, and
// the mutable state middlewares exchange: extensions, loggable properties,
// and lazily resolved values. All mutators are safe for concurrent use.
type Request struct {
	Service   *Service
	Method    *Method
	Transport TransportRequest

	isWebhook bool

	mu         sync.Mutex
	extensions map[string]interface{}
	loggables  []loggableProperty
	lazy       map[string]*lazyValue

	dataOnce sync.Once
	data     map[string]interface{}
	dataErr  error
}

type loggableProperty struct {
	key   string
	value interface{}
}

type lazyValue struct {
	once  sync.Once
	fn    func(ctx context.Context) (interface{}, error)
	value interface{}
	err   error
}

func (l *lazyValue) resolve(ctx context.Context) (interface{}, error) {
	l.once.Do(func() {
		l.value, l.err = l.fn(ctx)
	})
	return l.value, l.err
}

// NewRequest builds a request envelope for the given service method.
func NewRequest(service *Service, method *Method, transport TransportRequest, webhook bool) *Request {
	return &Request{
		Service:   service,
		Method:    method,
		Transport: transport,
		isWebhook: webhook,
	}
}

// IsWebhook reports whether the request arrived on the webhook surface. The
// flag is frozen at construction.
func (r *Request) IsWebhook() bool {
	return r.isWebhook
}

// PathRepr is the canonical dotted call path, service.vN.method.
func (r *Request) PathRepr() string {
	return fmt.Sprintf("%s.v%d.%s", r.Service.Name(), r.Service.Version(), r.Method.Name)
}

// AddExtension stores a value shared between middlewares and the service.
func (r *Request) AddExtension(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extensions == nil {
		r.extensions = make(map[string]interface{})
	}
	r.extensions[key] = value
}

// Extension returns a shared value if present.
func (r *Request) Extension(key string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.extensions[key]
	return v, ok
}

// RequireExtension returns a shared value or an internal error: a missing
// required extension means the pipeline was assembled wrong.
func (r *Request) RequireExtension(key string) (interface{}, error) {
	if v, ok := r.Extension(key); ok {
		return v, nil
	}
	return nil, NewInternalError(fmt.Sprintf("No required request extension: %s", key))
}

// AddLoggableProperty records a property for the request log entry.
// Properties are kept in insertion order; a repeated key wins on flatten.
func (r *Request) AddLoggableProperty(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loggables = append(r.loggables, loggableProperty{key: key, value: value})
}

// LoggableProperties flattens the recorded properties, latest value winning.
func (r *Request) LoggableProperties() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	flat := make(map[string]interface{}, len(r.loggables))
	for _, p := range r.loggables {
		flat[p.key] = p.value
	}
	return flat
}

// AddLazyValue attaches an already-known lazy property value.
func (r *Request) AddLazyValue(name string, value interface{}) {
	r.AddLazyFunc(name, func(context.Context) (interface{}, error) {
		return value, nil
	})
}

// AddLazyFunc attaches a property resolved on first use. The result, error
// included, is memoized: concurrent resolvers share a single flight.
func (r *Request) AddLazyFunc(name string, fn func(ctx context.Context) (interface{}, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lazy == nil {
		r.lazy = make(map[string]*lazyValue)
	}
	r.lazy[name] = &lazyValue{fn: fn}
}

// ResolveLazy resolves a lazy property, or ErrNoLazyProperty when it was
// never attached.
func (r *Request) ResolveLazy(ctx context.Context, name string) (interface{}, error) {
	r.mu.Lock()
	lv, ok := r.lazy[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLazyProperty, name)
	}
	return lv.resolve(ctx)
}

// EntityID resolves the authenticated entity attached by the auth
// middleware. Callers treat ErrNoLazyProperty as "anonymous".
func (r *Request) EntityID(ctx context.Context) (string, error) {
	return r.resolveLazyString(ctx, "entity_id")
}

// UserID resolves the acting user, when the credentials carried one.
func (r *Request) UserID(ctx context.Context) (string, error) {
	return r.resolveLazyString(ctx, "user_id")
}

func (r *Request) resolveLazyString(ctx context.Context, name string) (string, error) {
	v, err := r.ResolveLazy(ctx, name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("lazy property %s is not a string", name)
	}
	return s, nil
}

// Data returns the request payload: query arguments for GET requests, the
// decoded JSON body otherwise. When the method declares a request schema the
// payload is validated against it. The result is computed once per request.
func (r *Request) Data(ctx context.Context) (map[string]interface{}, error) {
	r.dataOnce.Do(func() {
		r.data, r.dataErr = r.loadData(ctx)
	})
	return r.data, r.dataErr
}

func (r *Request) loadData(_ context.Context) (map[string]interface{}, error) {
	var data map[string]interface{}
	if r.Transport.Method() == "GET" {
		query := r.Transport.Query()
		data = make(map[string]interface{}, len(query))
		for name := range query {
			data[name] = query.Get(name)
		}
	} else {
		body, err := r.Transport.Body()
		if err != nil {
			return nil, NewBadRequestError("JSON data expected").WithCause(err)
		}
		if len(body) == 0 || json.Unmarshal(body, &data) != nil || data == nil {
			return nil, NewBadRequestError("JSON data expected")
		}
	}

	if r.Method.Schema != nil {
		if err := r.Method.Schema.Validate(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Arg returns the first value of a query argument, or "".
func (r *Request) Arg(name string) string {
	return r.Transport.Query().Get(name)
}

// Args returns all values of a query argument.
func (r *Request) Args(name string) []string {
	return r.Transport.Query()[name]
}

// ClientIP is the caller's network address as seen by the transport.
func (r *Request) ClientIP() string {
	return r.Transport.RemoteAddr()
}
