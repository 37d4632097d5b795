package gateway

// ParamGlobalCache marks a response as cacheable for every caller. The cache
// middleware stores responses that carry it.
const ParamGlobalCache = "global_cache"

// Response is the service-side result envelope.
type Response struct {
	// Data is the JSON-renderable response body.
	Data interface{}
	// RequestFulfilled reports whether the service actually performed the
	// operation. Unfulfilled responses release idempotency locks and can be
	// excluded from quota counting.
	RequestFulfilled bool
	// StatusCode overrides the transport status. Zero means 200.
	StatusCode int
	// ExtraHeaders are appended to the transport response.
	ExtraHeaders map[string]string
	// ExtraParams carry flags for middlewares, such as ParamGlobalCache.
	ExtraParams map[string]interface{}

	// Chunks streams the body instead of Data when non-nil.
	Chunks <-chan []byte
	// ContentType labels a streamed body.
	ContentType string
}

// NewResponse builds a fulfilled response around data.
func NewResponse(data interface{}) *Response {
	return &Response{
		Data:             data,
		RequestFulfilled: true,
	}
}

// NewStreamResponse builds a fulfilled streaming response. The channel is
// drained by the transport adapter.
func NewStreamResponse(chunks <-chan []byte, contentType string) *Response {
	return &Response{
		RequestFulfilled: true,
		Chunks:           chunks,
		ContentType:      contentType,
	}
}

// IsStream reports whether the response body is streamed.
func (r *Response) IsStream() bool {
	return r.Chunks != nil
}

// WithStatus sets the transport status code.
func (r *Response) WithStatus(code int) *Response {
	r.StatusCode = code
	return r
}

// WithFulfilled marks whether the operation was performed.
func (r *Response) WithFulfilled(fulfilled bool) *Response {
	r.RequestFulfilled = fulfilled
	return r
}

// WithParam attaches a middleware-facing flag.
func (r *Response) WithParam(key string, value interface{}) *Response {
	if r.ExtraParams == nil {
		r.ExtraParams = make(map[string]interface{})
	}
	r.ExtraParams[key] = value
	return r
}

// Param returns a middleware-facing flag.
func (r *Response) Param(key string) (interface{}, bool) {
	if r.ExtraParams == nil {
		return nil, false
	}
	v, ok := r.ExtraParams[key]
	return v, ok
}

// AddHeader appends a transport response header.
func (r *Response) AddHeader(name, value string) {
	if r.ExtraHeaders == nil {
		r.ExtraHeaders = make(map[string]string)
	}
	r.ExtraHeaders[name] = value
}
