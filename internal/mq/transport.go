package mq

import "net/url"

// transportRequest is the queue-message view of an inbound call. Message
// payloads read as JSON bodies; there is no verb, query, or caller address.
type transportRequest struct {
	payload []byte
}

func newTransportRequest(payload []byte) *transportRequest {
	return &transportRequest{payload: payload}
}

func (*transportRequest) Method() string       { return "" }
func (*transportRequest) Header(string) string { return "" }
func (*transportRequest) Query() url.Values    { return url.Values{} }
func (*transportRequest) RawQuery() string     { return "" }

// Body returns the message payload. A message without one reads as an empty
// JSON object.
func (t *transportRequest) Body() ([]byte, error) {
	if len(t.payload) == 0 {
		return []byte("{}"), nil
	}
	return t.payload, nil
}

func (*transportRequest) RemoteAddr() string { return "" }
func (*transportRequest) URL() string        { return "//" + QueueServiceCalls }
func (*transportRequest) Scheme() string     { return "amqp" }
