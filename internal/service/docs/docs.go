// Package docs exposes document rendering, today one conversion: HTML in,
// PDF file streamed back.
package docs

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
)

// Name is the service name requests are routed by.
const Name = "docs"

// Stream is a rendered document handed over chunk by chunk. ContentType is
// known before the first chunk, so the transport can write headers first.
type Stream struct {
	ContentType string
	Chunks      <-chan []byte
}

type service struct {
	log *zap.Logger
}

// NewService assembles the docs service over the given providers.
func NewService(providers []gateway.Provider, log *zap.Logger) (*gateway.Service, error) {
	s := &service{log: log}
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "Docs",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "html_to_pdf", HTTPMethod: http.MethodPost, Handler: s.htmlToPDF},
		},
	}, log)
}

// htmlToPDF renders the posted document and streams the file back. The
// provider performs the upstream round trip before this returns, so
// rendering errors surface while an error response can still be sent.
func (s *service) htmlToPDF(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	data, err := req.Data(ctx)
	if err != nil {
		return nil, err
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		RequiredMethods: []string{"html_to_pdf"},
	})
	if err != nil {
		return nil, err
	}

	result, err := prov.Call(ctx, "html_to_pdf", data)
	if err != nil {
		return nil, err
	}
	stream, ok := result.(*Stream)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected rendering response")
	}
	return gateway.NewStreamResponse(stream.Chunks, stream.ContentType), nil
}
