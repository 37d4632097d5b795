package gateway

import (
	"context"

	"go.uber.org/zap"
)

// Pipeline runs a request through the middleware chain and the service
// method handler.
type Pipeline struct {
	middlewares []Middleware
	log         *zap.Logger
}

// NewPipeline builds a pipeline over the given middlewares. Order matters:
// ingress runs first to last, egress runs in the same order.
func NewPipeline(middlewares []Middleware, log *zap.Logger) *Pipeline {
	return &Pipeline{
		middlewares: middlewares,
		log:         log.With(zap.String("module", "pipeline")),
	}
}

// Middlewares returns the chain in execution order.
func (p *Pipeline) Middlewares() []Middleware {
	out := make([]Middleware, len(p.middlewares))
	copy(out, p.middlewares)
	return out
}

// Execute runs the full request lifecycle.
//
// Ingress middlewares run first. The first non-nil response wins but the
// remaining middlewares still run; an error aborts the phase and discards
// any short-circuit response. The handler only runs when ingress produced
// neither. Egress middlewares always run, even on error, so accounting and
// logging see every request; an egress error replaces the in-flight error
// and aborts the remaining egress middlewares.
//
// A (nil, nil) return is possible and means no middleware or handler
// produced anything. The transport adapters turn that into a
// ServiceUnavailable error.
func (p *Pipeline) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.runIngress(ctx, req)
	if err == nil && resp == nil {
		resp, err = req.Service.CallMethod(ctx, req)
		if err != nil {
			resp = nil
		}
	}

	var egressIn *Response
	if err == nil {
		egressIn = resp
	}
	final, egressErr := p.runEgress(ctx, req, egressIn, err)
	if egressErr != nil {
		return nil, egressErr
	}
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (p *Pipeline) runIngress(ctx context.Context, req *Request) (*Response, error) {
	var winner *Response
	for _, mw := range p.middlewares {
		if p.skip(req, mw) {
			continue
		}
		resp, err := mw.ProcessRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil && winner == nil {
			winner = resp
		}
	}
	return winner, nil
}

func (p *Pipeline) runEgress(ctx context.Context, req *Request, resp *Response, callErr error) (*Response, error) {
	current := resp
	for _, mw := range p.middlewares {
		if p.skip(req, mw) {
			continue
		}
		out, err := mw.ProcessResponse(ctx, req, current, callErr)
		if err != nil {
			return nil, err
		}
		if out != nil {
			current = out
		}
	}
	return current, nil
}

func (p *Pipeline) skip(req *Request, mw Middleware) bool {
	return req.IsWebhook() && !mw.WebhookFriendly()
}
