package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/metrics"
)

// HandlerFunc implements one service method.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Method describes one callable operation of a service.
type Method struct {
	Name string
	// HTTPMethod is the verb the HTTP adapter accepts, GET or POST.
	HTTPMethod string
	// Webhook methods are exposed on the webhook surface and run the
	// pipeline in webhook mode.
	Webhook bool
	// Schema validates the request payload when the handler reads Data.
	Schema  *Schema
	Handler HandlerFunc
}

// ServiceConfig describes a service to construct.
type ServiceConfig struct {
	Name        string
	Version     int
	VerboseName string
	// Providers in declaration order. Order is the tie-breaker for
	// selection strategies.
	Providers []Provider
	// Strategy is the default selection strategy, RoundRobin when nil.
	Strategy Strategy
	Methods  []*Method
}

// Service is a registered gateway service: a set of methods dispatched over
// interchangeable providers.
type Service struct {
	name        string
	version     int
	verboseName string

	providers     []Provider
	providerIndex map[string]Provider

	strategy Strategy

	methods     []*Method
	methodIndex map[string]*Method

	locals *Locals
	log    *zap.Logger
}

// NewService validates the configuration and builds a service.
func NewService(cfg ServiceConfig, log *zap.Logger) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version < 1 {
		return nil, fmt.Errorf("service %s: version must be positive", cfg.Name)
	}
	if len(cfg.Methods) == 0 {
		return nil, fmt.Errorf("service %s: at least one method is required", cfg.Name)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = RoundRobin{}
	}
	if cfg.VerboseName == "" {
		cfg.VerboseName = cfg.Name
	}

	svc := &Service{
		name:          cfg.Name,
		version:       cfg.Version,
		verboseName:   cfg.VerboseName,
		providers:     cfg.Providers,
		providerIndex: make(map[string]Provider, len(cfg.Providers)),
		strategy:      cfg.Strategy,
		methods:       cfg.Methods,
		methodIndex:   make(map[string]*Method, len(cfg.Methods)),
		log:           log.With(zap.String("module", "service."+cfg.Name)),
	}

	for _, p := range cfg.Providers {
		if _, dup := svc.providerIndex[p.Name()]; dup {
			return nil, fmt.Errorf("service %s: duplicate provider %q", cfg.Name, p.Name())
		}
		svc.providerIndex[p.Name()] = p
	}

	for _, m := range cfg.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("service %s: method name is required", cfg.Name)
		}
		if m.Handler == nil {
			return nil, fmt.Errorf("service %s: method %q has no handler", cfg.Name, m.Name)
		}
		m.HTTPMethod = strings.ToUpper(m.HTTPMethod)
		if m.HTTPMethod == "" {
			m.HTTPMethod = "POST"
		}
		if m.HTTPMethod != "GET" && m.HTTPMethod != "POST" {
			return nil, fmt.Errorf("service %s: method %q: unsupported http method %q",
				cfg.Name, m.Name, m.HTTPMethod)
		}
		if _, dup := svc.methodIndex[m.Name]; dup {
			return nil, fmt.Errorf("service %s: duplicate method %q", cfg.Name, m.Name)
		}
		svc.methodIndex[m.Name] = m
	}

	return svc, nil
}

func (s *Service) Name() string        { return s.name }
func (s *Service) Version() int        { return s.version }
func (s *Service) VerboseName() string { return s.verboseName }

// Key is the registry key, name_vVERSION.
func (s *Service) Key() string {
	return serviceKey(s.name, s.version)
}

// Locals is the strategy scratch space, assigned at registration.
func (s *Service) Locals() *Locals {
	return s.locals
}

// Providers returns the declared providers in order.
func (s *Service) Providers() []Provider {
	out := make([]Provider, len(s.providers))
	copy(out, s.providers)
	return out
}

// Provider looks up a provider by name.
func (s *Service) Provider(name string) (Provider, bool) {
	p, ok := s.providerIndex[name]
	return p, ok
}

// Method looks up a method by name.
func (s *Service) Method(name string) (*Method, bool) {
	m, ok := s.methodIndex[name]
	return m, ok
}

// Methods returns the declared methods in order.
func (s *Service) Methods() []*Method {
	out := make([]*Method, len(s.methods))
	copy(out, s.methods)
	return out
}

// EligibleProviders returns the providers advertising every required
// method, in declaration order.
func (s *Service) EligibleProviders(required []string) []Provider {
	eligible := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if providerHasAll(p, required) {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

func providerHasAll(p Provider, required []string) bool {
	for _, m := range required {
		if !p.HasMethod(m) {
			return false
		}
	}
	return true
}

// CallMethod dispatches the request to its resolved method handler.
func (s *Service) CallMethod(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == nil || req.Method.Handler == nil {
		return nil, NewInternalError(fmt.Sprintf("Service %s has no handler for the request", s.name))
	}
	return req.Method.Handler(ctx, req)
}

// ProviderQuery selects a provider either by name or by selection criteria,
// never both.
type ProviderQuery struct {
	Name            string
	RequiredMethods []string
	Strategy        Strategy
}

// GetProvider resolves one provider for the request. The chosen provider
// name is recorded as the request's "provider" loggable.
func (s *Service) GetProvider(ctx context.Context, req *Request, q ProviderQuery) (Provider, error) {
	byName := q.Name != ""
	byCriteria := len(q.RequiredMethods) > 0 || q.Strategy != nil
	if byName == byCriteria {
		return nil, NewInternalError("Provider lookup needs either a provider name or selection criteria")
	}

	var chosen Provider
	if byName {
		p, ok := s.providerIndex[q.Name]
		if !ok {
			return nil, NewProviderUnavailableError(
				fmt.Sprintf("Provider '%s' is unavailable for this service.", q.Name))
		}
		chosen = p
	} else {
		eligible := s.EligibleProviders(q.RequiredMethods)
		if len(eligible) == 0 {
			return nil, NewProviderUnavailableError("No providers available")
		}
		strategy := q.Strategy
		if strategy == nil {
			strategy = s.strategy
		}
		p, err := strategy.Select(ctx, req, eligible)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, NewProviderUnavailableError("Can not select service provider")
		}
		chosen = p
	}

	if req != nil {
		req.AddLoggableProperty("provider", chosen.Name())
	}
	return chosen, nil
}

// FailoverProviderCall runs method over the eligible providers until one
// succeeds. Failed providers are dropped for the remainder of the call, so
// the operation may execute more than once upstream; methods routed through
// failover must tolerate at-least-once delivery.
func (s *Service) FailoverProviderCall(ctx context.Context, req *Request, method string, args interface{}) (interface{}, error) {
	return s.failoverCall(ctx, req, method, args, false)
}

// SilentFailoverProviderCall is FailoverProviderCall without per-provider
// failure logging.
func (s *Service) SilentFailoverProviderCall(ctx context.Context, req *Request, method string, args interface{}) (interface{}, error) {
	return s.failoverCall(ctx, req, method, args, true)
}

func (s *Service) failoverCall(ctx context.Context, req *Request, method string, args interface{}, silent bool) (interface{}, error) {
	providers := s.EligibleProviders([]string{method})
	if len(providers) == 0 {
		return nil, NewProviderUnavailableError("No providers available")
	}

	callCtx := ctx
	if silent {
		callCtx = WithSilentCalls(ctx)
	}

	attempts := 0
	for len(providers) > 0 {
		attempts++
		provider, err := s.strategy.Select(ctx, req, providers)
		if err != nil {
			return nil, err
		}
		if provider == nil {
			break
		}

		result, err := provider.Call(callCtx, method, args)
		if err == nil {
			if attempts > 1 {
				s.log.Info(fmt.Sprintf(
					"Failover provider call `%s` was successful in %d attempts (via %s)",
					method, attempts, provider.Name()))
			}
			if req != nil {
				req.AddLoggableProperty("provider", provider.Name())
			}
			return result, nil
		}

		if !silent {
			s.log.Error("failover provider call failed",
				zap.String("provider", provider.Name()),
				zap.String("method", method),
				zap.Error(err),
			)
		}
		metrics.ProviderFailovers.WithLabelValues(s.name, provider.Name()).Inc()
		providers = withoutProvider(providers, provider)
	}

	return nil, NewFailoverFailError()
}

func withoutProvider(providers []Provider, drop Provider) []Provider {
	out := make([]Provider, 0, len(providers)-1)
	for _, p := range providers {
		if p != drop {
			out = append(out, p)
		}
	}
	return out
}

// MethodSchema is the introspection view of one method.
type MethodSchema struct {
	Name          string          `json:"name"`
	HTTPMethod    string          `json:"http_method"`
	RequestSchema json.RawMessage `json:"request_schema"`
}

// ServiceSchema is the introspection view of a service.
type ServiceSchema struct {
	Name        string                  `json:"name"`
	Version     int                     `json:"version"`
	VerboseName string                  `json:"verbose_name"`
	Methods     map[string]MethodSchema `json:"methods"`
}

// IntrospectionSchema renders the service catalog entry served by the
// schema endpoints.
func (s *Service) IntrospectionSchema() ServiceSchema {
	methods := make(map[string]MethodSchema, len(s.methods))
	for _, m := range s.methods {
		entry := MethodSchema{
			Name:       m.Name,
			HTTPMethod: m.HTTPMethod,
		}
		if m.Schema != nil {
			entry.RequestSchema = m.Schema.Raw()
		}
		methods[m.Name] = entry
	}
	return ServiceSchema{
		Name:        s.name,
		Version:     s.version,
		VerboseName: s.verboseName,
		Methods:     methods,
	}
}
