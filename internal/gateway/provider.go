package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider executes service methods against one upstream vendor.
type Provider interface {
	Name() string
	VerboseName() string
	// MethodNames lists the methods this provider advertises, in
	// registration order.
	MethodNames() []string
	HasMethod(name string) bool
	// Call runs a provider method. Non-domain failures come back normalized
	// as ProviderError.
	Call(ctx context.Context, method string, args interface{}) (interface{}, error)
}

// CountrySupport is implemented by providers that only serve some countries.
// Selection strategies may use it to filter.
type CountrySupport interface {
	SupportedCountries() []string
}

// MethodFunc is a provider method implementation.
type MethodFunc func(ctx context.Context, args interface{}) (interface{}, error)

type silentCallsKey struct{}

// WithSilentCalls marks the context so provider call failures are not
// logged. Failover uses it when probing providers that are allowed to fail.
func WithSilentCalls(ctx context.Context) context.Context {
	return context.WithValue(ctx, silentCallsKey{}, true)
}

// SilentCalls reports whether provider call failures should be logged.
func SilentCalls(ctx context.Context) bool {
	silent, ok := ctx.Value(silentCallsKey{}).(bool)
	return ok && silent
}

// BaseProvider implements the Provider method table. Concrete providers
// embed it and register their methods at construction.
type BaseProvider struct {
	name    string
	verbose string
	log     *zap.Logger
	methods map[string]MethodFunc
	order   []string
}

// NewBaseProvider creates the embeddable provider core.
func NewBaseProvider(name, verbose string, log *zap.Logger) *BaseProvider {
	return &BaseProvider{
		name:    name,
		verbose: verbose,
		log:     log.With(zap.String("provider", name)),
		methods: make(map[string]MethodFunc),
	}
}

// Handle registers a provider method.
func (p *BaseProvider) Handle(method string, fn MethodFunc) {
	if _, exists := p.methods[method]; !exists {
		p.order = append(p.order, method)
	}
	p.methods[method] = fn
}

func (p *BaseProvider) Name() string {
	return p.name
}

func (p *BaseProvider) VerboseName() string {
	if p.verbose != "" {
		return p.verbose
	}
	return p.name
}

func (p *BaseProvider) MethodNames() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func (p *BaseProvider) HasMethod(name string) bool {
	_, ok := p.methods[name]
	return ok
}

// Log exposes the provider-scoped logger to embedding providers.
func (p *BaseProvider) Log() *zap.Logger {
	return p.log
}

// Call dispatches to a registered method. Domain errors pass through;
// anything else is logged and normalized to ProviderError so callers can
// fail over without inspecting vendor-specific failures.
func (p *BaseProvider) Call(ctx context.Context, method string, args interface{}) (interface{}, error) {
	fn, ok := p.methods[method]
	if !ok {
		return nil, NewInternalError(fmt.Sprintf("Provider '%s' has no method '%s'", p.name, method))
	}

	result, err := fn(ctx, args)
	if err == nil {
		return result, nil
	}
	if _, ok := AsAPIError(err); ok {
		return nil, err
	}
	if !SilentCalls(ctx) {
		p.log.Error("provider call failed",
			zap.String("method", method),
			zap.Error(err),
		)
	}
	return nil, NewProviderError("Error occurred during provider call. Try again later.").WithCause(err)
}

// RequireConfig validates that a configuration value the provider depends on
// is present.
func (p *BaseProvider) RequireConfig(key, value string) error {
	if value == "" {
		return NewConfigurationError(fmt.Sprintf("%s is required to use %s provider", key, p.name))
	}
	return nil
}
