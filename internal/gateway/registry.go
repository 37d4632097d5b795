package gateway

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRegistered is returned when a service key is registered twice.
var ErrAlreadyRegistered = errors.New("service already registered")

// ErrDefaultMismatch is returned when PopDefault is handed a registry that
// is not on top of the default stack.
var ErrDefaultMismatch = errors.New("registry is not the active default")

// Registry is the catalog of enabled services. Services register under
// name_vVERSION; registration order is preserved for routing and
// introspection.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	order    []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register adds a service. Each service gets its own locals store, and the
// (name, version) pair must be unique.
func (r *Registry) Register(svc *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := svc.Key()
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	svc.locals = NewLocals()
	r.services[key] = svc
	r.order = append(r.order, key)
	return nil
}

// Service looks up a service by name and version.
func (r *Registry) Service(name string, version int) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceKey(name, version)]
	return svc, ok
}

// Services returns every registered service in registration order.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.services[key])
	}
	return out
}

// Provider looks up a named provider of a service.
func (r *Registry) Provider(service string, version int, provider string) (Provider, bool) {
	svc, ok := r.Service(service, version)
	if !ok {
		return nil, false
	}
	return svc.Provider(provider)
}

// Providers returns the service's providers advertising every required
// method, in declaration order.
func (r *Registry) Providers(service string, version int, required []string) []Provider {
	svc, ok := r.Service(service, version)
	if !ok {
		return nil
	}
	return svc.EligibleProviders(required)
}

func serviceKey(name string, version int) string {
	return fmt.Sprintf("%s_v%d", name, version)
}

// The default registry is a stack so tests can push a scratch registry and
// restore the previous one afterwards.
var (
	defaultMu    sync.Mutex
	defaultStack = []*Registry{New()}
)

// Default returns the active default registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultStack[len(defaultStack)-1]
}

// PushDefault makes r the active default registry.
func PushDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStack = append(defaultStack, r)
}

// PopDefault removes r from the top of the default stack. Popping a registry
// that is not active is a wiring bug and is rejected.
func PopDefault(r *Registry) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if len(defaultStack) <= 1 {
		return ErrDefaultMismatch
	}
	if defaultStack[len(defaultStack)-1] != r {
		return ErrDefaultMismatch
	}
	defaultStack = defaultStack[:len(defaultStack)-1]
	return nil
}
