package gateway

import "sync"

// Locals is the per-service scratch space selection strategies persist state
// in, namespaced so strategies never collide. All access happens inside
// WithNamespace, which holds the lock for the whole read-modify-write.
type Locals struct {
	mu     sync.Mutex
	scopes map[string]map[string]interface{}
}

// NewLocals creates an empty locals store.
func NewLocals() *Locals {
	return &Locals{scopes: make(map[string]map[string]interface{})}
}

// WithNamespace runs fn with exclusive access to the named scope.
func (l *Locals) WithNamespace(name string, fn func(scope map[string]interface{})) {
	l.mu.Lock()
	defer l.mu.Unlock()
	scope, ok := l.scopes[name]
	if !ok {
		scope = make(map[string]interface{})
		l.scopes[name] = scope
	}
	fn(scope)
}

// Snapshot copies the named scope for inspection.
func (l *Locals) Snapshot(name string) map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]interface{}, len(l.scopes[name]))
	for k, v := range l.scopes[name] {
		out[k] = v
	}
	return out
}
