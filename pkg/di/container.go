// Package di provides the reflection-based dependency container used to wire
// the gateway's shared infrastructure (config, logger, stores, transports)
// and to swap mocks in for tests.
package di

import (
	"fmt"
	"reflect"
	"sync"
)

// Factory is a function that creates an instance of a service.
type Factory func(*Container) (interface{}, error)

// Container manages dependency injection.
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	mocks     map[reflect.Type]interface{}
	configs   map[string]interface{}
	factories map[reflect.Type]Factory
}

// New creates a new DI container.
func New() *Container {
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		mocks:     make(map[reflect.Type]interface{}),
		configs:   make(map[string]interface{}),
		factories: make(map[reflect.Type]Factory),
	}
}

// Register registers a service factory. The iface argument is either a nil
// interface pointer, (*Iface)(nil), or a pointer to a concrete type.
func (c *Container) Register(iface interface{}, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Ptr {
		return ErrInterfaceMustBePointer
	}
	elem := t.Elem()
	var key reflect.Type
	if elem.Kind() == reflect.Interface {
		key = elem
	} else {
		key = t
	}
	c.factories[key] = factory
	return nil
}

func isPointer(iface interface{}) bool {
	t := reflect.TypeOf(iface)
	return t != nil && t.Kind() == reflect.Ptr
}

func implementsInterface(mock, iface interface{}) bool {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Ptr {
		return false
	}
	elem := t.Elem()
	if elem.Kind() != reflect.Interface {
		return false
	}
	return reflect.TypeOf(mock).Implements(elem)
}

// RegisterMock registers a mock implementation for testing. Mocks take
// precedence over registered factories on Resolve.
func (c *Container) RegisterMock(iface, mock interface{}) error {
	if !isPointer(iface) {
		return ErrInterfaceMustBePointer
	}
	if !implementsInterface(mock, iface) {
		return ErrMockDoesNotImplement
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mocks[reflect.TypeOf(iface).Elem()] = mock
	return nil
}

// RegisterConfig registers a configuration value.
func (c *Container) RegisterConfig(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[key] = value
}

// GetConfig retrieves a configuration value.
func (c *Container) GetConfig(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.configs[key]
	return value, ok
}

// GetString retrieves the configuration value as a string.
func (c *Container) GetString(key string) (string, bool) {
	v, ok := c.GetConfig(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt retrieves the configuration value as an int.
func (c *Container) GetInt(key string) (int, bool) {
	v, ok := c.GetConfig(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

// Resolve resolves a service instance into target, which must be a pointer
// to the registered interface or concrete type. Instances are cached, so a
// factory runs at most once per container.
func (c *Container) Resolve(target interface{}) error {
	targetType := reflect.TypeOf(target)
	if targetType == nil || targetType.Kind() != reflect.Ptr {
		return ErrTargetMustBePointer
	}

	elemType := targetType.Elem()

	c.mu.RLock()
	if mock, ok := c.mocks[elemType]; ok {
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(mock))
		c.mu.RUnlock()
		return nil
	}

	if service, ok := c.services[elemType]; ok {
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(service))
		c.mu.RUnlock()
		return nil
	}

	factory, ok := c.factories[elemType]
	if !ok {
		c.mu.RUnlock()
		return fmt.Errorf("%w for type %v", ErrNoFactoryRegistered, elemType)
	}
	c.mu.RUnlock()

	// Create the instance outside the lock; factories may resolve further
	// dependencies from the same container.
	instance, err := factory(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFactoryFailed, err)
	}

	c.mu.Lock()
	c.services[elemType] = instance
	c.mu.Unlock()

	reflect.ValueOf(target).Elem().Set(reflect.ValueOf(instance))
	return nil
}

// MustResolve resolves a service instance or panics. Reserved for wiring at
// startup where a missing dependency is a programming error.
func (c *Container) MustResolve(target interface{}) {
	if err := c.Resolve(target); err != nil {
		panic(fmt.Sprintf("di: failed to resolve dependency: %v", err))
	}
}

// Reset clears all registered services, mocks, and configs.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[reflect.Type]interface{})
	c.mocks = make(map[reflect.Type]interface{})
	c.configs = make(map[string]interface{})
}

// Clear removes a specific service or mock.
func (c *Container) Clear(iface interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := reflect.TypeOf(iface)
	if t == nil {
		return
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	delete(c.services, t)
	delete(c.mocks, t)
}
