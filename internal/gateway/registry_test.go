package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noopMethod(_ context.Context, _ interface{}) (interface{}, error) {
	return nil, nil
}

func registryService(t *testing.T, name string, version int) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Name:    name,
		Version: version,
		Methods: []*Method{{Name: "send", Handler: okHandler}},
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := New()
	svc := registryService(t, "email", 1)

	require.NoError(t, reg.Register(svc))
	assert.Equal(t, "email_v1", svc.Key())
	assert.NotNil(t, svc.Locals(), "registration assigns locals")

	got, ok := reg.Service("email", 1)
	require.True(t, ok)
	assert.Same(t, svc, got)

	_, ok = reg.Service("email", 2)
	assert.False(t, ok)
	_, ok = reg.Service("sms", 1)
	assert.False(t, ok)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(registryService(t, "email", 1)))

	err := reg.Register(registryService(t, "email", 1))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// Same name, different version is a distinct service.
	assert.NoError(t, reg.Register(registryService(t, "email", 2)))
}

func TestRegistryServicesOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"email", "sms", "currency_exchange"} {
		require.NoError(t, reg.Register(registryService(t, name, 1)))
	}

	var names []string
	for _, svc := range reg.Services() {
		names = append(names, svc.Name())
	}
	assert.Equal(t, []string{"email", "sms", "currency_exchange"}, names)
}

func TestRegistryProviders(t *testing.T) {
	full := NewBaseProvider("sendgrid", "Sendgrid", zap.NewNop())
	full.Handle("send", noopMethod)
	full.Handle("status", noopMethod)
	partial := NewBaseProvider("mailgun", "Mailgun", zap.NewNop())
	partial.Handle("send", noopMethod)

	reg := New()
	svc, err := NewService(ServiceConfig{
		Name:      "email",
		Providers: []Provider{full, partial},
		Methods:   []*Method{{Name: "send", Handler: okHandler}},
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, reg.Register(svc))

	p, ok := reg.Provider("email", 1, "mailgun")
	require.True(t, ok)
	assert.Equal(t, "mailgun", p.Name())

	_, ok = reg.Provider("email", 1, "postmark")
	assert.False(t, ok)
	_, ok = reg.Provider("sms", 1, "mailgun")
	assert.False(t, ok)

	eligible := reg.Providers("email", 1, []string{"send", "status"})
	require.Len(t, eligible, 1)
	assert.Equal(t, "sendgrid", eligible[0].Name())

	all := reg.Providers("email", 1, nil)
	assert.Len(t, all, 2)
	assert.Nil(t, reg.Providers("sms", 1, nil))
}

func TestDefaultRegistryStack(t *testing.T) {
	base := Default()
	require.NotNil(t, base)

	scratch := New()
	PushDefault(scratch)
	assert.Same(t, scratch, Default())

	// Popping something that is not on top is rejected.
	other := New()
	assert.ErrorIs(t, PopDefault(other), ErrDefaultMismatch)

	require.NoError(t, PopDefault(scratch))
	assert.Same(t, base, Default())

	// The bottom registry can never be popped.
	assert.ErrorIs(t, PopDefault(base), ErrDefaultMismatch)
}
