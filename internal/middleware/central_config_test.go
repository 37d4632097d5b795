package middleware

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "central.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDummyProviderIsEmpty(t *testing.T) {
	_, ok := DummyProvider{}.Get("anything")
	assert.False(t, ok)
}

func TestCentralConfigAttachesProvider(t *testing.T) {
	req := buildRequest(t, "email", nil, nil, false)

	resp, err := NewCentralConfig(DummyProvider{}).ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)

	ext, err := req.RequireExtension(ExtCentralConfig)
	require.NoError(t, err)
	assert.Equal(t, DummyProvider{}, ext)
}

func TestFileProviderServesValues(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `{"feature_on": true, "retry_limit": 3}`)

	p, err := NewFileProvider(path, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	on, ok := p.Get("feature_on")
	require.True(t, ok)
	assert.Equal(t, true, on)

	limit, ok := p.Get("retry_limit")
	require.True(t, ok)
	assert.Equal(t, float64(3), limit)

	_, ok = p.Get("missing")
	assert.False(t, ok)
}

func TestFileProviderReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"retry_limit": 3}`)

	p, err := NewFileProvider(path, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	writeConfigFile(t, dir, `{"retry_limit": 5}`)

	assert.Eventually(t, func() bool {
		v, ok := p.Get("retry_limit")
		return ok && v == float64(5)
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFileProviderRejectsUnreadableFile(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	assert.Error(t, err)

	path := writeConfigFile(t, t.TempDir(), "not json at all")
	_, err = NewFileProvider(path, zap.NewNop())
	assert.Error(t, err)
}

func TestNewProviderSelection(t *testing.T) {
	dummy, err := NewProvider(&config.Config{CentralConfigProvider: "dummy"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, DummyProvider{}, dummy)

	unset, err := NewProvider(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, DummyProvider{}, unset)

	path := writeConfigFile(t, t.TempDir(), `{}`)
	file, err := NewProvider(&config.Config{
		CentralConfigProvider: "file",
		CentralConfigPath:     path,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FileProvider{}, file)
	file.(*FileProvider).Close()

	_, err = NewProvider(&config.Config{CentralConfigProvider: "zk"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown central config provider")
}
