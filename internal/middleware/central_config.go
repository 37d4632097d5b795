package middleware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
)

// NameCentralConfig is the configuration name of the central-config
// middleware.
const NameCentralConfig = "central_config"

// Provider is the read surface services get for centrally managed settings.
type Provider interface {
	Get(key string) (interface{}, bool)
}

// CentralConfig attaches the resolved provider to every request as the
// central_config extension. Not part of the default chain.
type CentralConfig struct {
	gateway.PassMiddleware
	provider Provider
}

// NewCentralConfig builds the middleware around a provider.
func NewCentralConfig(provider Provider) *CentralConfig {
	return &CentralConfig{provider: provider}
}

func (*CentralConfig) Name() string { return NameCentralConfig }

func (m *CentralConfig) ProcessRequest(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	req.AddExtension(ExtCentralConfig, m.provider)
	return nil, nil
}

// NewProvider resolves the configured central-config implementation.
func NewProvider(cfg *config.Config, log *zap.Logger) (Provider, error) {
	switch cfg.CentralConfigProvider {
	case "", "dummy":
		return DummyProvider{}, nil
	case "file":
		return NewFileProvider(cfg.CentralConfigPath, log)
	default:
		return nil, fmt.Errorf("unknown central config provider: %s", cfg.CentralConfigProvider)
	}
}

// DummyProvider never holds a value. The default for instances that do not
// run a config service.
type DummyProvider struct{}

func (DummyProvider) Get(string) (interface{}, bool) { return nil, false }

// FileProvider serves keys from a JSON document on disk and reloads it when
// the file changes.
type FileProvider struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	values map[string]interface{}
}

// NewFileProvider loads the document and starts watching for changes. Close
// releases the watcher.
func NewFileProvider(path string, log *zap.Logger) (*FileProvider, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	p := &FileProvider{
		path:    path,
		log:     log.With(zap.String("module", "central_config")),
		watcher: watcher,
	}
	if err := p.reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	// Watch the directory: editors replace the file on save, which drops a
	// watch set on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch central config: %w", err)
	}
	go p.watch()
	return p, nil
}

// Get returns the value stored under key.
func (p *FileProvider) Get(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Close stops watching for changes.
func (p *FileProvider) Close() error {
	return p.watcher.Close()
}

func (p *FileProvider) watch() {
	// Debounce timer, drained so the first tick comes from an event.
	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(100 * time.Millisecond)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Error("watcher error", zap.Error(err))

		case <-debounce.C:
			if err := p.reload(); err != nil {
				p.log.Error("failed to reload central config", zap.Error(err))
			}
		}
	}
}

func (p *FileProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read central config: %w", err)
	}
	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to parse central config: %w", err)
	}

	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	p.log.Info("central config loaded",
		zap.String("path", p.path),
		zap.Int("keys", len(values)),
	)
	return nil
}
