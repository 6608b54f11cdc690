/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-egressthrottle/log"
)

// ConfigSupplier loads a fresh rule-set snapshot. It may block and must respect the context.
type ConfigSupplier func(ctx context.Context) (*Config, error)

// ConfigProviderOpts contains optional parameters for ConfigProvider.
type ConfigProviderOpts struct {
	// ReloadInterval enables the background reload scheduler. 0 disables periodic reload.
	ReloadInterval time.Duration

	// Logger is used for logging reload outcomes.
	Logger log.FieldLogger
}

// ConfigProvider supplies the currently active throttling Config.
//
// The first GetCurrent call performs the initial load and blocks until it completes or fails;
// all subsequent calls return the latest successfully loaded snapshot without blocking.
// When a reload interval is configured, a background task refreshes the snapshot,
// swapping the active reference atomically, so readers never observe a partially updated config.
type ConfigProvider struct {
	supplier       ConfigSupplier
	reloadInterval time.Duration
	logger         log.FieldLogger

	current atomic.Pointer[Config]
	loadMu  sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewConfigProvider creates a new ConfigProvider with the given supplier.
func NewConfigProvider(supplier ConfigSupplier, opts ConfigProviderOpts) *ConfigProvider {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &ConfigProvider{
		supplier:       supplier,
		reloadInterval: opts.ReloadInterval,
		logger:         opts.Logger,
	}
}

// NewConfigProviderFromFile creates a ConfigProvider on top of a configuration file.
// The file is loaded eagerly; its reloadIntervalSeconds value is used
// unless opts.ReloadInterval overrides it.
func NewConfigProviderFromFile(path string, opts ConfigProviderOpts) (*ConfigProvider, error) {
	fileCfg, err := LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if opts.ReloadInterval == 0 {
		opts.ReloadInterval = time.Duration(fileCfg.ReloadIntervalSeconds) * time.Second
	}
	p := NewConfigProvider(FileSupplier(path), opts)
	p.current.Store(&fileCfg.Config)
	return p, nil
}

// NewStaticConfigProvider creates a ConfigProvider that always returns the given snapshot
// and never reloads it.
func NewStaticConfigProvider(cfg *Config) *ConfigProvider {
	p := NewConfigProvider(nil, ConfigProviderOpts{})
	p.current.Store(cfg)
	return p
}

// GetCurrent returns the latest successfully loaded Config.
// Only the initial load may block; its failure is surfaced to the caller
// and the next call triggers a fresh load attempt.
func (p *ConfigProvider) GetCurrent(ctx context.Context) (*Config, error) {
	if cfg := p.current.Load(); cfg != nil {
		return cfg, nil
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if cfg := p.current.Load(); cfg != nil {
		return cfg, nil
	}

	cfg, err := p.supplier(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial throttling config load: %w", err)
	}
	p.current.Store(cfg)
	return cfg, nil
}

// Start launches the background reload task. It does nothing when reload is disabled.
// Start is idempotent.
func (p *ConfigProvider) Start() {
	if p.reloadInterval <= 0 {
		return
	}
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go func() {
			defer close(p.done)
			p.run(ctx)
		}()
	})
}

// Stop terminates the background reload task and waits for it to exit.
// Stop is idempotent and safe to call even if Start was never called.
func (p *ConfigProvider) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

func (p *ConfigProvider) run(ctx context.Context) {
	p.logger.Infof("running periodic throttling config reload (interval=%s)...", p.reloadInterval)

	timer := time.NewTimer(p.reloadInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("periodic throttling config reload stopped")
			return
		case <-timer.C:
		}

		p.reload(ctx)

		timer.Stop()
		timer = time.NewTimer(p.reloadInterval)
	}
}

func (p *ConfigProvider) reload(ctx context.Context) {
	cfg, err := p.supplier(ctx)
	if err != nil {
		p.logger.Warn("failed to reload throttling config, the previous one is kept", log.Error(err))
		return
	}
	p.current.Store(cfg)
	p.logger.Debug("throttling config reloaded", log.Int("rules_count", len(cfg.Rules)))
}
