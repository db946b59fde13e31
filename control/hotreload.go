// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reloads the configuration when its file changes and notifies hooks.

package control

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Reloader re-reads the configuration on file changes.
type Reloader struct {
	v      *viper.Viper
	logger *zap.Logger

	mu    sync.Mutex
	hooks []func(Config)
}

// NewReloader creates a reloader for v. Call Watch to start it.
func NewReloader(v *viper.Viper, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{v: v, logger: logger}
}

// OnReload registers a hook called with every successfully reloaded config.
func (r *Reloader) OnReload(fn func(Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Watch starts watching the config file used by v.
func (r *Reloader) Watch() {
	r.v.OnConfigChange(func(ev fsnotify.Event) {
		r.logger.Info("configuration changed", zap.String("file", ev.Name))
		r.Reload()
	})
	r.v.WatchConfig()
}

// Reload loads the configuration and runs the hooks synchronously. An
// invalid configuration is logged and the hooks are not called.
func (r *Reloader) Reload() {
	cfg, err := LoadConfig(r.v)
	if err != nil {
		r.logger.Warn("ignoring invalid configuration", zap.Error(err))
		return
	}
	r.mu.Lock()
	hooks := append([]func(Config){}, r.hooks...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
}
