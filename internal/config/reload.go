package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is implemented by components that can update their config at
// runtime (the static actor directory, the rate limiter, the audit echo).
// The reloader logs a subscriber error and keeps notifying the rest.
type Reloadable interface {
	OnConfigReload(newCfg *Config) error
}

// ConfigReloader applies configuration changes to a running gateway. A reload
// is triggered by SIGHUP or, when enabled, by a debounced watch on the config
// file. An invalid new file never replaces the active config.
type ConfigReloader struct {
	path      string
	active    atomic.Pointer[Config]
	logger    *slog.Logger
	debounce  time.Duration
	watchFile bool

	mu      sync.RWMutex
	subs    []Reloadable
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	signals chan os.Signal
	done    chan struct{}
}

// NewConfigReloader creates a reloader around the given config file. The
// initial config becomes the active one.
func NewConfigReloader(path string, initial *Config, logger *slog.Logger) *ConfigReloader {
	r := &ConfigReloader{
		path:      path,
		logger:    logger,
		debounce:  initial.Reload.Debounce.Duration,
		watchFile: initial.Reload.WatchFile,
		done:      make(chan struct{}),
	}
	r.active.Store(initial)
	return r
}

// Register subscribes a component to reload notifications. Call before Start.
func (r *ConfigReloader) Register(sub Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

// Current returns the active configuration. Safe for concurrent use.
func (r *ConfigReloader) Current() *Config {
	return r.active.Load()
}

// Start installs the SIGHUP handler and, if configured, the file watcher,
// then runs the reload loop until the context is canceled or Stop is called.
func (r *ConfigReloader) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.signals = make(chan os.Signal, 1)
	signal.Notify(r.signals, syscall.SIGHUP)

	if r.watchFile {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating file watcher: %w", err)
		}
		if err := watcher.Add(r.path); err != nil {
			watcher.Close()
			return fmt.Errorf("watching %q: %w", r.path, err)
		}
		r.watcher = watcher
		r.logger.Info("watching config file", "path", r.path, "debounce", r.debounce)
	}

	go r.loop(ctx)
	return nil
}

// Stop ends the reload loop and waits for it to exit.
func (r *ConfigReloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Reload re-reads the config file and applies it. The old config stays active
// when the new file fails validation. Changes to fields that cannot take
// effect without a restart are logged and otherwise ignored.
func (r *ConfigReloader) Reload() error {
	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("reload rejected, keeping active config", "path", r.path, "error", err)
		return fmt.Errorf("config reload: %w", err)
	}

	changes := Diff(r.active.Load(), newCfg)
	if len(changes) == 0 {
		r.logger.Info("config reload: nothing changed")
		return nil
	}

	needsRestart := 0
	for _, c := range changes {
		if c.Reloadable {
			r.logger.Info("config change applied",
				"field", c.Field,
				"old", fmt.Sprintf("%v", c.OldValue),
				"new", fmt.Sprintf("%v", c.NewValue),
			)
			continue
		}
		needsRestart++
		r.logger.Warn("config change needs a restart, ignored",
			"field", c.Field,
			"old", fmt.Sprintf("%v", c.OldValue),
			"new", fmt.Sprintf("%v", c.NewValue),
		)
	}

	r.active.Store(newCfg)
	r.notify(newCfg)

	r.logger.Info("config reloaded",
		"path", r.path,
		"changes", len(changes),
		"restart_only", needsRestart,
	)
	return nil
}

func (r *ConfigReloader) notify(cfg *Config) {
	r.mu.RLock()
	subs := make([]Reloadable, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.OnConfigReload(cfg); err != nil {
			r.logger.Error("reload subscriber failed",
				"subscriber", fmt.Sprintf("%T", sub),
				"error", err,
			)
		}
	}
}

func (r *ConfigReloader) loop(ctx context.Context) {
	defer close(r.done)
	defer signal.Stop(r.signals)
	if r.watcher != nil {
		defer r.watcher.Close()
	}

	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return

		case sig := <-r.signals:
			r.logger.Info("reloading on signal", "signal", sig)
			if err := r.Reload(); err != nil {
				r.logger.Error("signal reload failed", "error", err)
			}

		case event, ok := <-r.fileEvents():
			if !ok {
				return
			}
			// Editors and config pushers typically replace the file, so
			// renames and creates count as writes.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if pending != nil {
					pending.Stop()
				}
				pending = time.NewTimer(r.debounce)
				fire = pending.C
			}

		case err, ok := <-r.fileErrors():
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)

		case <-fire:
			pending, fire = nil, nil
			r.logger.Info("config file changed, reloading", "path", r.path)
			// Re-arm the watch: a rename/replace leaves the old inode
			// watched. Errors are fine, the file may be mid-swap.
			_ = r.watcher.Add(r.path)
			if err := r.Reload(); err != nil {
				r.logger.Error("file reload failed", "error", err)
			}
		}
	}
}

// fileEvents and fileErrors return nil channels when no watcher is running,
// which blocks those select arms forever.
func (r *ConfigReloader) fileEvents() <-chan fsnotify.Event {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Events
}

func (r *ConfigReloader) fileErrors() <-chan error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Errors
}
