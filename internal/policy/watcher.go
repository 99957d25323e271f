package policy

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher polls a policy file and swaps the store whenever it changes.
// A file that fails to load is logged and ignored; the previous policy stays live.
type Watcher struct {
	path     string
	store    *Store
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	lastMod time.Time
	running bool
}

// NewWatcher creates a watcher for path. A zero interval polls every second.
func NewWatcher(path string, store *Store, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("component", "policy_watcher")),
	}
}

// Run blocks until ctx is done, reloading the policy on modification.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("watching policy file",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reloads the file if its modification time moved. It reports whether
// a new policy was installed.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Debug("policy file not readable", zap.Error(err))
		return false
	}

	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()
	if !changed {
		return false
	}

	next, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("policy reload rejected, keeping previous policy", zap.Error(err))
		return false
	}
	if err := w.store.Swap(next); err != nil {
		w.logger.Warn("policy swap rejected", zap.Error(err))
		return false
	}
	w.logger.Info("policy reloaded", zap.Uint64("version", w.store.Version()))
	return true
}
