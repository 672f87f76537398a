// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the settings file when it changes. The directory is
// watched rather than the file so editors that replace the file on save
// are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	fs       *fsnotify.Watcher
	updates  chan Settings
}

// NewWatcher starts watching path. A non-positive debounce means
// DefaultDebounce.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: abs, debounce: debounce, fs: fs, updates: make(chan Settings, 1)}, nil
}

// Updates delivers every successfully parsed reload. Only the newest
// pending reload is kept.
func (w *Watcher) Updates() <-chan Settings { return w.updates }

// Run processes file events until ctx is done or the watcher is closed.
// Files that fail to parse are logged and skipped, so the caller keeps
// its current settings.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				gpu.Logger().Debug("config: change detected", "file", ev.Name, "op", ev.Op.String())
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			gpu.Logger().Warn("config: watcher error", "err", err)
		case <-timer.C:
			w.reload()
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(ev.Name) == w.path
}

func (w *Watcher) reload() {
	s, err := Load(w.path)
	if err != nil {
		gpu.Logger().Warn("config: reload rejected, keeping current settings", "err", err)
		return
	}
	select {
	case <-w.updates:
	default:
	}
	w.updates <- s
	gpu.Logger().Info("config: reloaded", "path", w.path)
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fs.Close() }
