// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatcherSettings selects the detection mode and gate timing.
type WatcherSettings struct {
	Mode            string // realtime | polling
	PollingInterval time.Duration
	StabilityWait   time.Duration
	StabilityChecks int
}

// Watcher detects PDF arrivals in the inbox and releases each file to
// the ready callback exactly once, after the stability gate passes.
type Watcher struct {
	dir      string
	settings WatcherSettings
	gate     *StabilityGate
	onReady  func(path string)
	log      *logrus.Logger

	mu      sync.Mutex
	tracked map[string]bool // path -> released; entries evicted once the file leaves the inbox

	// fsnotify does not recurse, so every inbox subdirectory gets its
	// own watch as it is discovered
	notify  *fsnotify.Watcher
	watched map[string]bool
}

// NewWatcher builds a watcher over dir. onReady is invoked from the
// watcher goroutine; it must hand off quickly.
func NewWatcher(dir string, settings WatcherSettings, onReady func(string), log *logrus.Logger) *Watcher {
	if settings.PollingInterval <= 0 {
		settings.PollingInterval = 30 * time.Second
	}
	if settings.StabilityWait <= 0 {
		settings.StabilityWait = 3 * time.Second
	}
	return &Watcher{
		dir:      dir,
		settings: settings,
		gate:     NewStabilityGate(settings.StabilityChecks),
		onReady:  onReady,
		log:      log,
		tracked:  make(map[string]bool),
		watched:  make(map[string]bool),
	}
}

// Run blocks until ctx is done. Realtime mode falls back to polling
// when the OS watch cannot be established.
func (w *Watcher) Run(ctx context.Context) {
	var notify *fsnotify.Watcher
	if w.settings.Mode == "realtime" {
		var err error
		notify, err = fsnotify.NewWatcher()
		if err == nil {
			err = notify.Add(w.dir)
		}
		if err != nil {
			w.log.Warnf("realtime watch unavailable, using polling: %v", err)
			notify = nil
		}
	}
	if notify != nil {
		defer notify.Close()
		w.notify = notify
		w.watched[w.dir] = true
	}

	gateTick := time.NewTicker(w.settings.StabilityWait)
	defer gateTick.Stop()
	pollTick := time.NewTicker(w.settings.PollingInterval)
	defer pollTick.Stop()

	// pick up anything already sitting in the inbox
	w.scan()

	for {
		var events chan fsnotify.Event
		var errs chan error
		if notify != nil {
			events = notify.Events
			errs = notify.Errors
		}
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch {
			case ev.Op&fsnotify.Create != 0 && isDir(ev.Name):
				// new subdirectory; watch it and pick up anything
				// already inside
				w.watchDir(ev.Name)
				w.scan()
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && isPDF(ev.Name):
				w.track(ev.Name)
			}
		case err := <-errs:
			w.log.Warnf("watch error: %v", err)
		case <-pollTick.C:
			// polling is also the realtime safety net for missed events
			w.scan()
		case <-gateTick.C:
			w.checkGated()
		}
	}
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// watchDir registers a realtime watch on dir once.
func (w *Watcher) watchDir(dir string) {
	if w.notify == nil {
		return
	}
	w.mu.Lock()
	known := w.watched[dir]
	if !known {
		w.watched[dir] = true
	}
	w.mu.Unlock()
	if known {
		return
	}
	if err := w.notify.Add(dir); err != nil {
		w.log.Warnf("could not watch %s: %v", dir, err)
	}
}

// scan walks the inbox tree, tracking unseen PDFs and evicting
// entries whose file is gone.
func (w *Watcher) scan() {
	seen := make(map[string]bool)
	filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			w.watchDir(path)
			return nil
		}
		if isPDF(path) {
			seen[path] = true
			w.track(path)
		}
		return nil
	})

	w.mu.Lock()
	for path := range w.tracked {
		if !seen[path] {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				delete(w.tracked, path)
				w.gate.Forget(path)
			}
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) track(path string) {
	w.mu.Lock()
	_, known := w.tracked[path]
	if !known {
		w.tracked[path] = false
	}
	w.mu.Unlock()
	if !known {
		w.log.WithField("file", filepath.Base(path)).Debug("tracking new arrival")
	}
}

// checkGated applies the stability gate to every tracked, unreleased
// path and fires the ready callback for those that pass.
func (w *Watcher) checkGated() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.tracked))
	for p, released := range w.tracked {
		if !released {
			paths = append(paths, p)
		}
	}
	w.mu.Unlock()

	for _, p := range paths {
		if w.gate.Observe(p) {
			w.mu.Lock()
			w.tracked[p] = true
			w.mu.Unlock()
			w.log.WithField("file", filepath.Base(p)).Info("file stable, releasing to pipeline")
			w.onReady(p)
		}
	}
}
