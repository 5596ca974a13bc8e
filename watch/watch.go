// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch detects out-of-band edits to a mission's candidate
// files while a mission is in flight, so a stale write can be surfaced
// as an event rather than silently lost the next time the applier
// recomputes a BaseSHA. diffpatch's own staleness check (contenthash,
// comparing a diff's declared base SHA against the file's current SHA
// at apply time) is the actual safety rail; this package only shortens
// the time between an external edit and that rail tripping, by pushing
// a notification instead of waiting for the next apply attempt to
// discover it.
//
// The fsnotify lifecycle and debounce-then-drain event loop are
// narrowed from recursive directory indexing with MIME detection down
// to watching a fixed, caller-supplied set of file paths, since a
// mission's candidate set is known up front and the thing that matters
// here is "did a watched file change", not "what is in it".
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind is what happened to a watched file.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one externally observed file mutation.
type Change struct {
	Path string
	Kind ChangeKind
}

// Watcher watches a fixed set of file paths for out-of-band writes.
type Watcher struct {
	fsw    *fsnotify.Watcher
	paths  map[string]bool
	events chan Change

	mu       sync.Mutex
	watching bool
	cancel   context.CancelFunc

	debounce time.Duration
}

// Config configures a Watcher.
type Config struct {
	Paths    []string
	Debounce time.Duration // default 100ms
}

// New constructs a Watcher over the given file paths without starting it.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	paths := make(map[string]bool, len(cfg.Paths))
	dirs := make(map[string]bool)
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return &Watcher{
		fsw:      fsw,
		paths:    paths,
		events:   make(chan Change, 32),
		debounce: debounce,
	}, nil
}

// Start begins watching and returns the channel changes are delivered
// on. Calling Start twice without an intervening Stop is a no-op.
func (w *Watcher) Start(ctx context.Context) <-chan Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return w.events
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.watching = true
	go w.loop(runCtx)
	return w.events
}

// Stop halts the underlying fsnotify watcher and signals the delivery
// loop to exit. It does not close the change channel: a debounce timer
// can still be in flight when Stop is called, and closing the channel
// out from under it would risk a send on a closed channel. Callers
// should stop consuming from the channel when their own context is
// done rather than by ranging until it closes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]ChangeKind)
	var mu sync.Mutex
	var timer *time.Timer

	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]ChangeKind)
		mu.Unlock()
		for path, kind := range batch {
			select {
			case w.events <- Change{Path: path, Kind: kind}:
			default:
				slog.Warn("watch: event channel full, dropping change", "path", path)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			flush()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.paths[ev.Name] {
				continue
			}
			kind := ChangeModified
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				kind = ChangeRemoved
			} else if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			mu.Lock()
			pending[ev.Name] = kind
			mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watch: fsnotify error", "error", err)
		}
	}
}
