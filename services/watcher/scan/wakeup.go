// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Wakeup turns fsnotify events on a source tree into a wake signal for
// the watch loop.
//
// # Description
//
// The watch loop normally sleeps a full tick between scans. A Wakeup
// lets a create/write/rename in the source tree cut that sleep short so
// fresh files are picked up promptly. Events are coalesced: the channel
// has capacity one and extra events are dropped, since the next scan
// sees everything anyway.
//
// Wakeup is best-effort. If the platform watcher cannot be created or
// directories cannot be added, the loop degrades to plain interval
// polling; no error reaches the ingestion path.
type Wakeup struct {
	watcher *fsnotify.Watcher
	ch      chan struct{}
}

// NewWakeup watches root (and its subdirectories when recursive) and
// returns a Wakeup. A nil Wakeup is valid and never fires.
func NewWakeup(root string, recursive bool) *Wakeup {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}

	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil
	}
	if recursive {
		// Add existing subdirectories; directories created later are
		// caught by the next poll instead.
		_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || !entry.IsDir() || path == root {
				return nil
			}
			_ = watcher.Add(path)
			return nil
		})
	}

	w := &Wakeup{watcher: watcher, ch: make(chan struct{}, 1)}
	go w.loop()
	return w
}

func (w *Wakeup) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			select {
			case w.ch <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Wait sleeps for d, returning early if an event fires or ctx is done.
// A nil Wakeup degrades to a plain context-aware sleep.
func (w *Wakeup) Wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	if w == nil {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return
	}

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.ch:
	}
}

// Close stops the underlying watcher. Safe on nil.
func (w *Wakeup) Close() {
	if w == nil {
		return
	}
	w.watcher.Close()
}
