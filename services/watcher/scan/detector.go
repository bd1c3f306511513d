// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scan detects file changes in a watched source folder.
//
// The detector is polling-based: each call to DetectChanges walks the
// folder, applies filters, and diffs the result against the previous
// walk. fsnotify (see wakeup.go) only shortens the wait between polls;
// the walk remains the source of truth, so missed inotify events can
// never lose a change.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileRecord is the per-file state the detector keeps between ticks.
type FileRecord struct {
	Path  string
	MTime int64 // Unix nanoseconds
	Size  int64
}

// Changes is the delta produced by one detection tick.
type Changes struct {
	New      []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the tick produced no changes.
func (c Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Detector scans a source folder and reports (new, modified, deleted)
// sets per tick.
//
// # Memory
//
// Internal state is bounded by the size of the last scan: mtime entries
// for deleted files are erased on every tick.
//
// # Thread Safety
//
// NOT safe for concurrent use; the ingestion loop owns it.
type Detector struct {
	root          string
	recursive     bool
	extensions    map[string]struct{} // Lowercased dotted suffixes; nil admits all
	specstoryOnly bool

	known     map[string]struct{}
	lastMTime map[string]int64
}

// Option configures a Detector.
type Option func(*Detector)

// WithRecursive enables recursive walks.
func WithRecursive(recursive bool) Option {
	return func(d *Detector) { d.recursive = recursive }
}

// WithExtensions restricts scanning to the given dotted extensions
// (case-insensitive). Empty means all extensions.
func WithExtensions(exts []string) Option {
	return func(d *Detector) {
		if len(exts) == 0 {
			return
		}
		d.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			d.extensions[strings.ToLower(ext)] = struct{}{}
		}
	}
}

// WithSpecstoryOnly restricts scanning to paths containing a
// `.specstory` directory segment.
func WithSpecstoryOnly(on bool) Option {
	return func(d *Detector) { d.specstoryOnly = on }
}

// NewDetector creates a detector rooted at the given folder.
func NewDetector(root string, opts ...Option) *Detector {
	d := &Detector{
		root:      root,
		known:     make(map[string]struct{}),
		lastMTime: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the watched folder.
func (d *Detector) Root() string { return d.root }

// Baseline populates the known set without emitting events.
//
// Used when entering watch mode over an already-ingested folder so the
// first tick doesn't re-report every existing file.
func (d *Detector) Baseline() error {
	current, err := d.Scan()
	if err != nil {
		return err
	}
	d.known = make(map[string]struct{}, len(current))
	d.lastMTime = make(map[string]int64, len(current))
	for _, rec := range current {
		d.known[rec.Path] = struct{}{}
		d.lastMTime[rec.Path] = rec.MTime
	}
	return nil
}

// DetectChanges walks the folder and returns the delta since the last
// call. The first call (without a Baseline) reports everything as new.
//
// No ordering guarantees are made on the returned sets.
func (d *Detector) DetectChanges() (Changes, error) {
	current, err := d.Scan()
	if err != nil {
		return Changes{}, err
	}

	var changes Changes
	currentSet := make(map[string]struct{}, len(current))

	for _, rec := range current {
		currentSet[rec.Path] = struct{}{}
		if _, ok := d.known[rec.Path]; !ok {
			changes.New = append(changes.New, rec.Path)
		} else if rec.MTime > d.lastMTime[rec.Path] {
			changes.Modified = append(changes.Modified, rec.Path)
		}
	}

	for path := range d.known {
		if _, ok := currentSet[path]; !ok {
			changes.Deleted = append(changes.Deleted, path)
			// Erase mtime state for deleted paths so the map stays
			// bounded by the live file set.
			delete(d.lastMTime, path)
		}
	}

	d.known = currentSet
	for _, rec := range current {
		d.lastMTime[rec.Path] = rec.MTime
	}

	return changes, nil
}

// Scan walks the folder with filters applied and returns the current
// file set. Does not mutate detector state.
func (d *Detector) Scan() ([]FileRecord, error) {
	var out []FileRecord

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.root {
				return err
			}
			// Unreadable subtree: skip rather than abort the tick.
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if path == d.root {
				return nil
			}
			if !d.recursive {
				return filepath.SkipDir
			}
			// Hidden directories are skipped unless we're looking for
			// .specstory trees specifically.
			if strings.HasPrefix(entry.Name(), ".") && !(d.specstoryOnly && entry.Name() == ".specstory") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.admit(path, entry.Name()) {
			return nil
		}

		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		out = append(out, FileRecord{
			Path:  path,
			MTime: info.ModTime().UnixNano(),
			Size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// admit applies the name, extension, and specstory filters to one file.
func (d *Detector) admit(path, name string) bool {
	// Hidden files excluded by default.
	if strings.HasPrefix(name, ".") {
		return false
	}
	if d.extensions != nil {
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := d.extensions[ext]; !ok {
			return false
		}
	}
	if d.specstoryOnly && !hasSegment(path, ".specstory") {
		return false
	}
	return true
}

// hasSegment reports whether the path contains the given directory
// segment.
func hasSegment(path, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
