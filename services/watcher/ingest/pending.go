// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ListFile is a newline-delimited path list under the state root.
//
// # Crash Safety
//
// Appends go straight to the file; a crash mid-append at worst loses
// the last line. Rewrites go through temp + rename so earlier entries
// are never corrupted. Trailing partial lines are ignored on read.
type ListFile struct {
	path string
}

// NewListFile wraps the list at path. The file need not exist.
func NewListFile(path string) *ListFile {
	return &ListFile{path: path}
}

// Path returns the backing file path.
func (l *ListFile) Path() string { return l.path }

// Exists reports whether the backing file is present.
func (l *ListFile) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Read returns all complete lines, in file order, blanks skipped.
// A missing file reads as empty.
func (l *ListFile) Read() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading list %s: %w", l.path, err)
	}

	// Only LF-terminated lines are trusted; anything after the last
	// newline is a torn append and is ignored.
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, nil
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data[:end+1]))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Append adds one path to the end of the list, fsynced.
func (l *ListFile) Append(path string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("opening list %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(path + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// Rewrite replaces the whole list atomically (temp + rename).
func (l *ListFile) Rewrite(paths []string) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".list-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, p := range paths {
		if _, err := w.WriteString(p + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, l.path)
}

// Remove deletes the backing file. Missing file is not an error.
func (l *ListFile) Remove() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Difference returns entries of pending not present in done, in
// pending order, deduplicated.
func Difference(pending, done []string) []string {
	seen := make(map[string]struct{}, len(done))
	for _, d := range done {
		seen[d] = struct{}{}
	}
	var out []string
	for _, p := range pending {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{} // Dedup within pending itself
		out = append(out, p)
	}
	return out
}
