// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sorted(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}

func TestDetector_FirstCallReportsAllAsNew(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.md", "alpha")
	b := write(t, dir, "b.md", "beta")

	d := NewDetector(dir, WithRecursive(true))
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	got := sorted(changes.New)
	want := sorted([]string{a, b})
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("New = %v, want %v", got, want)
	}
	if len(changes.Modified) != 0 || len(changes.Deleted) != 0 {
		t.Errorf("unexpected Modified/Deleted on first tick: %+v", changes)
	}
}

func TestDetector_NewModifiedDeleted(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.md", "alpha")
	b := write(t, dir, "b.md", "beta")

	d := NewDetector(dir, WithRecursive(true))
	if _, err := d.DetectChanges(); err != nil {
		t.Fatal(err)
	}

	// Modify a (force a newer mtime), delete b, create c.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(a, future, future); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	c := write(t, dir, "c.md", "gamma")

	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != c {
		t.Errorf("New = %v, want [%s]", changes.New, c)
	}
	if len(changes.Modified) != 1 || changes.Modified[0] != a {
		t.Errorf("Modified = %v, want [%s]", changes.Modified, a)
	}
	if len(changes.Deleted) != 1 || changes.Deleted[0] != b {
		t.Errorf("Deleted = %v, want [%s]", changes.Deleted, b)
	}

	// mtime state for the deleted path must be erased.
	if _, ok := d.lastMTime[b]; ok {
		t.Error("lastMTime entry for deleted file not erased")
	}

	// Third tick: quiescent.
	changes, err = d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if !changes.Empty() {
		t.Errorf("expected quiescent tick, got %+v", changes)
	}
}

func TestDetector_Baseline(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.md", "alpha")

	d := NewDetector(dir)
	if err := d.Baseline(); err != nil {
		t.Fatalf("Baseline: %v", err)
	}

	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if !changes.Empty() {
		t.Errorf("baseline files reported as changes: %+v", changes)
	}

	note := write(t, dir, "note.md", "fresh")
	changes, err = d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != note {
		t.Errorf("New = %v, want [%s]", changes.New, note)
	}
}

func TestDetector_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	md := write(t, dir, "keep.MD", "x") // Case-insensitive match
	write(t, dir, "skip.txt", "x")
	write(t, dir, "noext", "x")

	d := NewDetector(dir, WithExtensions([]string{".md"}))
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != md {
		t.Errorf("New = %v, want [%s]", changes.New, md)
	}
}

func TestDetector_HiddenFilesExcluded(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, ".hidden.md", "x")
	visible := write(t, dir, "visible.md", "x")

	d := NewDetector(dir)
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != visible {
		t.Errorf("New = %v, want [%s]", changes.New, visible)
	}
}

func TestDetector_NonRecursiveIgnoresSubdirs(t *testing.T) {
	dir := t.TempDir()
	top := write(t, dir, "top.md", "x")
	write(t, dir, "sub/nested.md", "x")

	d := NewDetector(dir)
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != top {
		t.Errorf("New = %v, want [%s]", changes.New, top)
	}
}

func TestDetector_SpecstoryOnly(t *testing.T) {
	dir := t.TempDir()
	inside := write(t, dir, ".specstory/history/chat.md", "x")
	write(t, dir, "outside.md", "x")

	d := NewDetector(dir, WithRecursive(true), WithSpecstoryOnly(true))
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0] != inside {
		t.Errorf("New = %v, want [%s]", changes.New, inside)
	}
}

func TestDetector_MissingRootIsEmpty(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "gone"))
	changes, err := d.DetectChanges()
	if err != nil {
		t.Fatalf("DetectChanges on missing root: %v", err)
	}
	if !changes.Empty() {
		t.Errorf("expected no changes for missing root, got %+v", changes)
	}
}
