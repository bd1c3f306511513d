// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_FileOutput(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  tmpDir,
		Service: "watcher",
		Quiet:   true,
	})
	logger.Info("batch complete", "database", "notes", "ingested", 23)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "watcher.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"database":"notes"`) {
		t.Errorf("log file missing attribute, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"watcher"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestRotatingFile_RotatesAtLimit(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "watcher.log")

	rf, err := newRotatingFile(path, 64, 2)
	if err != nil {
		t.Fatalf("newRotatingFile: %v", err)
	}
	defer rf.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := rf.Write(line); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	backups, _ := filepath.Glob(path + ".*")
	if len(backups) == 0 {
		t.Fatal("expected at least one rotated backup")
	}
	if len(backups) > 2 {
		t.Errorf("got %d backups, want <= 2", len(backups))
	}
}

func TestPruneOldBackups(t *testing.T) {
	tmpDir := t.TempDir()

	old := filepath.Join(tmpDir, "watcher.log.1000000000")
	fresh := filepath.Join(tmpDir, "watcher.log.2000000000")
	active := filepath.Join(tmpDir, "watcher.log")
	for _, p := range []string{old, fresh, active} {
		if err := os.WriteFile(p, []byte("x"), 0640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	stale := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	pruneOldBackups(tmpDir, 7)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old backup should have been pruned")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("recent backup should survive pruning")
	}
	if _, err := os.Stat(active); err != nil {
		t.Error("active log file should never be pruned")
	}
}

func TestTailFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "watcher.log")
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lines, err := TailFile(path, 2)
	if err != nil {
		t.Fatalf("TailFile: %v", err)
	}
	if len(lines) != 2 || lines[0] != "three" || lines[1] != "four" {
		t.Errorf("TailFile = %v, want [three four]", lines)
	}
}
