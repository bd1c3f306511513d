// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// execute runs the root command with the given argv.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"usage", usageErrorf("bad flag"), 1},
		{"unknown database", fmt.Errorf("resolving: %w", registry.ErrNotFound), 1},
		{"duplicate", registry.ErrAlreadyExists, 1},
		{"lock contention", fmt.Errorf("start: %w", lock.ErrAlreadyLocked), 3},
		{"runtime", errors.New("engine exploded"), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestRegistryLifecycle(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())
	source := t.TempDir()

	if err := execute(t, "register", "notes", "--source", source, "--interval", "45"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Duplicate names are a usage error.
	if err := execute(t, "register", "notes", "--source", source); exitCode(err) != exitUsage {
		t.Errorf("duplicate register exit = %d, want %d", exitCode(err), exitUsage)
	}

	reg, err := registry.Open("")
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := reg.Get("notes")
	if !ok {
		t.Fatal("record missing after register")
	}
	if rec.WatchIntervalSec != 45 || rec.SourceFolder != source {
		t.Errorf("record = %+v", rec)
	}
	if rec.Backend.Type != registry.BackendJSON {
		t.Errorf("backend = %s, want json default", rec.Backend.Type)
	}

	if err := execute(t, "update", "notes", "--interval", "90", "--auto-watch"); err != nil {
		t.Fatalf("update: %v", err)
	}
	reg, _ = registry.Open("")
	rec, _ = reg.Get("notes")
	if rec.WatchIntervalSec != 90 || !rec.AutoWatch {
		t.Errorf("after update: interval=%d auto=%v", rec.WatchIntervalSec, rec.AutoWatch)
	}

	if err := execute(t, "unregister", "notes"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	reg, _ = registry.Open("")
	if _, ok := reg.Get("notes"); ok {
		t.Error("record survived unregister")
	}
}

func TestRegister_InvalidInputs(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	err := execute(t, "register", "bad", "--type", "carrier-pigeon")
	if exitCode(err) != exitUsage {
		t.Errorf("invalid type exit = %d, want %d", exitCode(err), exitUsage)
	}
	err = execute(t, "register", "bad", "--type", "filesystem", "--backend", "dbase3")
	if exitCode(err) != exitUsage {
		t.Errorf("invalid backend exit = %d, want %d", exitCode(err), exitUsage)
	}
	err = execute(t, "register", "Not-A-Valid-Name", "--type", "filesystem", "--backend", "json")
	if exitCode(err) != exitUsage {
		t.Errorf("invalid name exit = %d, want %d", exitCode(err), exitUsage)
	}
}

func TestIngest_EndToEnd(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	var inserts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/insert" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Error(err)
		}
		inserts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	t.Setenv(EnvEngineURL, server.URL)

	source := t.TempDir()
	for i := 0; i < 3; i++ {
		path := filepath.Join(source, fmt.Sprintf("doc%d.md", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("note %d", i)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := execute(t, "register", "notes", "--source", source,
		"--type", "filesystem", "--backend", "json"); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "ingest", "notes"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := inserts.Load(); got != 3 {
		t.Errorf("engine inserts = %d, want 3", got)
	}

	// The drained pending list must not survive the run.
	paths := ingest.NewStatePaths(os.Getenv("HYBRIDRAG_HOME"), "notes")
	if paths.BatchPending().Exists() {
		t.Error("pending file survived a completed ingest")
	}

	reg, _ := registry.Open("")
	rec, _ := reg.Get("notes")
	if rec.LastSyncAt == nil {
		t.Error("last_sync_at not stamped")
	}
}

func TestIngest_FlagConflicts(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	err := execute(t, "ingest", "notes", "--fresh", "--use")
	if exitCode(err) != exitUsage {
		t.Errorf("--fresh --use exit = %d, want %d", exitCode(err), exitUsage)
	}
	// Reset for later executions sharing the globals.
	ingestFresh, ingestUse = false, false
}

func TestIngest_RequiresSourceFolder(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	if err := execute(t, "register", "bare", "--source", "",
		"--type", "filesystem", "--backend", "json"); err != nil {
		t.Fatal(err)
	}
	err := execute(t, "ingest", "bare")
	if exitCode(err) != exitUsage {
		t.Errorf("missing source exit = %d, want %d", exitCode(err), exitUsage)
	}
}

func TestQuery_InvalidMode(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	err := execute(t, "query", "anything", "--mode", "psychic")
	if exitCode(err) != exitUsage {
		t.Errorf("invalid mode exit = %d, want %d", exitCode(err), exitUsage)
	}
	queryMode = "hybrid"
}

func TestWatchStart_ArgValidation(t *testing.T) {
	t.Setenv("HYBRIDRAG_HOME", t.TempDir())

	if err := execute(t, "watch", "start"); exitCode(err) != exitUsage {
		t.Errorf("no args exit = %d, want %d", exitCode(err), exitUsage)
	}
	if err := execute(t, "watch", "start", "notes", "--all"); exitCode(err) != exitUsage {
		t.Errorf("name plus --all exit = %d, want %d", exitCode(err), exitUsage)
	}
	watchAll = false
}
