// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// newDaemonFixture assembles a daemon over temp dirs and a fake engine.
func newDaemonFixture(t *testing.T, sourceFiles int) (*Daemon, *fakeEngine, registry.DatabaseRecord) {
	t.Helper()
	stateRoot := t.TempDir()
	t.Setenv("HYBRIDRAG_HOME", stateRoot)

	source := t.TempDir()
	for i := 0; i < sourceFiles; i++ {
		writeFile(t, source, fmt.Sprintf("doc%02d.md", i), fmt.Sprintf("document %d", i))
	}

	record := registry.DatabaseRecord{
		Name:             "notes",
		Path:             t.TempDir(),
		SourceFolder:     source,
		SourceType:       registry.SourceFilesystem,
		WatchIntervalSec: 1,
		Recursive:        true,
		Backend:          registry.Backend{Type: registry.BackendJSON},
		Thresholds:       registry.DefaultThresholds(),
	}

	reg, err := registry.Open(filepath.Join(stateRoot, "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(record); err != nil {
		t.Fatal(err)
	}

	eng := &fakeEngine{}
	paths := NewStatePaths(stateRoot, record.Name)
	d := NewDaemon(DaemonConfig{
		Record:   record,
		Registry: reg,
		Locks:    lock.NewManager(paths.PidDir()),
		Paths:    paths,
		NewEngine: func(registry.DatabaseRecord) (engine.Engine, error) {
			return eng, nil
		},
	})
	// Pin the load monitor so a busy test host cannot throttle the run.
	d.load = normalLoad(record.Thresholds)
	return d, eng, record
}

func TestDaemon_FreshDiscoveryBatchThenWatch(t *testing.T) {
	d, eng, _ := newDaemonFixture(t, 23)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the batch to drain and the daemon to enter watch mode.
	deadline := time.After(15 * time.Second)
	for d.State() != StateWatching {
		select {
		case <-deadline:
			t.Fatalf("daemon never reached WATCHING; state=%s", d.State())
		case err := <-done:
			t.Fatalf("daemon exited early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	stats := d.Stats()
	if stats.Ingested != 23 || stats.Duplicates != 0 {
		t.Errorf("stats = %+v, want 23 ingested", stats)
	}
	if eng.insertCount() != 23 {
		t.Errorf("engine inserts = %d, want 23", eng.insertCount())
	}
	if d.cfg.Paths.BatchPending().Exists() {
		t.Error("pending file survived batch completion")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if d.State() != StateDown {
		t.Errorf("terminal state = %s, want DOWN", d.State())
	}
}

func TestDaemon_ResumesExistingPendingList(t *testing.T) {
	d, eng, record := newDaemonFixture(t, 0)

	// Pre-seed a pending list as if a previous run crashed mid-batch.
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("left%d.md", i), fmt.Sprintf("leftover %d", i)))
	}
	if err := d.cfg.Paths.BatchPending().Rewrite(paths); err != nil {
		t.Fatal(err)
	}
	// Simulate prior progress: the engine already holds one document,
	// so without the pending list the daemon would skip discovery.
	payload := `{"doc-aaa": {"status": "done"}}`
	if err := os.WriteFile(filepath.Join(record.Path, engine.DocStatusFile), []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(15 * time.Second)
	for d.State() != StateWatching {
		select {
		case <-deadline:
			t.Fatalf("daemon never reached WATCHING; state=%s", d.State())
		case err := <-done:
			t.Fatalf("daemon exited early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if eng.insertCount() != 4 {
		t.Errorf("inserts = %d, want the 4 leftover files", eng.insertCount())
	}
	cancel()
	<-done
}

func TestDaemon_LockContention(t *testing.T) {
	a, _, _ := newDaemonFixture(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(15 * time.Second)
	for a.State() == StateDown || a.State() == StateStarting {
		select {
		case <-deadline:
			t.Fatal("daemon A never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Second daemon for the same database must fail fast with the
	// contention error and leave no side effects.
	b := NewDaemon(DaemonConfig{
		Record:    a.cfg.Record,
		Registry:  a.cfg.Registry,
		Locks:     lock.NewManager(a.cfg.Paths.PidDir()),
		Paths:     a.cfg.Paths,
		NewEngine: a.cfg.NewEngine,
	})
	err := b.Run(context.Background())
	if !errors.Is(err, lock.ErrAlreadyLocked) {
		t.Fatalf("err = %v, want ErrAlreadyLocked", err)
	}
	if b.State() != StateDown {
		t.Errorf("loser state = %s, want DOWN", b.State())
	}

	cancel()
	<-done
}

func TestDaemon_IdempotentRerun(t *testing.T) {
	d, eng, record := newDaemonFixture(t, 3)

	runOnce := func(daemon *Daemon) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- daemon.Run(ctx) }()
		deadline := time.After(15 * time.Second)
		for daemon.State() != StateWatching {
			select {
			case <-deadline:
				t.Fatalf("daemon never reached WATCHING; state=%s", daemon.State())
			case err := <-done:
				t.Fatalf("daemon exited early: %v", err)
			case <-time.After(20 * time.Millisecond):
			}
		}
		cancel()
		<-done
	}

	runOnce(d)
	if eng.insertCount() != 3 {
		t.Fatalf("first run inserts = %d, want 3", eng.insertCount())
	}

	// The engine's doc-status now knows all three documents, so a fresh
	// daemon over the same unchanged folder skips batch mode entirely
	// and the baseline scan yields no work.
	payload := "{"
	for i := 0; i < 3; i++ {
		if i > 0 {
			payload += ","
		}
		fp := Fingerprint([]byte(fmt.Sprintf("document %d", i)))
		payload += fmt.Sprintf(`"doc-%s": {"status": "done"}`, fp)
	}
	payload += "}"
	if err := os.WriteFile(filepath.Join(record.Path, engine.DocStatusFile), []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	second := NewDaemon(d.cfg)
	second.load = normalLoad(record.Thresholds)
	runOnce(second)

	stats := second.Stats()
	if stats.Ingested != 0 {
		t.Errorf("second run stats = %+v, want 0 ingested", stats)
	}
	if eng.insertCount() != 3 {
		t.Errorf("total inserts = %d, want still 3", eng.insertCount())
	}
}
