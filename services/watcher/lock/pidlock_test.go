// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager(t.TempDir())

	handle, err := m.Acquire("notes", os.Getpid())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	running, pid := m.IsRunning("notes")
	if !running {
		t.Error("IsRunning = false while lock held")
	}
	if pid != os.Getpid() {
		t.Errorf("IsRunning pid = %d, want %d", pid, os.Getpid())
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if running, _ := m.IsRunning("notes"); running {
		t.Error("IsRunning = true after release")
	}
	if _, err := os.Stat(filepath.Join(m.pidDir, "notes.pid")); !os.IsNotExist(err) {
		t.Error("pid file should be deleted on release")
	}
}

func TestManager_SecondAcquireFails(t *testing.T) {
	// flock exclusion is per-descriptor, so two managers in one process
	// model two contending processes well enough on Unix.
	dir := t.TempDir()
	m1 := NewManager(dir)
	m2 := NewManager(dir)

	handle, err := m1.Acquire("notes", os.Getpid())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer handle.Release()

	_, err = m2.Acquire("notes", os.Getpid()+1)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("second Acquire error = %v, want ErrAlreadyLocked", err)
	}

	// Different database: no contention.
	other, err := m2.Acquire("journal", os.Getpid())
	if err != nil {
		t.Errorf("Acquire of distinct database: %v", err)
	} else {
		other.Release()
	}
}

func TestManager_StaleLockRecovery(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// Simulate a crashed holder: PID file exists, process is gone, no
	// flock is held (the kernel released it with the dead process).
	stalePID := 1
	for IsProcessAlive(stalePID) && stalePID < 1<<20 {
		stalePID = stalePID<<1 + 1
	}
	pidPath := filepath.Join(dir, "notes.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d stale-session\n", stalePID)), 0644); err != nil {
		t.Fatal(err)
	}

	if running, _ := m.IsRunning("notes"); running {
		t.Fatal("stale pid file must read as not running")
	}

	handle, err := m.Acquire("notes", os.Getpid())
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer handle.Release()

	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid file = %d, want overwritten with %d", pid, os.Getpid())
	}
}

func TestReadPIDFile(t *testing.T) {
	t.Run("garbage content fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "x.pid")
		if err := os.WriteFile(path, []byte("not-a-pid\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadPIDFile(path); err == nil {
			t.Error("expected error for non-numeric pid file")
		}
	})

	t.Run("missing file fails", func(t *testing.T) {
		if _, err := ReadPIDFile(filepath.Join(t.TempDir(), "none.pid")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestHandle_DoubleRelease(t *testing.T) {
	m := NewManager(t.TempDir())
	handle, err := m.Acquire("notes", os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := handle.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := handle.Release(); !errors.Is(err, ErrNotHeld) {
		t.Errorf("second Release error = %v, want ErrNotHeld", err)
	}
}
