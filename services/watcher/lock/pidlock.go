// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Manager hands out per-database PID locks under a pids directory.
//
// # How It Works
//
//  1. Opens `{PidDir}/{name}.pid` with O_CREATE
//  2. Attempts a non-blocking exclusive flock on it
//  3. While holding the flock, truncates and writes the caller's PID
//  4. On release, removes the PID file and releases the flock
//
// Because the PID is written only while the flock is held, there is no
// race between "check if running" and "write my PID": a reader either
// sees the previous holder's PID or blocks out on the flock itself.
//
// # Thread Safety
//
// Manager itself is stateless and safe for concurrent use; an
// individual Handle belongs to one goroutine (typically main).
type Manager struct {
	pidDir    string
	sessionID string
	locker    FileLocker
}

// Handle represents a held database lock.
//
// The embedded *os.File keeps the flock descriptor open for the
// lifetime of the owning process. Release closes it.
type Handle struct {
	db      string
	path    string
	file    *os.File
	manager *Manager
}

// Database returns the database name this handle locks.
func (h *Handle) Database() string { return h.db }

// NewManager creates a lock manager rooted at pidDir.
//
// Each manager instance gets a random session ID, recorded next to the
// PID for debugging multi-daemon hosts.
func NewManager(pidDir string) *Manager {
	return &Manager{
		pidDir:    pidDir,
		sessionID: uuid.NewString(),
		locker:    newFileLocker(),
	}
}

// SessionID returns this manager's session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

func (m *Manager) pidPath(db string) string {
	return filepath.Join(m.pidDir, db+".pid")
}

// Acquire attempts to take the exclusive lock for a database.
//
// # Outputs
//
//   - *Handle: Held lock; caller must Release on shutdown.
//   - error: ErrAlreadyLocked if another live process holds it, other
//     errors on filesystem failure.
func (m *Manager) Acquire(db string, pid int) (*Handle, error) {
	if err := os.MkdirAll(m.pidDir, 0750); err != nil {
		return nil, fmt.Errorf("creating pid directory %s: %w", m.pidDir, err)
	}

	path := m.pidPath(db)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pid file %s: %w", path, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if err == ErrAlreadyLocked {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, db)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// We hold the flock; any PID in the file now belongs to a dead
	// process (a live holder would still hold the flock). Overwrite.
	if err := f.Truncate(0); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncating pid file %s: %w", path, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("rewinding pid file %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%d %s\n", pid, m.sessionID); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("writing pid file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("syncing pid file %s: %w", path, err)
	}

	return &Handle{db: db, path: path, file: f, manager: m}, nil
}

// IsRunning reports whether a live process holds the database lock.
//
// # Outputs
//
//   - bool: True when the PID file names a live process.
//   - int: The holder's PID (0 when not running).
//
// A PID file whose process is gone is treated as stale: IsRunning
// returns false and a subsequent Acquire succeeds.
func (m *Manager) IsRunning(db string) (bool, int) {
	pid, err := ReadPIDFile(m.pidPath(db))
	if err != nil {
		return false, 0
	}
	if !IsProcessAlive(pid) {
		return false, 0
	}
	return true, pid
}

// Release unlocks and deletes the PID file.
func (h *Handle) Release() error {
	if h.file == nil {
		return ErrNotHeld
	}

	// Remove while still holding the flock, so a concurrent Acquire
	// cannot read our PID from a file we are about to delete.
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		// Not fatal; the stale file is recognized via dead-PID check.
		fmt.Fprintf(os.Stderr, "warning: could not remove pid file %s: %v\n", h.path, err)
	}

	err := h.manager.locker.Unlock(h.file)
	closeErr := h.file.Close()
	h.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// ReadPIDFile parses the first whitespace-delimited integer from a PID
// file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("pid file %s is empty", path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}
