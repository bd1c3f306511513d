// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock provides per-database single-writer exclusion.
//
// A database is eligible for exactly one active ingestion process at a
// time; the watcher daemon, the batch controller, and the enrichment
// worker all contend on the same lock. The lock is an advisory
// exclusive flock on `<state>/pids/<name>.pid`, with the holder's PID
// written into the file while the lock is held.
//
// The descriptor holding the flock stays open for the lifetime of the
// owning process, so a crash releases the lock implicitly when the
// kernel closes the descriptor; the leftover PID file is then detected
// as stale (process gone) and a new acquire succeeds.
package lock

import (
	"errors"
	"os"
)

var (
	// ErrAlreadyLocked is returned when another live process holds the
	// database lock.
	ErrAlreadyLocked = errors.New("database is locked by another process")

	// ErrNotHeld is returned when releasing a handle that is not held.
	ErrNotHeld = errors.New("lock not held")
)

// FileLocker abstracts platform-specific file locking operations.
//
// Unix uses syscall.Flock, Windows uses LockFileEx. Implementations
// must be safe for concurrent use on different files.
type FileLocker interface {
	// Lock acquires an exclusive lock on the file. Non-blocking:
	// returns ErrAlreadyLocked immediately if the lock is taken.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive checks if a process with the given PID is running.
//
// # Description
//
// Used for stale-lock detection. On Unix this sends signal 0, which
// checks existence without affecting the target.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}

// newFileLocker returns the locker for the current platform.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}
