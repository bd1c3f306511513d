// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build windows

package lock

import (
	"os"
)

// windowsFileLocker implements FileLocker for Windows.
//
// TODO: implement with golang.org/x/sys/windows.LockFileEx
// (LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY). The current
// no-op means concurrent watchers are not excluded on Windows.
type windowsFileLocker struct{}

func (l *windowsFileLocker) Lock(f *os.File) error {
	return nil
}

func (l *windowsFileLocker) Unlock(f *os.File) error {
	return nil
}

// isProcessAlive reports whether the PID maps to a running process.
func isProcessAlive(pid int) bool {
	// os.FindProcess always succeeds on Windows when the process
	// exists; errors mean the handle could not be opened.
	_, err := os.FindProcess(pid)
	return err == nil
}

func newPlatformLocker() FileLocker {
	return &windowsFileLocker{}
}
