// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// Exit codes of the operator surface.
const (
	exitOK      = 0
	exitUsage   = 1 // Usage or configuration error
	exitRuntime = 2 // Runtime failure
	exitLocked  = 3 // Lock contention: database already watched
)

// usageError marks bad arguments or configuration; exits with 1.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// usageErrorf builds a usageError.
func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, lock.ErrAlreadyLocked) {
		return exitLocked
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrAlreadyExists),
		errors.Is(err, registry.ErrInvalidName):
		return exitUsage
	}
	return exitRuntime
}
