// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"path/filepath"

	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// StatePaths resolves the per-database file layout under the state root.
type StatePaths struct {
	root string
	db   string
}

// NewStatePaths builds the layout for one database. An empty root uses
// the default state root.
func NewStatePaths(root, db string) StatePaths {
	if root == "" {
		root = registry.StateRoot()
	}
	return StatePaths{root: root, db: db}
}

// Root returns the state root directory.
func (p StatePaths) Root() string { return p.root }

// BatchPending is the resumable batch queue.
func (p StatePaths) BatchPending() *ListFile {
	return NewListFile(filepath.Join(p.root, "batch", p.db+".pending.txt"))
}

// EnrichmentPending is the enrichment worker's input list.
func (p StatePaths) EnrichmentPending() *ListFile {
	return NewListFile(filepath.Join(p.root, "enrichment_pending", p.db+".txt"))
}

// EnrichmentDone is the enrichment worker's cursor list.
func (p StatePaths) EnrichmentDone() *ListFile {
	return NewListFile(filepath.Join(p.root, "enrichment_done", p.db+".txt"))
}

// AlertsFile is the shared alert store path.
func (p StatePaths) AlertsFile() string {
	return filepath.Join(p.root, "alerts.json")
}

// PidDir is the lock directory shared by all databases.
func (p StatePaths) PidDir() string {
	return filepath.Join(p.root, "pids")
}

// ControlDir holds the optional pause/resume signal files.
func (p StatePaths) ControlDir() string {
	return filepath.Join(p.root, "watcher_control")
}

// PauseFile signals the daemon to idle without releasing the lock.
func (p StatePaths) PauseFile() string {
	return filepath.Join(p.ControlDir(), p.db+".pause")
}

// PauseAckFile is written by the daemon while paused.
func (p StatePaths) PauseAckFile() string {
	return filepath.Join(p.ControlDir(), p.db+".pause_ack")
}

// FingerprintCacheDir is the optional persistent dedup cache.
func (p StatePaths) FingerprintCacheDir() string {
	return filepath.Join(p.root, "fpcache", p.db)
}

// LogDir holds the rotating daemon logs.
func (p StatePaths) LogDir() string {
	return filepath.Join(p.root, "logs")
}
