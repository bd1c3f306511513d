// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"time"
)

// SourceType selects the default filters and preprocessing for a
// database's source folder.
type SourceType string

const (
	// SourceFilesystem ingests arbitrary files from a folder.
	SourceFilesystem SourceType = "filesystem"

	// SourceSpecstory ingests conversation exports stored under
	// `.specstory` directory segments.
	SourceSpecstory SourceType = "specstory"

	// SourceAPI ingests documents produced by an API extractor.
	SourceAPI SourceType = "api"

	// SourceSchema ingests schema descriptions produced by the schema
	// extractor.
	SourceSchema SourceType = "schema"
)

// Valid reports whether the source type is one of the known variants.
func (s SourceType) Valid() bool {
	switch s {
	case SourceFilesystem, SourceSpecstory, SourceAPI, SourceSchema:
		return true
	}
	return false
}

// DefaultExtensions returns the default extension filter for the source
// type, or nil when all extensions are admitted.
func (s SourceType) DefaultExtensions() []string {
	switch s {
	case SourceSpecstory:
		return []string{".md"}
	case SourceAPI, SourceSchema:
		return []string{".json", ".md"}
	default:
		return nil
	}
}

// BackendType selects the storage backend surfaced to the RAG engine.
type BackendType string

const (
	// BackendJSON stores engine state as JSON files under the database
	// path. No parameters.
	BackendJSON BackendType = "json"

	// BackendPostgres stores engine state in PostgreSQL with pgvector
	// and a graph extension.
	BackendPostgres BackendType = "postgres"
)

// PostgresConfig carries connection parameters for the postgres backend.
//
// The password is intentionally excluded from serialization; it is
// resolved from the environment at engine start.
type PostgresConfig struct {
	Host           string         `yaml:"host" validate:"required"`
	Port           int            `yaml:"port" validate:"gt=0,lte=65535"`
	User           string         `yaml:"user" validate:"required"`
	Password       string         `yaml:"-"`
	Database       string         `yaml:"database" validate:"required"`
	Workspace      string         `yaml:"workspace"`
	SSLMode        string         `yaml:"ssl_mode"`
	MaxConnections int            `yaml:"max_connections"`
	VectorIndex    string         `yaml:"vector_index"`
	IndexParams    map[string]any `yaml:"index_params,omitempty"`
}

// Backend is the tagged backend record on a DatabaseRecord.
type Backend struct {
	Type     BackendType     `yaml:"type" validate:"oneof=json postgres"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// Thresholds holds per-database alerting thresholds.
type Thresholds struct {
	// FileWarnMB warns when a single JSON store file reaches this size.
	FileWarnMB int `yaml:"file_warn_mb"`

	// TotalWarnMB warns when the sum of JSON store files reaches this
	// size; 1.5x escalates the alert to error severity.
	TotalWarnMB int `yaml:"total_warn_mb"`

	// PerfDegradationPct is the fractional throughput drop (0-1) below
	// baseline that triggers a performance warning.
	PerfDegradationPct float64 `yaml:"perf_degradation_pct"`

	// HighCPUPct / HighMemPct reduce the batch size when exceeded.
	HighCPUPct float64 `yaml:"high_cpu_pct"`
	HighMemPct float64 `yaml:"high_mem_pct"`

	// CriticalCPUPct / CriticalMemPct pause batching when exceeded.
	CriticalCPUPct float64 `yaml:"critical_cpu_pct"`
	CriticalMemPct float64 `yaml:"critical_mem_pct"`
}

// DefaultThresholds returns the documented threshold defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FileWarnMB:         500,
		TotalWarnMB:        2048,
		PerfDegradationPct: 0.5,
		HighCPUPct:         90,
		HighMemPct:         90,
		CriticalCPUPct:     95,
		CriticalMemPct:     95,
	}
}

// applyDefaults fills zero-valued thresholds with the documented defaults.
func (t *Thresholds) applyDefaults() {
	d := DefaultThresholds()
	if t.FileWarnMB <= 0 {
		t.FileWarnMB = d.FileWarnMB
	}
	if t.TotalWarnMB <= 0 {
		t.TotalWarnMB = d.TotalWarnMB
	}
	if t.PerfDegradationPct <= 0 {
		t.PerfDegradationPct = d.PerfDegradationPct
	}
	if t.HighCPUPct <= 0 {
		t.HighCPUPct = d.HighCPUPct
	}
	if t.HighMemPct <= 0 {
		t.HighMemPct = d.HighMemPct
	}
	if t.CriticalCPUPct <= 0 {
		t.CriticalCPUPct = d.CriticalCPUPct
	}
	if t.CriticalMemPct <= 0 {
		t.CriticalMemPct = d.CriticalMemPct
	}
}

// DatabaseRecord is one entry in the registry: a named, self-contained
// RAG knowledge base and its watcher configuration.
type DatabaseRecord struct {
	// Name uniquely identifies the database. Must match
	// ^[a-z0-9]([a-z0-9-]*[a-z0-9])?$.
	Name string `yaml:"name" validate:"required"`

	// Path is the absolute directory holding engine state.
	Path string `yaml:"path" validate:"required"`

	// SourceFolder is the optional absolute directory to watch.
	SourceFolder string `yaml:"source_folder,omitempty"`

	// SourceType determines default filters and preprocessing.
	SourceType SourceType `yaml:"source_type"`

	// AutoWatch marks the database for "watch start --all".
	AutoWatch bool `yaml:"auto_watch"`

	// WatchIntervalSec is the gap between change-detect ticks.
	WatchIntervalSec int `yaml:"watch_interval_sec" validate:"gt=0"`

	// Recursive walks the source folder recursively.
	Recursive bool `yaml:"recursive"`

	// FileExtensions restricts ingestion to the given dotted extensions.
	FileExtensions []string `yaml:"file_extensions,omitempty"`

	// Model is an optional model identifier passed to the engine.
	Model string `yaml:"model,omitempty"`

	// Backend selects the storage backend surfaced to the engine.
	Backend Backend `yaml:"backend"`

	// Thresholds holds alerting and throttling thresholds.
	Thresholds Thresholds `yaml:"thresholds"`

	// TypeConfig carries opaque per-source-type configuration
	// (specstory / api / schema sub-records).
	TypeConfig map[string]any `yaml:"type_config,omitempty"`

	Description string     `yaml:"description,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at"`
	LastSyncAt  *time.Time `yaml:"last_sync_at,omitempty"`
}

// registryFile is the on-disk schema: records keyed by name under a
// top-level databases map with an integer version sibling.
type registryFile struct {
	Version   int                        `yaml:"version"`
	Databases map[string]*DatabaseRecord `yaml:"databases"`
}

const registryVersion = 1
