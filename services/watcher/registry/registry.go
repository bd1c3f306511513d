// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry maintains the catalog of HybridRAG databases.
//
// The registry is a single human-editable YAML file mapping database
// names to their configuration. Every write is atomic (write temp +
// rename) so a crash can never leave a truncated file.
//
// # Location
//
// The registry file is resolved in order:
//
//  1. $HYBRIDRAG_CONFIG environment variable
//  2. Contents of the `config_pointer` file under the state root
//  3. `registry.yaml` under the state root (default ~/.hybridrag)
//
// # Thread Safety
//
// A Registry instance is safe for concurrent use within one process.
// Cross-process mutations rely on atomic rename and may conflict at
// high concurrency; last writer wins at whole-file granularity.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/hybridrag/pkg/logging"
)

// EnvConfigPath overrides the registry file location when set.
const EnvConfigPath = "HYBRIDRAG_CONFIG"

// DefaultStateDirName is the per-user state root under $HOME.
const DefaultStateDirName = ".hybridrag"

var (
	// ErrAlreadyExists is returned when registering a taken name.
	ErrAlreadyExists = errors.New("database already registered")

	// ErrNotFound is returned for operations on unknown databases.
	ErrNotFound = errors.New("database not registered")

	// ErrInvalidName is returned when a name fails validation.
	ErrInvalidName = errors.New("invalid database name")
)

// namePattern is the allowed shape of database names: lowercase
// alphanumerics and interior hyphens.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidName reports whether s is a legal database name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// StateRoot returns the per-user state root directory (~/.hybridrag),
// honoring $HYBRIDRAG_HOME for tests and relocated installs.
func StateRoot() string {
	if root := os.Getenv("HYBRIDRAG_HOME"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStateDirName
	}
	return filepath.Join(home, DefaultStateDirName)
}

// ResolveConfigPath returns the registry file location, following the
// env var and pointer-file indirections.
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return logging.ExpandPath(p)
	}
	root := StateRoot()
	pointer := filepath.Join(root, "config_pointer")
	if data, err := os.ReadFile(pointer); err == nil {
		if p := strings.TrimSpace(string(data)); p != "" {
			return logging.ExpandPath(p)
		}
	}
	return filepath.Join(root, "registry.yaml")
}

// Registry is the authoritative catalog of databases.
type Registry struct {
	path     string
	validate *validator.Validate
	logger   *logging.Logger

	mu   sync.Mutex
	data registryFile
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registry operations.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Open loads the registry at path, creating an empty one if the file
// does not exist.
//
// # Inputs
//
//   - path: Registry file location; "" resolves via ResolveConfigPath.
//
// # Outputs
//
//   - *Registry: Loaded registry.
//   - error: Non-nil if the file exists but cannot be parsed.
func Open(path string, opts ...Option) (*Registry, error) {
	if path == "" {
		path = ResolveConfigPath()
	}

	r := &Registry{
		path:     path,
		validate: validator.New(),
		logger:   logging.Default(),
		data: registryFile{
			Version:   registryVersion,
			Databases: map[string]*DatabaseRecord{},
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &r.data); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	if r.data.Databases == nil {
		r.data.Databases = map[string]*DatabaseRecord{}
	}
	return r, nil
}

// Path returns the on-disk location of this registry.
func (r *Registry) Path() string { return r.path }

// Register adds a new database record.
//
// # Description
//
// Validates the name against the name pattern, rejects duplicates,
// normalizes Path and SourceFolder to absolute paths, applies threshold
// and source-type defaults, stamps CreatedAt, and persists atomically.
//
// # Outputs
//
//   - error: ErrInvalidName, ErrAlreadyExists, a validation error, or a
//     persistence error.
func (r *Registry) Register(record DatabaseRecord) error {
	if !ValidName(record.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, record.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.Databases[record.Name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, record.Name)
	}

	if err := r.normalize(&record); err != nil {
		return err
	}
	record.CreatedAt = time.Now().UTC()

	r.data.Databases[record.Name] = &record
	if err := r.persistLocked(); err != nil {
		delete(r.data.Databases, record.Name)
		return err
	}

	r.logger.Info("registered database",
		"name", record.Name,
		"path", record.Path,
		"source_type", record.SourceType)
	return nil
}

// Unregister removes a database entry. The database path contents are
// never touched.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.data.Databases[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.data.Databases, name)
	if err := r.persistLocked(); err != nil {
		r.data.Databases[name] = record
		return err
	}
	return nil
}

// Update applies fn to a copy of the named record and persists the
// result. Rename is supported: if fn changes Name, the record moves to
// the new key (failing if the target name is taken or invalid).
func (r *Registry) Update(name string, fn func(*DatabaseRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.data.Databases[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	updated := *current
	fn(&updated)

	if updated.Name != name {
		if !ValidName(updated.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidName, updated.Name)
		}
		if _, taken := r.data.Databases[updated.Name]; taken {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, updated.Name)
		}
	}
	if err := r.normalize(&updated); err != nil {
		return err
	}

	delete(r.data.Databases, name)
	r.data.Databases[updated.Name] = &updated
	if err := r.persistLocked(); err != nil {
		delete(r.data.Databases, updated.Name)
		r.data.Databases[name] = current
		return err
	}
	return nil
}

// UpdateLastSync stamps last_sync_at = now for the named database.
func (r *Registry) UpdateLastSync(name string) error {
	return r.Update(name, func(rec *DatabaseRecord) {
		now := time.Now().UTC()
		rec.LastSyncAt = &now
	})
}

// Get returns a copy of the named record, or false if absent.
func (r *Registry) Get(name string) (DatabaseRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.data.Databases[name]
	if !ok {
		return DatabaseRecord{}, false
	}
	return *record, true
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns copies of all records sorted by name.
func (r *Registry) List() []DatabaseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DatabaseRecord, 0, len(r.data.Databases))
	for _, record := range r.data.Databases {
		out = append(out, *record)
	}
	// Map iteration order is random; sort for stable output.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Resolve maps a name-or-path to an absolute path and, when the input
// was a registered name, its record.
//
// Inputs without a path separator are treated as names; anything else is
// returned as a raw absolute path with no record.
func (r *Registry) Resolve(nameOrPath string) (string, *DatabaseRecord, error) {
	if !strings.ContainsRune(nameOrPath, os.PathSeparator) && !strings.Contains(nameOrPath, "/") {
		record, ok := r.Get(nameOrPath)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrNotFound, nameOrPath)
		}
		return record.Path, &record, nil
	}
	abs, err := filepath.Abs(logging.ExpandPath(nameOrPath))
	if err != nil {
		return "", nil, fmt.Errorf("resolving path %s: %w", nameOrPath, err)
	}
	return abs, nil, nil
}

// normalize makes paths absolute and fills defaults. Caller holds mu or
// owns the record exclusively.
func (r *Registry) normalize(record *DatabaseRecord) error {
	abs, err := filepath.Abs(logging.ExpandPath(record.Path))
	if err != nil {
		return fmt.Errorf("normalizing path %s: %w", record.Path, err)
	}
	record.Path = abs

	if record.SourceFolder != "" {
		abs, err := filepath.Abs(logging.ExpandPath(record.SourceFolder))
		if err != nil {
			return fmt.Errorf("normalizing source folder %s: %w", record.SourceFolder, err)
		}
		record.SourceFolder = abs
	}

	if record.SourceType == "" {
		record.SourceType = SourceFilesystem
	}
	if !record.SourceType.Valid() {
		return fmt.Errorf("unknown source type %q", record.SourceType)
	}
	if record.WatchIntervalSec <= 0 {
		record.WatchIntervalSec = 60
	}
	if record.Backend.Type == "" {
		record.Backend.Type = BackendJSON
	}
	if len(record.FileExtensions) == 0 {
		record.FileExtensions = record.SourceType.DefaultExtensions()
	}
	record.Thresholds.applyDefaults()

	return r.validate.Struct(record)
}

// persistLocked writes the registry atomically. Caller holds mu.
func (r *Registry) persistLocked() error {
	data, err := yaml.Marshal(&r.data)
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating registry directory %s: %w", dir, err)
	}

	// Write-temp-then-rename so a crash leaves either the old file or
	// the new file, never a truncated one.
	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing registry file: %w", err)
	}
	return nil
}
