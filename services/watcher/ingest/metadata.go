// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataFile is the per-database sidecar under the database path.
const MetadataFile = "database_metadata.json"

// maxHistoryEntries bounds the recorded ingestion history.
const maxHistoryEntries = 50

// IngestionRun is one completed batch or sync recorded in history.
type IngestionRun struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Mode       string    `json:"mode"` // batch | watch | enrichment | sync
	Ingested   int       `json:"ingested"`
	Duplicates int       `json:"duplicates"`
	Errors     int       `json:"errors"`
}

// Metadata is the database_metadata.json schema.
type Metadata struct {
	Description   string         `json:"description,omitempty"`
	SourceFolders []string       `json:"source_folders,omitempty"`
	History       []IngestionRun `json:"ingestion_history,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// LoadMetadata reads the sidecar; a missing file yields a zero value.
func LoadMetadata(dbPath string) (*Metadata, error) {
	path := filepath.Join(dbPath, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Metadata{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &m, nil
}

// RecordRun appends a history entry and persists atomically.
func RecordRun(dbPath string, run IngestionRun, sourceFolder string) error {
	m, err := LoadMetadata(dbPath)
	if err != nil {
		return err
	}
	m.History = append(m.History, run)
	if len(m.History) > maxHistoryEntries {
		m.History = m.History[len(m.History)-maxHistoryEntries:]
	}
	if sourceFolder != "" && !contains(m.SourceFolders, sourceFolder) {
		m.SourceFolders = append(m.SourceFolders, sourceFolder)
	}
	m.UpdatedAt = time.Now().UTC()
	return saveMetadata(dbPath, m)
}

func saveMetadata(dbPath string, m *Metadata) error {
	if err := os.MkdirAll(dbPath, 0750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dbPath, ".metadata-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dbPath, MetadataFile))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
