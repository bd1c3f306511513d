// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocStatusFile is the engine's JSON document status store name.
const DocStatusFile = "kv_store_doc_status.json"

// DocIDPrefix prefixes every document id in the status store.
const DocIDPrefix = "doc-"

// DocID derives the engine document id for a content fingerprint.
func DocID(md5Hex string) string {
	return DocIDPrefix + md5Hex
}

// DocIDForContent hashes the content and derives its document id.
func DocIDForContent(content []byte) string {
	return DocID(fmt.Sprintf("%x", md5.Sum(content)))
}

// StatusStore reads the engine's on-disk document status file for the
// json backend. It is a read-only view: the engine process owns writes.
//
// Thread Safety: Safe for concurrent use; every call re-reads the file.
type StatusStore struct {
	path string
}

// NewStatusStore opens a view over <dbPath>/kv_store_doc_status.json.
func NewStatusStore(dbPath string) *StatusStore {
	return &StatusStore{path: filepath.Join(dbPath, DocStatusFile)}
}

// load parses the status file. A missing file is an empty store.
func (s *StatusStore) load() (map[string]DocStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]DocStatus{}, nil
		}
		return nil, fmt.Errorf("reading doc status %s: %w", s.path, err)
	}
	var raw map[string]DocStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing doc status %s: %w", s.path, err)
	}
	for id, st := range raw {
		st.ID = id
		raw[id] = st
	}
	return raw, nil
}

// Lookup returns the entry for a document id, or (nil, nil) if unknown.
func (s *StatusStore) Lookup(docID string) (*DocStatus, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	if st, ok := all[docID]; ok {
		return &st, nil
	}
	return nil, nil
}

// ProcessedIDs returns every document id in the processed state.
// Used to seed the duplicate-detection set at watcher startup.
func (s *StatusStore) ProcessedIDs() ([]string, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id, st := range all {
		if !strings.HasPrefix(id, DocIDPrefix) {
			continue
		}
		if st.State == DocDone {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count returns the number of processed documents.
func (s *StatusStore) Count() (int, error) {
	ids, err := s.ProcessedIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
