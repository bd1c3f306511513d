// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest implements the ingestion control plane: the watcher
// daemon, the batch controller, and the enrichment worker. One logical
// loop per database; single-writer exclusion comes from the lock
// package, the engine does the actual RAG work.
package ingest

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/AleutianAI/hybridrag/services/watcher/engine"
)

// maxFingerprints bounds the in-process dedup set. Oldest entries are
// evicted first. The set is an optimization; engine inserts stay
// idempotent on identical content regardless.
const maxFingerprints = 100_000

// Fingerprint computes the MD5 content hash as lowercase hex.
func Fingerprint(content []byte) string {
	return fmt.Sprintf("%x", md5.Sum(content))
}

// BoundedSet is an insertion-ordered string set with a hard capacity.
//
// When full, Add evicts the oldest member. NOT safe for concurrent
// use; the single ingestion loop owns it.
type BoundedSet struct {
	capacity int
	members  map[string]struct{}
	order    []string
	head     int // Index of the oldest live entry in order
}

// NewBoundedSet creates a set holding at most capacity members.
func NewBoundedSet(capacity int) *BoundedSet {
	if capacity <= 0 {
		capacity = maxFingerprints
	}
	return &BoundedSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

// Add inserts the value. Returns false if it was already present.
func (s *BoundedSet) Add(value string) bool {
	if _, ok := s.members[value]; ok {
		return false
	}
	if len(s.members) >= s.capacity {
		s.evictOldest()
	}
	s.members[value] = struct{}{}
	s.order = append(s.order, value)
	s.maybeCompact()
	return true
}

// Contains reports membership.
func (s *BoundedSet) Contains(value string) bool {
	_, ok := s.members[value]
	return ok
}

// Len returns the number of live members.
func (s *BoundedSet) Len() int { return len(s.members) }

func (s *BoundedSet) evictOldest() {
	for s.head < len(s.order) {
		oldest := s.order[s.head]
		s.head++
		if _, ok := s.members[oldest]; ok {
			delete(s.members, oldest)
			return
		}
	}
}

// maybeCompact trims the consumed prefix of the order slice once it
// dominates the backing array.
func (s *BoundedSet) maybeCompact() {
	if s.head > s.capacity && s.head*2 > len(s.order) {
		s.order = append([]string(nil), s.order[s.head:]...)
		s.head = 0
	}
}

// SeedFromDocStatus loads processed document ids from the engine's
// doc-status store and adds their trailing hashes to the set. Missing
// stores are not an error.
func (s *BoundedSet) SeedFromDocStatus(store *engine.StatusStore) (int, error) {
	ids, err := store.ProcessedIDs()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, id := range ids {
		hash := strings.TrimPrefix(id, engine.DocIDPrefix)
		if hash == "" || hash == id {
			continue
		}
		if s.Add(hash) {
			added++
		}
	}
	return added, nil
}
