// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// FingerprintCache is the optional persistent dedup cache backed by
// BadgerDB. It survives daemon restarts so long-running source folders
// do not re-seed the in-memory set from scratch by re-reading the
// engine's doc-status file.
//
// Keys are raw fingerprints; values are the unix time of first sight.
//
// Thread Safety: Safe for concurrent use.
type FingerprintCache struct {
	db  *badger.DB
	ttl time.Duration
}

// fpCacheTTL expires cached fingerprints; matching content re-inserted
// after this window is deduped by the engine's idempotence instead.
const fpCacheTTL = 90 * 24 * time.Hour

// OpenFingerprintCache opens (or creates) the cache at dir.
func OpenFingerprintCache(dir string, logger *slog.Logger) (*FingerprintCache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerSlogAdapter{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint cache: %w", err)
	}
	return &FingerprintCache{db: db, ttl: fpCacheTTL}, nil
}

// OpenInMemoryFingerprintCache opens a throwaway cache for tests.
func OpenInMemoryFingerprintCache() (*FingerprintCache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &FingerprintCache{db: db, ttl: fpCacheTTL}, nil
}

// Contains reports whether the fingerprint was seen before.
func (c *FingerprintCache) Contains(fingerprint string) (bool, error) {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(fingerprint))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Add records the fingerprint with the cache TTL.
func (c *FingerprintCache) Add(fingerprint string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(fingerprint),
			[]byte(fmt.Sprintf("%d", time.Now().Unix()))).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Warm pushes every cached fingerprint into the bounded set.
func (c *FingerprintCache) Warm(set *BoundedSet) (int, error) {
	added := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if set.Add(string(it.Item().Key())) {
				added++
			}
		}
		return nil
	})
	return added, err
}

// RunGC performs one value-log garbage collection pass.
func (c *FingerprintCache) RunGC() {
	_ = c.db.RunValueLogGC(0.5)
}

// Close releases the cache.
func (c *FingerprintCache) Close() error {
	return c.db.Close()
}

// badgerSlogAdapter adapts slog.Logger to BadgerDB's Logger interface.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l *badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
