// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// Enrichment load backoffs.
const (
	enrichCriticalSleep = 30 * time.Second
	enrichHighSleep     = 5 * time.Second
)

// EnrichStats summarizes one enrichment run.
type EnrichStats struct {
	Queued      int `json:"queued"`     // Pending minus done at start
	Enriched    int `json:"enriched"`   // Full-pipeline inserts completed
	Tombstoned  int `json:"tombstoned"` // Files gone from disk
	AlreadyDone int `json:"already_done"`
	Failed      int `json:"failed"`
}

// EnrichOptions tunes one run of the worker.
type EnrichOptions struct {
	// Limit processes at most N entries (0 = all).
	Limit int

	// DryRun reports what would be processed without engine calls.
	DryRun bool
}

// QueueStatus reports enrichment queue lengths without processing.
type QueueStatus struct {
	Pending int `json:"pending"`
	Done    int `json:"done"`
	Backlog int `json:"backlog"`
}

// Enricher is the standalone retroactive graph-extraction job. It
// shares the database lock with the watcher, so only one of the two
// runs at a time.
type Enricher struct {
	record registry.DatabaseRecord
	paths  StatePaths
	eng    engine.Engine
	locks  *lock.Manager
	load   *monitor.LoadMonitor
	alerts *monitor.AlertStore
	logger *logging.Logger

	// sleep is swapped by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEnricher wires an enrichment worker for one database.
func NewEnricher(record registry.DatabaseRecord, paths StatePaths, eng engine.Engine, locks *lock.Manager, alerts *monitor.AlertStore, logger *logging.Logger) *Enricher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Enricher{
		record: record,
		paths:  paths,
		eng:    eng,
		locks:  locks,
		load:   monitor.NewLoadMonitor(record.Thresholds),
		alerts: alerts,
		logger: logger.With("database", record.Name, "job", "enrichment"),
		sleep:  sleepCtx,
	}
}

// Status reports the queue lengths without touching the engine.
func (e *Enricher) Status() (QueueStatus, error) {
	pending, err := e.paths.EnrichmentPending().Read()
	if err != nil {
		return QueueStatus{}, err
	}
	done, err := e.paths.EnrichmentDone().Read()
	if err != nil {
		return QueueStatus{}, err
	}
	backlog := Difference(pending, done)
	return QueueStatus{Pending: len(pending), Done: len(done), Backlog: len(backlog)}, nil
}

// Run drains the enrichment backlog: for each path not yet done, read
// the file and run the full insert pipeline, then mark done. Missing
// files are tombstoned; already-enriched content is skipped via the
// doc-status store. Ends with a compaction of the pending list.
//
// Run takes the database lock before touching the lists or the engine
// and returns lock.ErrAlreadyLocked when a watcher or batch run holds
// it.
func (e *Enricher) Run(ctx context.Context, opts EnrichOptions) (EnrichStats, error) {
	handle, err := e.locks.Acquire(e.record.Name, os.Getpid())
	if err != nil {
		return EnrichStats{}, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			e.logger.Warn("lock release failed", "error", err)
		}
	}()

	pendingFile := e.paths.EnrichmentPending()
	doneFile := e.paths.EnrichmentDone()

	pending, err := pendingFile.Read()
	if err != nil {
		return EnrichStats{}, err
	}
	done, err := doneFile.Read()
	if err != nil {
		return EnrichStats{}, err
	}

	backlog := Difference(pending, done)
	stats := EnrichStats{Queued: len(backlog)}
	if opts.Limit > 0 && len(backlog) > opts.Limit {
		backlog = backlog[:opts.Limit]
	}
	e.logger.Info("enrichment run starting",
		"backlog", stats.Queued, "processing", len(backlog), "dry_run", opts.DryRun)

	if opts.DryRun {
		return stats, nil
	}

	status := engine.NewStatusStore(e.record.Path)
	for i, path := range backlog {
		if ctx.Err() != nil {
			break
		}

		content, tombstone, err := e.readFile(path)
		if err != nil {
			stats.Failed++
			e.logger.Error("enrichment read failed", "path", path, "error", err)
			continue
		}
		if tombstone {
			stats.Tombstoned++
			if err := doneFile.Append(path); err != nil {
				return stats, err
			}
			continue
		}

		if e.alreadyEnriched(status, content) {
			stats.AlreadyDone++
			if err := doneFile.Append(path); err != nil {
				return stats, err
			}
			continue
		}

		if err := e.waitForLoad(ctx); err != nil {
			break
		}

		if err := e.eng.Insert(ctx, string(content), map[string]string{"file_path": path}); err != nil {
			stats.Failed++
			e.logger.Error("enrichment insert failed", "path", path, "error", err)
			if e.alerts != nil {
				e.alerts.Add(monitor.AlertIngestionFailed, monitor.SeverityError,
					fmt.Sprintf("enrichment insert failed: %v", err), e.record.Name,
					map[string]string{"file": path})
			}
			continue // Retried on a future run
		}

		stats.Enriched++
		if err := doneFile.Append(path); err != nil {
			return stats, err
		}

		if (i+1)%BatchSizeNormal == 0 {
			runtime.GC()
		}
	}

	if err := e.Compact(); err != nil {
		e.logger.Warn("pending compaction failed", "error", err)
	}
	e.logger.Info("enrichment run finished",
		"enriched", stats.Enriched, "tombstoned", stats.Tombstoned,
		"already_done", stats.AlreadyDone, "failed", stats.Failed)
	return stats, nil
}

// Compact rewrites the pending list without entries present in done.
func (e *Enricher) Compact() error {
	pending, err := e.paths.EnrichmentPending().Read()
	if err != nil {
		return err
	}
	done, err := e.paths.EnrichmentDone().Read()
	if err != nil {
		return err
	}
	remaining := Difference(pending, done)
	if len(remaining) == len(pending) {
		return nil
	}
	return e.paths.EnrichmentPending().Rewrite(remaining)
}

// readFile loads content; (nil, true, nil) marks a vanished file.
func (e *Enricher) readFile(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return []byte(lossyUTF8(raw)), false, nil
}

// alreadyEnriched checks the doc-status store for this content hash.
func (e *Enricher) alreadyEnriched(status *engine.StatusStore, content []byte) bool {
	st, err := status.Lookup(engine.DocIDForContent(content))
	return err == nil && st != nil && st.State == engine.DocDone
}

// waitForLoad backs off while the system is under pressure.
func (e *Enricher) waitForLoad(ctx context.Context) error {
	for {
		sample, err := e.load.Check(ctx)
		if err != nil {
			return nil // Degrade to normal on sampler failure
		}
		switch sample.Level {
		case monitor.LoadCritical:
			e.logger.Warn("critical load, backing off", "cpu_pct", sample.CPUPct, "mem_pct", sample.MemPct)
			if err := e.sleep(ctx, enrichCriticalSleep); err != nil {
				return err
			}
		case monitor.LoadHigh:
			if err := e.sleep(ctx, enrichHighSleep); err != nil {
				return err
			}
			return nil
		default:
			return nil
		}
	}
}
