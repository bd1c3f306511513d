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
	"runtime"
	"time"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/scan"
)

// Batch sizing and pacing defaults.
const (
	BatchSizeNormal = 10
	BatchSizeLow    = 2

	sleepBetweenBatches = 2 * time.Second
	criticalLoadBackoff = 30 * time.Second
)

// Discover walks the source folder with the change detector's filters
// and writes the pending list, one absolute path per line.
// Returns the number of discovered files.
func Discover(detector *scan.Detector, pending *ListFile, logger *logging.Logger) (int, error) {
	records, err := detector.Scan()
	if err != nil {
		return 0, fmt.Errorf("discovery scan: %w", err)
	}
	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.Path)
	}
	if err := pending.Rewrite(paths); err != nil {
		return 0, fmt.Errorf("writing pending list: %w", err)
	}
	logger.Info(fmt.Sprintf("discovered %d files", len(paths)),
		"source", detector.Root(), "pending", pending.Path())
	return len(paths), nil
}

// BatchController drains a pending list in load-adaptive batches.
type BatchController struct {
	pending   *ListFile
	processor *Processor
	load      *monitor.LoadMonitor
	logger    *logging.Logger

	// OnBatchDone runs after each completed batch (last_sync updates,
	// metrics). Optional.
	OnBatchDone func(processed int)

	// sleep is swapped by tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchController wires a controller over the shared processor.
func NewBatchController(pending *ListFile, processor *Processor, load *monitor.LoadMonitor, logger *logging.Logger) *BatchController {
	if logger == nil {
		logger = logging.Default()
	}
	return &BatchController{
		pending:   pending,
		processor: processor,
		load:      load,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// NextBatchSize polls load immediately before a batch and picks the
// size. Blocks (sleeping) while load is critical.
func (b *BatchController) NextBatchSize(ctx context.Context) (int, error) {
	for {
		sample, err := b.load.Check(ctx)
		if err != nil {
			b.logger.Warn("load sampling failed, assuming normal", "error", err)
		}
		switch sample.Level {
		case monitor.LoadCritical:
			b.logger.Warn("critical system load, pausing batch",
				"cpu_pct", sample.CPUPct, "mem_pct", sample.MemPct)
			if err := b.sleep(ctx, criticalLoadBackoff); err != nil {
				return 0, err
			}
		case monitor.LoadHigh:
			return BatchSizeLow, nil
		default:
			return BatchSizeNormal, nil
		}
	}
}

// Run drains the pending list until empty or ctx is cancelled.
//
// After each batch the remaining entries are rewritten so a crash
// resumes exactly where it left off. On completion the pending file is
// deleted.
func (b *BatchController) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := b.pending.Read()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := b.pending.Remove(); err != nil {
				return err
			}
			b.logger.Info("batch complete, pending list removed")
			return nil
		}

		size, err := b.NextBatchSize(ctx)
		if err != nil {
			return err
		}
		if size > len(entries) {
			size = len(entries)
		}

		batchStart := time.Now()
		processed := 0
		for _, path := range entries[:size] {
			if ctx.Err() != nil {
				break
			}
			b.processor.ProcessFile(ctx, path)
			processed++
		}

		// Crash-safe resume point: drop exactly the processed prefix.
		if err := b.pending.Rewrite(entries[processed:]); err != nil {
			return fmt.Errorf("rewriting pending list: %w", err)
		}

		if b.OnBatchDone != nil {
			b.OnBatchDone(processed)
		}
		b.logger.Debug("batch processed",
			"size", processed,
			"remaining", len(entries)-processed,
			"elapsed", time.Since(batchStart))

		runtime.GC()

		if len(entries)-processed == 0 {
			continue // Final pass deletes the pending file
		}
		if err := b.sleep(ctx, sleepBetweenBatches); err != nil {
			return err
		}
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
