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
	"sync"
	"time"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
	"github.com/AleutianAI/hybridrag/services/watcher/scan"
)

// DaemonState is the per-database ingestion state machine.
type DaemonState string

const (
	StateDown          DaemonState = "DOWN"
	StateStarting      DaemonState = "STARTING"
	StateResumingBatch DaemonState = "RESUMING_BATCH"
	StateDiscovering   DaemonState = "DISCOVERING"
	StateBatching      DaemonState = "BATCHING"
	StateWatching      DaemonState = "WATCHING"
	StateShuttingDown  DaemonState = "SHUTTING_DOWN"
)

// storageSweepEvery is how many watch ticks pass between JSON
// storage-size sweeps.
const storageSweepEvery = 10

// pausePollInterval is the idle period while a pause file is present.
const pausePollInterval = 2 * time.Second

// EngineFactory lazily builds the engine for one database. The daemon
// calls it on first use and again after a batch-level failure released
// the previous instance.
type EngineFactory func(record registry.DatabaseRecord) (engine.Engine, error)

// DaemonConfig wires one watcher daemon.
type DaemonConfig struct {
	Record    registry.DatabaseRecord
	Registry  *registry.Registry
	Locks     *lock.Manager
	Paths     StatePaths
	Alerts    *monitor.AlertStore
	NewEngine EngineFactory
	Logger    *logging.Logger

	// UseFast routes batch-mode inserts through insert_fast when the
	// engine offers it. Watch mode always uses the full pipeline.
	UseFast bool

	// PersistentDedup opens the BadgerDB fingerprint cache.
	PersistentDedup bool

	// Observer receives per-file outcomes (metrics). Optional.
	Observer func(outcome FileOutcome)
}

// Daemon is the per-database watcher: lock holder, batch controller,
// and change-driven ingester in one process.
//
// # Thread Safety
//
// Run owns the ingestion loop; State and Stats may be called from
// other goroutines (status API).
type Daemon struct {
	cfg    DaemonConfig
	logger *logging.Logger

	mu    sync.Mutex
	state DaemonState
	stats *SessionStats

	eng     engine.Engine
	dedup   *BoundedSet
	fpcache *FingerprintCache
	perf    *monitor.PerfTracker
	load    *monitor.LoadMonitor
	storage *monitor.StorageMonitor
}

// NewDaemon builds a daemon for the given database record.
func NewDaemon(cfg DaemonConfig) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("database", cfg.Record.Name)

	thresholds := cfg.Record.Thresholds
	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		state:   StateDown,
		stats:   &SessionStats{StartedAt: time.Now().UTC()},
		dedup:   NewBoundedSet(maxFingerprints),
		perf:    monitor.NewPerfTracker(thresholds.PerfDegradationPct),
		load:    monitor.NewLoadMonitor(thresholds),
		storage: monitor.NewStorageMonitor(cfg.Record.Path, thresholds),
	}
}

// State returns the current state-machine state.
func (d *Daemon) State() DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of the session counters.
func (d *Daemon) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

func (d *Daemon) transition(next DaemonState) {
	d.mu.Lock()
	prev := d.state
	d.state = next
	d.mu.Unlock()
	if prev != next {
		d.logger.Info("state transition", "from", string(prev), "to", string(next))
	}
}

// Run executes the daemon until ctx is cancelled or a fatal error.
//
// Lock contention returns lock.ErrAlreadyLocked without side effects;
// callers map it to the contention exit code.
func (d *Daemon) Run(ctx context.Context) error {
	d.transition(StateStarting)

	handle, err := d.cfg.Locks.Acquire(d.cfg.Record.Name, os.Getpid())
	if err != nil {
		d.transition(StateDown)
		return err
	}
	defer func() {
		d.transition(StateShuttingDown)
		d.releaseEngine()
		if d.fpcache != nil {
			d.fpcache.Close()
		}
		if err := handle.Release(); err != nil {
			d.logger.Warn("lock release failed", "error", err)
		}
		d.transition(StateDown)
	}()

	if err := d.seedDedup(); err != nil {
		// Seeding is an optimization; a failure is not fatal.
		d.logger.Warn("dedup seeding failed", "error", err)
	}

	runErr := d.run(ctx)
	if runErr != nil && ctx.Err() == nil {
		d.logger.Error("daemon loop failed", "error", runErr)
		if d.cfg.Alerts != nil {
			d.cfg.Alerts.Add(monitor.AlertWatcherError, monitor.SeverityCritical,
				fmt.Sprintf("watcher terminated: %v", runErr), d.cfg.Record.Name, nil)
		}
		return runErr
	}
	return nil
}

// BatchOnceOptions configures a one-shot batch ingestion run.
type BatchOnceOptions struct {
	// Fresh skips dedup seeding so known documents are re-ingested.
	Fresh bool

	// Resume reuses an existing pending list instead of re-scanning.
	Resume bool
}

// RunBatchOnce acquires the lock, drains one batch ingestion, and
// exits without entering watch mode. Used by the ingest and sync
// commands.
func (d *Daemon) RunBatchOnce(ctx context.Context, opts BatchOnceOptions) (StatsSnapshot, error) {
	d.transition(StateStarting)

	handle, err := d.cfg.Locks.Acquire(d.cfg.Record.Name, os.Getpid())
	if err != nil {
		d.transition(StateDown)
		return d.Stats(), err
	}
	defer func() {
		d.transition(StateShuttingDown)
		d.releaseEngine()
		if d.fpcache != nil {
			d.fpcache.Close()
		}
		if err := handle.Release(); err != nil {
			d.logger.Warn("lock release failed", "error", err)
		}
		d.transition(StateDown)
	}()

	if !opts.Fresh {
		if err := d.seedDedup(); err != nil {
			d.logger.Warn("dedup seeding failed", "error", err)
		}
	}

	pending := d.cfg.Paths.BatchPending()
	if !opts.Resume || !pending.Exists() {
		d.transition(StateDiscovering)
		if _, err := Discover(d.newDetector(), pending, d.logger); err != nil {
			return d.Stats(), err
		}
	}
	d.transition(StateBatching)
	if err := d.runBatch(ctx, pending); err != nil {
		return d.Stats(), err
	}
	return d.Stats(), nil
}

// run drives the startup decision tree, then watch mode.
func (d *Daemon) run(ctx context.Context) error {
	pending := d.cfg.Paths.BatchPending()

	switch {
	case pending.Exists():
		d.transition(StateResumingBatch)
		if err := d.runBatch(ctx, pending); err != nil {
			return err
		}
	default:
		count, err := d.documentCount(ctx)
		if err != nil {
			return fmt.Errorf("engine document count: %w", err)
		}
		if count == 0 {
			d.transition(StateDiscovering)
			detector := d.newDetector()
			if _, err := Discover(detector, pending, d.logger); err != nil {
				return err
			}
			d.transition(StateBatching)
			if err := d.runBatch(ctx, pending); err != nil {
				return err
			}
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	d.transition(StateWatching)
	return d.runWatch(ctx)
}

// runBatch drains the pending list through the batch controller.
func (d *Daemon) runBatch(ctx context.Context, pending *ListFile) error {
	proc, err := d.newProcessor()
	if err != nil {
		return err
	}
	start := time.Now()
	before := d.stats.Snapshot()

	bc := NewBatchController(pending, proc, d.load, d.logger)
	bc.OnBatchDone = func(processed int) {
		if err := d.cfg.Registry.UpdateLastSync(d.cfg.Record.Name); err != nil {
			d.logger.Warn("last_sync update failed", "error", err)
		}
		d.recordThroughput(processed, time.Since(start))
	}

	if err := bc.Run(ctx); err != nil && ctx.Err() == nil {
		// Batch-level failure: release the engine to free memory; the
		// next mode lazily re-initializes it.
		d.releaseEngine()
		if d.cfg.Alerts != nil {
			d.cfg.Alerts.Add(monitor.AlertWatcherError, monitor.SeverityError,
				fmt.Sprintf("batch run failed: %v", err), d.cfg.Record.Name, nil)
		}
		return err
	}

	after := d.stats.Snapshot()
	if err := RecordRun(d.cfg.Record.Path, IngestionRun{
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
		Mode:       "batch",
		Ingested:   after.Ingested - before.Ingested,
		Duplicates: after.Duplicates - before.Duplicates,
		Errors:     after.Errors - before.Errors,
	}, d.cfg.Record.SourceFolder); err != nil {
		d.logger.Warn("ingestion history write failed", "error", err)
	}
	return ctx.Err()
}

// runWatch is steady-state: baseline scan, then change-driven ticks.
func (d *Daemon) runWatch(ctx context.Context) error {
	if d.cfg.Record.SourceFolder == "" {
		d.logger.Info("no source folder configured, idling until shutdown")
		<-ctx.Done()
		return nil
	}

	detector := d.newDetector()
	if err := detector.Baseline(); err != nil {
		return fmt.Errorf("baseline scan: %w", err)
	}

	wakeup := scan.NewWakeup(d.cfg.Record.SourceFolder, d.cfg.Record.Recursive)
	defer wakeup.Close()

	interval := time.Duration(d.cfg.Record.WatchIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	tick := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.pausedIdle(ctx) {
			continue
		}

		changes, err := detector.DetectChanges()
		if err != nil {
			d.logger.Error("change detection failed", "error", err)
			if d.cfg.Alerts != nil {
				d.cfg.Alerts.Add(monitor.AlertWatcherError, monitor.SeverityError,
					fmt.Sprintf("change detection failed: %v", err), d.cfg.Record.Name, nil)
			}
		} else if err := d.processChanges(ctx, changes); err != nil {
			return err
		}

		tick++
		if tick%storageSweepEvery == 0 {
			d.sweepStorage()
		}

		wakeup.Wait(ctx, interval)
	}
}

// processChanges ingests new and modified files in normal-size batches.
func (d *Daemon) processChanges(ctx context.Context, changes scan.Changes) error {
	toProcess := append(append([]string(nil), changes.New...), changes.Modified...)
	if len(toProcess) == 0 {
		return nil
	}
	d.logger.Info("changes detected",
		"new", len(changes.New), "modified", len(changes.Modified), "deleted", len(changes.Deleted))

	proc, err := d.newProcessor()
	if err != nil {
		return err
	}

	// A large burst is treated like batch mode: wait out critical load
	// before starting.
	if len(toProcess) >= BatchSizeNormal {
		bc := NewBatchController(nil, proc, d.load, d.logger)
		if _, err := bc.NextBatchSize(ctx); err != nil {
			return nil // Cancelled while waiting
		}
	}

	start := time.Now()
	processed := 0
	for i := 0; i < len(toProcess); i += BatchSizeNormal {
		if ctx.Err() != nil {
			return nil
		}
		end := i + BatchSizeNormal
		if end > len(toProcess) {
			end = len(toProcess)
		}
		for _, path := range toProcess[i:end] {
			if ctx.Err() != nil {
				return nil
			}
			proc.ProcessFile(ctx, path)
			processed++
		}
		runtime.GC()
		if err := d.cfg.Registry.UpdateLastSync(d.cfg.Record.Name); err != nil {
			d.logger.Warn("last_sync update failed", "error", err)
		}
	}
	d.recordThroughput(processed, time.Since(start))
	return nil
}

// pausedIdle idles while the pause control file exists, acknowledging
// via the pause_ack file. Returns true if a pause was observed.
func (d *Daemon) pausedIdle(ctx context.Context) bool {
	if _, err := os.Stat(d.cfg.Paths.PauseFile()); err != nil {
		return false
	}
	ack := d.cfg.Paths.PauseAckFile()
	if err := os.MkdirAll(d.cfg.Paths.ControlDir(), 0750); err == nil {
		_ = os.WriteFile(ack, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0640)
	}
	d.logger.Info("paused by control file")
	for {
		if ctx.Err() != nil {
			break
		}
		if _, err := os.Stat(d.cfg.Paths.PauseFile()); err != nil {
			d.logger.Info("resumed")
			break
		}
		_ = sleepCtx(ctx, pausePollInterval)
	}
	_ = os.Remove(ack)
	return true
}

// sweepStorage runs the JSON size check for json-backed databases.
func (d *Daemon) sweepStorage() {
	if d.cfg.Record.Backend.Type != registry.BackendJSON {
		return
	}
	report, err := d.storage.Sweep()
	if err != nil {
		d.logger.Warn("storage sweep failed", "error", err)
		return
	}
	if d.cfg.Alerts != nil {
		d.storage.Record(d.cfg.Alerts, d.cfg.Record.Name, report)
	}
}

// recordThroughput feeds the performance tracker and surfaces warnings.
func (d *Daemon) recordThroughput(docs int, elapsed time.Duration) {
	warning := d.perf.Record(docs, elapsed)
	if warning == nil {
		return
	}
	d.logger.Warn("throughput regression", "detail", warning.String())
	if d.cfg.Alerts != nil {
		d.cfg.Alerts.Add(monitor.AlertWatcherError, monitor.SeverityWarning,
			warning.String()+"; "+warning.Recommendation, d.cfg.Record.Name,
			map[string]string{
				"baseline_docs_per_min": fmt.Sprintf("%.1f", warning.BaselineDocsPerMin),
				"current_docs_per_min":  fmt.Sprintf("%.1f", warning.CurrentDocsPerMin),
				"degradation_pct":       fmt.Sprintf("%.0f", warning.DegradationPct*100),
				"threshold_pct":         fmt.Sprintf("%.0f", warning.ThresholdPct*100),
			})
	}
}

// newDetector builds the change detector with the record's filters.
func (d *Daemon) newDetector() *scan.Detector {
	exts := d.cfg.Record.FileExtensions
	if len(exts) == 0 {
		exts = d.cfg.Record.SourceType.DefaultExtensions()
	}
	return scan.NewDetector(d.cfg.Record.SourceFolder,
		scan.WithRecursive(d.cfg.Record.Recursive),
		scan.WithExtensions(exts),
		scan.WithSpecstoryOnly(d.cfg.Record.SourceType == registry.SourceSpecstory),
	)
}

// newProcessor lazily initializes the engine and builds the shared
// file processor bound to this session's dedup set and stats.
func (d *Daemon) newProcessor() (*Processor, error) {
	eng, err := d.engine()
	if err != nil {
		return nil, err
	}
	return NewProcessor(ProcessorConfig{
		Database: d.cfg.Record.Name,
		Engine:   eng,
		Dedup:    d.dedup,
		FPCache:  d.fpcache,
		EnrichQ:  d.cfg.Paths.EnrichmentPending(),
		UseFast:  d.cfg.UseFast,
		Stats:    d.stats,
		Alerts:   d.cfg.Alerts,
		Logger:   d.logger,
		Observer: d.cfg.Observer,
	}), nil
}

// engine returns the lazily initialized engine instance.
func (d *Daemon) engine() (engine.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eng != nil {
		return d.eng, nil
	}
	eng, err := d.cfg.NewEngine(d.cfg.Record)
	if err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}
	d.eng = eng
	return eng, nil
}

func (d *Daemon) documentCount(ctx context.Context) (int, error) {
	// Prefer the on-disk doc-status store for json backends; it avoids
	// spinning up the engine just to decide the startup path.
	if d.cfg.Record.Backend.Type == registry.BackendJSON {
		return engine.NewStatusStore(d.cfg.Record.Path).Count()
	}
	eng, err := d.engine()
	if err != nil {
		return 0, err
	}
	return eng.DocumentCount(ctx)
}

// releaseEngine closes and drops the engine instance to free memory.
func (d *Daemon) releaseEngine() {
	d.mu.Lock()
	eng := d.eng
	d.eng = nil
	d.mu.Unlock()
	if eng != nil {
		if err := eng.Close(); err != nil {
			d.logger.Warn("engine close failed", "error", err)
		}
	}
}

// seedDedup fills the in-memory set from the doc-status store and the
// optional persistent cache.
func (d *Daemon) seedDedup() error {
	if d.cfg.Record.Backend.Type == registry.BackendJSON {
		n, err := d.dedup.SeedFromDocStatus(engine.NewStatusStore(d.cfg.Record.Path))
		if err != nil {
			return err
		}
		d.logger.Debug("dedup set seeded from doc-status", "fingerprints", n)
	}
	if d.cfg.PersistentDedup {
		cache, err := OpenFingerprintCache(d.cfg.Paths.FingerprintCacheDir(), d.logger.Slog())
		if err != nil {
			return err
		}
		d.fpcache = cache
		n, err := cache.Warm(d.dedup)
		if err != nil {
			return err
		}
		d.logger.Debug("dedup set warmed from cache", "fingerprints", n)
	}
	return nil
}
