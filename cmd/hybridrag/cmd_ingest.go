// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
	"github.com/AleutianAI/hybridrag/services/watcher/telemetry"
)

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestFresh && ingestUse {
		return usageErrorf("--fresh and --use are mutually exclusive")
	}
	if ingestAdd && ingestFresh {
		return usageErrorf("--fresh and --add are mutually exclusive")
	}
	return batchIngest(args[0], ingestFolder, ingest.BatchOnceOptions{
		Fresh:  ingestFresh,
		Resume: ingestUse,
	}, ingestFast)
}

func runSync(cmd *cobra.Command, args []string) error {
	// Sync always re-scans; --fresh additionally forgets known content.
	return batchIngest(args[0], "", ingest.BatchOnceOptions{Fresh: syncFresh}, false)
}

// batchIngest runs one foreground batch ingestion to completion.
func batchIngest(name, folderOverride string, opts ingest.BatchOnceOptions, fast bool) error {
	a, err := newApp("ingest", true)
	if err != nil {
		return err
	}
	defer a.Close()

	if folderOverride != "" {
		folder := logging.ExpandPath(folderOverride)
		if info, err := os.Stat(folder); err != nil || !info.IsDir() {
			return usageErrorf("source folder %s is not a directory", folder)
		}
		if err := a.registry.Update(name, func(rec *registry.DatabaseRecord) {
			rec.SourceFolder = folder
		}); err != nil {
			return err
		}
	}

	rec, err := a.record(name)
	if err != nil {
		return err
	}
	if rec.SourceFolder == "" {
		return usageErrorf("database %q has no source folder; pass --folder or update the registry", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := ingest.NewDaemon(ingest.DaemonConfig{
		Record:    rec,
		Registry:  a.registry,
		Locks:     a.locks,
		Paths:     a.paths(rec.Name),
		Alerts:    a.alerts,
		NewEngine: a.engineFactory(),
		Logger:    a.logger,
		UseFast:   fast,
		Observer:  ingestObserver(rec.Name),
	})

	stats, err := d.RunBatchOnce(ctx, opts)
	if err != nil {
		return err
	}
	ux.PrintSuccess("ingested %d, skipped %d duplicates, %d errors",
		stats.Ingested, stats.Duplicates, stats.Errors)
	if ctx.Err() != nil {
		ux.PrintWarning("interrupted; re-run with --use to resume the pending list")
	}
	return nil
}

// ingestObserver bridges per-file outcomes into the metrics bundle.
func ingestObserver(database string) func(ingest.FileOutcome) {
	return func(outcome ingest.FileOutcome) {
		switch outcome {
		case ingest.OutcomeIngested:
			telemetry.RecordIngested(database, "batch")
		case ingest.OutcomeDuplicate:
			telemetry.RecordDuplicate(database)
		case ingest.OutcomeError:
			telemetry.RecordError(database)
		}
	}
}
