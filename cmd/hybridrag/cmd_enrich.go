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

	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/telemetry"
)

func runEnrich(cmd *cobra.Command, args []string) error {
	a, err := newApp("enrich", true)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.record(args[0])
	if err != nil {
		return err
	}
	paths := a.paths(rec.Name)

	if enrichStatus {
		e := ingest.NewEnricher(rec, paths, nil, a.locks, a.alerts, a.logger)
		status, err := e.Status()
		if err != nil {
			return err
		}
		ux.PrintInfo("queued: %d, enriched: %d, backlog: %d",
			status.Pending, status.Done, status.Backlog)
		return nil
	}

	eng, err := a.newEngine(rec)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := ingest.NewEnricher(rec, paths, eng, a.locks, a.alerts, a.logger)
	stats, err := e.Run(ctx, ingest.EnrichOptions{
		Limit:  enrichLimit,
		DryRun: enrichDryRun,
	})
	if err != nil {
		return err
	}

	if enrichDryRun {
		ux.PrintInfo("dry run: %d documents queued for enrichment", stats.Queued)
		return nil
	}
	for i := 0; i < stats.Enriched; i++ {
		telemetry.RecordIngested(rec.Name, "enrichment")
	}
	ux.PrintSuccess("enriched %d, tombstoned %d missing, %d already done, %d failed",
		stats.Enriched, stats.Tombstoned, stats.AlreadyDone, stats.Failed)
	if stats.Failed > 0 {
		ux.PrintWarning("failed documents stay queued and will be retried")
	}
	return nil
}
