// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
	"github.com/AleutianAI/hybridrag/services/watcher/telemetry"
)

// stopWaitTimeout bounds how long 'watch stop' waits for a daemon to
// release its lock after SIGTERM.
const stopWaitTimeout = 15 * time.Second

// pauseAckTimeout bounds how long 'watch pause' waits for the daemon
// to acknowledge. The daemon only notices at its next tick.
const pauseAckTimeout = 45 * time.Second

// daemonStates is the gauge label set for the watcher state metric.
var daemonStates = []string{
	string(ingest.StateDown), string(ingest.StateStarting),
	string(ingest.StateResumingBatch), string(ingest.StateDiscovering),
	string(ingest.StateBatching), string(ingest.StateWatching),
	string(ingest.StateShuttingDown),
}

func runWatchStart(cmd *cobra.Command, args []string) error {
	if watchAll == (len(args) == 1) {
		return usageErrorf("pass exactly one of <name> or --all")
	}

	a, err := newApp("watcher", true)
	if err != nil {
		return err
	}
	defer a.Close()

	var records []registry.DatabaseRecord
	if watchAll {
		for _, rec := range a.registry.List() {
			if rec.AutoWatch {
				records = append(records, rec)
			}
		}
		if len(records) == 0 {
			return usageErrorf("no databases marked auto_watch")
		}
	} else {
		rec, err := a.record(args[0])
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		d := ingest.NewDaemon(ingest.DaemonConfig{
			Record:          rec,
			Registry:        a.registry,
			Locks:           a.locks,
			Paths:           a.paths(rec.Name),
			Alerts:          a.alerts,
			NewEngine:       a.engineFactory(),
			Logger:          a.logger,
			UseFast:         watchFast,
			PersistentDedup: watchPersistent,
			Observer:        watchObserver(rec.Name),
		})
		name := rec.Name
		g.Go(func() error { return d.Run(ctx) })
		g.Go(func() error {
			publishState(ctx, d, name)
			return nil
		})
		ux.PrintInfo("watching %q", name)
	}
	return g.Wait()
}

// publishState mirrors the daemon state into the metrics gauge.
func publishState(ctx context.Context, d *ingest.Daemon, database string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		telemetry.SetWatcherState(database, string(d.State()), daemonStates)
		select {
		case <-ctx.Done():
			telemetry.SetWatcherState(database, string(ingest.StateDown), daemonStates)
			return
		case <-ticker.C:
		}
	}
}

// watchObserver records per-file outcomes under the watch mode label.
func watchObserver(database string) func(ingest.FileOutcome) {
	return func(outcome ingest.FileOutcome) {
		switch outcome {
		case ingest.OutcomeIngested:
			telemetry.RecordIngested(database, "watch")
		case ingest.OutcomeDuplicate:
			telemetry.RecordDuplicate(database)
		case ingest.OutcomeError:
			telemetry.RecordError(database)
		}
	}
}

func runWatchStop(cmd *cobra.Command, args []string) error {
	if watchAll == (len(args) == 1) {
		return usageErrorf("pass exactly one of <name> or --all")
	}

	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	var names []string
	if watchAll {
		for _, rec := range a.registry.List() {
			names = append(names, rec.Name)
		}
	} else {
		names = args
	}

	for _, name := range names {
		running, pid := a.locks.IsRunning(name)
		if !running {
			if !watchAll {
				ux.PrintInfo("%q is not being watched", name)
			}
			continue
		}
		if err := signalStop(pid); err != nil {
			ux.PrintError("signalling %q (pid %d): %v", name, pid, err)
			continue
		}
		if waitStopped(a, name) {
			ux.PrintSuccess("stopped %q (pid %d)", name, pid)
		} else {
			ux.PrintWarning("%q (pid %d) did not stop within %s", name, pid, stopWaitTimeout)
		}
	}
	return nil
}

func signalStop(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

func waitStopped(a *app, name string) bool {
	deadline := time.Now().Add(stopWaitTimeout)
	for time.Now().Before(deadline) {
		if running, _ := a.locks.IsRunning(name); !running {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func runWatchStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.registry.List()
	if len(args) == 1 {
		rec, err := a.record(args[0])
		if err != nil {
			return err
		}
		records = []registry.DatabaseRecord{rec}
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		running, pid := a.locks.IsRunning(rec.Name)
		state, pidStr, mode := "stopped", "", ""
		if running {
			state, pidStr, mode = "running", strconv.Itoa(pid), "standalone"
		}
		rows = append(rows, []string{
			rec.Name, state, pidStr, mode,
			strconv.FormatBool(rec.AutoWatch),
			strconv.Itoa(rec.WatchIntervalSec),
			rec.SourceFolder,
		})
	}
	fmt.Print(ux.Table(
		[]string{"NAME", "STATE", "PID", "MODE", "AUTO", "INTERVAL", "SOURCE"}, rows))
	return nil
}

func runWatchPause(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if running, _ := a.locks.IsRunning(name); !running {
		return usageErrorf("database %q is not being watched", name)
	}

	paths := a.paths(name)
	if err := os.MkdirAll(paths.ControlDir(), 0750); err != nil {
		return err
	}
	if err := os.WriteFile(paths.PauseFile(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0640); err != nil {
		return err
	}

	deadline := time.Now().Add(pauseAckTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(paths.PauseAckFile()); err == nil {
			ux.PrintSuccess("watcher for %q paused", name)
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	ux.PrintWarning("pause requested; watcher will acknowledge at its next tick")
	return nil
}

func runWatchResume(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	paths := a.paths(args[0])
	if err := os.Remove(paths.PauseFile()); err != nil {
		if os.IsNotExist(err) {
			ux.PrintInfo("watcher for %q was not paused", args[0])
			return nil
		}
		return err
	}
	ux.PrintSuccess("watcher for %q resuming", args[0])
	return nil
}
