// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if !registry.ValidName(name) {
		return fmt.Errorf("%w: %q", registry.ErrInvalidName, name)
	}
	sourceType := registry.SourceType(regSourceType)
	if !sourceType.Valid() {
		return usageErrorf("invalid source type %q", regSourceType)
	}
	backendType := registry.BackendType(regBackend)
	if backendType != registry.BackendJSON && backendType != registry.BackendPostgres {
		return usageErrorf("invalid backend %q", regBackend)
	}

	path := regPath
	if path == "" {
		path = filepath.Join(a.stateRoot, "databases", name)
	}
	path = logging.ExpandPath(path)
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating database path: %w", err)
	}

	record := registry.DatabaseRecord{
		Name:             name,
		Path:             path,
		SourceFolder:     logging.ExpandPath(regSource),
		SourceType:       sourceType,
		AutoWatch:        regAutoWatch,
		WatchIntervalSec: regInterval,
		Recursive:        regRecursive,
		FileExtensions:   regExtensions,
		Model:            regModel,
		Backend:          registry.Backend{Type: backendType},
		Thresholds:       registry.DefaultThresholds(),
		Description:      regDescription,
	}
	if err := a.registry.Register(record); err != nil {
		return err
	}
	ux.PrintSuccess("registered %q (path %s)", name, path)
	return nil
}

func runUnregister(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if running, pid := a.locks.IsRunning(name); running {
		return usageErrorf("database %q is being watched (pid %d); stop it first", name, pid)
	}
	if err := a.registry.Unregister(name); err != nil {
		return err
	}
	ux.PrintSuccess("unregistered %q (engine files kept on disk)", name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.registry.List()
	if len(records) == 0 {
		ux.PrintInfo("no databases registered")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		running, _ := a.locks.IsRunning(rec.Name)
		state := "stopped"
		if running {
			state = "watching"
		}
		docs := ""
		if rec.Backend.Type == registry.BackendJSON {
			if n, err := engine.NewStatusStore(rec.Path).Count(); err == nil {
				docs = strconv.Itoa(n)
			}
		}
		rows = append(rows, []string{
			rec.Name, string(rec.Backend.Type), state, docs, rec.SourceFolder,
		})
	}
	fmt.Print(ux.Table([]string{"NAME", "BACKEND", "STATE", "DOCS", "SOURCE"}, rows))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.record(args[0])
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	flags := cmd.Flags()
	return a.registry.Update(name, func(rec *registry.DatabaseRecord) {
		if flags.Changed("path") {
			rec.Path = logging.ExpandPath(regPath)
		}
		if flags.Changed("source") {
			rec.SourceFolder = logging.ExpandPath(regSource)
		}
		if flags.Changed("type") {
			rec.SourceType = registry.SourceType(regSourceType)
		}
		if flags.Changed("interval") {
			rec.WatchIntervalSec = regInterval
		}
		if flags.Changed("recursive") {
			rec.Recursive = regRecursive
		}
		if flags.Changed("auto-watch") {
			rec.AutoWatch = regAutoWatch
		}
		if flags.Changed("backend") {
			rec.Backend.Type = registry.BackendType(regBackend)
		}
		if flags.Changed("model") {
			rec.Model = regModel
		}
		if flags.Changed("description") {
			rec.Description = regDescription
		}
		if flags.Changed("ext") {
			rec.FileExtensions = regExtensions
		}
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.registry.List()
	if len(records) == 0 {
		ux.PrintInfo("no databases registered")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		running, pid := a.locks.IsRunning(rec.Name)
		state, pidStr := "stopped", ""
		if running {
			state = "running"
			pidStr = strconv.Itoa(pid)
		}
		lastSync := ""
		if rec.LastSyncAt != nil {
			lastSync = rec.LastSyncAt.Local().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			rec.Name, state, pidStr,
			strconv.FormatBool(rec.AutoWatch),
			strconv.Itoa(rec.WatchIntervalSec), lastSync,
		})
	}
	fmt.Print(ux.Table([]string{"NAME", "STATE", "PID", "AUTO", "INTERVAL", "LAST SYNC"}, rows))

	summary := a.alerts.Summarize()
	if summary.Total > 0 {
		ux.PrintWarning("%d unacknowledged alerts (%d critical, %d error); see 'hybridrag alerts list'",
			summary.Total, summary.Critical, summary.Error)
	}
	return nil
}

func runCheckDB(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.record(args[0])
	if err != nil {
		return err
	}

	healthy := true
	if info, err := os.Stat(rec.Path); err != nil || !info.IsDir() {
		ux.PrintError("database path missing: %s", rec.Path)
		healthy = false
	} else {
		ux.PrintSuccess("database path: %s", rec.Path)
	}

	if rec.SourceFolder != "" {
		if info, err := os.Stat(rec.SourceFolder); err != nil || !info.IsDir() {
			ux.PrintError("source folder missing: %s", rec.SourceFolder)
			healthy = false
		} else {
			ux.PrintSuccess("source folder: %s", rec.SourceFolder)
		}
	}

	if rec.Backend.Type == registry.BackendJSON {
		n, err := engine.NewStatusStore(rec.Path).Count()
		if err != nil {
			ux.PrintError("doc-status store unreadable: %v", err)
			healthy = false
		} else {
			ux.PrintSuccess("doc-status store: %d documents", n)
		}
	}

	paths := a.paths(rec.Name)
	if paths.BatchPending().Exists() {
		if entries, err := paths.BatchPending().Read(); err == nil {
			ux.PrintWarning("interrupted batch: %d files pending resume", len(entries))
		}
	}

	if !healthy {
		return fmt.Errorf("database %q failed checks", rec.Name)
	}
	return nil
}
