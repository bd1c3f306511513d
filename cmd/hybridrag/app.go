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

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// EnvEngineURL overrides the RAG engine endpoint.
const EnvEngineURL = "HYBRIDRAG_ENGINE_URL"

// EnvPostgresPassword supplies the postgres backend credential; it is
// never stored in the registry.
const EnvPostgresPassword = "HYBRIDRAG_PG_PASSWORD"

// defaultEngineURL is the conventional local engine sidecar address.
const defaultEngineURL = "http://localhost:9621"

// app bundles the shared state every command needs.
type app struct {
	stateRoot string
	registry  *registry.Registry
	locks     *lock.Manager
	alerts    *monitor.AlertStore
	logger    *logging.Logger
}

// newApp opens the registry, lock manager, and alert store.
//
// The service name selects the log file for daemon-style commands;
// interactive commands pass "cli" and log to stderr only at warn+.
func newApp(service string, fileLogs bool) (*app, error) {
	root := registry.StateRoot()
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("creating state root %s: %w", root, err)
	}

	logCfg := logging.Config{Service: service, Level: logging.LevelWarn}
	if fileLogs {
		logCfg.Level = logging.LevelInfo
		logCfg.LogDir = filepath.Join(root, "logs")
		logCfg.Quiet = false
	}
	logger := logging.New(logCfg)

	reg, err := registry.Open("", registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	notifier := monitor.NewNotifier(&monitor.LogSink{Logger: logger})
	alerts, err := monitor.NewAlertStore(filepath.Join(root, "alerts.json"), notifier)
	if err != nil {
		return nil, err
	}

	return &app{
		stateRoot: root,
		registry:  reg,
		locks:     lock.NewManager(filepath.Join(root, "pids")),
		alerts:    alerts,
		logger:    logger,
	}, nil
}

// Close flushes the logger.
func (a *app) Close() {
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "log close: %v\n", err)
	}
}

// record resolves a database by name with a usage-grade error.
func (a *app) record(name string) (registry.DatabaseRecord, error) {
	rec, ok := a.registry.Get(name)
	if !ok {
		return registry.DatabaseRecord{}, usageErrorf("unknown database %q (see 'hybridrag list')", name)
	}
	return rec, nil
}

// paths returns the per-database state paths.
func (a *app) paths(db string) ingest.StatePaths {
	return ingest.NewStatePaths(a.stateRoot, db)
}

// newEngine builds the HTTP engine client for a record.
//
// Postgres-backed databases require the password in the environment;
// refusing to start without it keeps the failure at configuration time
// instead of deep inside the first insert.
func (a *app) newEngine(rec registry.DatabaseRecord) (engine.Engine, error) {
	if rec.Backend.Type == registry.BackendPostgres {
		if os.Getenv(EnvPostgresPassword) == "" {
			return nil, usageErrorf("database %q uses the postgres backend; set %s", rec.Name, EnvPostgresPassword)
		}
	}
	url := os.Getenv(EnvEngineURL)
	if url == "" {
		url = defaultEngineURL
	}
	return engine.NewClient(engine.ClientConfig{
		URL:          url,
		Model:        rec.Model,
		SupportsFast: true,
		Logger:       a.logger.Slog(),
	})
}

// engineFactory adapts newEngine for the ingest daemon.
func (a *app) engineFactory() ingest.EngineFactory {
	return func(rec registry.DatabaseRecord) (engine.Engine, error) {
		return a.newEngine(rec)
	}
}
