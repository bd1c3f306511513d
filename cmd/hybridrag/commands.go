// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	regPath        string
	regSource      string
	regSourceType  string
	regInterval    int
	regRecursive   bool
	regAutoWatch   bool
	regBackend     string
	regModel       string
	regDescription string
	regExtensions  []string

	ingestFolder string
	ingestFresh  bool
	ingestAdd    bool
	ingestUse    bool
	ingestFast   bool

	syncFresh bool

	watchAll        bool
	watchFast       bool
	watchPersistent bool

	enrichLimit  int
	enrichDryRun bool
	enrichStatus bool

	alertsDatabase  string
	alertsSeverity  string
	alertsAll       bool
	alertsOlderThan int

	queryDatabase    string
	queryMode        string
	queryTopK        int
	queryOnlyContext bool

	serveAddr string

	rootCmd = &cobra.Command{
		Use:   "hybridrag",
		Short: "Manage HybridRAG knowledge bases and their ingestion watchers",
		Long: `HybridRAG keeps named RAG knowledge bases in sync with local
document folders: registration, batch ingestion, change-driven
watching, deferred graph enrichment, and query tooling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Registry CRUD ---
	registerCmd = &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new database",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegister, // Defined in cmd_registry.go
	}
	unregisterCmd = &cobra.Command{
		Use:   "unregister <name>",
		Short: "Remove a database from the registry (engine files are kept)",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnregister,
	}
	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List registered databases",
		Aliases: []string{"list-dbs"},
		Args:    cobra.NoArgs,
		RunE:    runList,
	}
	showCmd = &cobra.Command{
		Use:     "show <name>",
		Short:   "Show the full record of one database",
		Aliases: []string{"db-info"},
		Args:    cobra.ExactArgs(1),
		RunE:    runShow,
	}
	updateCmd = &cobra.Command{
		Use:   "update <name>",
		Short: "Update fields of a registered database",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate,
	}

	// --- Diagnostics ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Per-database watcher status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	checkDBCmd = &cobra.Command{
		Use:   "check-db <name>",
		Short: "Verify a database's paths and engine state files",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckDB,
	}

	// --- Ingestion ---
	ingestCmd = &cobra.Command{
		Use:   "ingest <name>",
		Short: "One-shot batch ingestion into a database",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest, // Defined in cmd_ingest.go
	}
	syncCmd = &cobra.Command{
		Use:   "sync <name>",
		Short: "Force a re-scan and ingest of the source folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runSync,
	}

	// --- Watcher Lifecycle ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Manage the per-database watcher daemons",
	}
	watchStartCmd = &cobra.Command{
		Use:   "start [<name>]",
		Short: "Run the watcher daemon for one database, or --all auto-watch databases",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchStart, // Defined in cmd_watch.go
	}
	watchStopCmd = &cobra.Command{
		Use:   "stop [<name>]",
		Short: "Stop a running watcher daemon (or --all)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchStop,
	}
	watchStatusCmd = &cobra.Command{
		Use:   "status [<name>]",
		Short: "Show watcher daemon status",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchStatus,
	}
	watchPauseCmd = &cobra.Command{
		Use:   "pause <name>",
		Short: "Pause a running watcher without stopping it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchPause,
	}
	watchResumeCmd = &cobra.Command{
		Use:   "resume <name>",
		Short: "Resume a paused watcher",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchResume,
	}

	// --- Enrichment ---
	enrichCmd = &cobra.Command{
		Use:   "enrich <name>",
		Short: "Run deferred graph enrichment for fast-ingested documents",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnrich, // Defined in cmd_enrich.go
	}

	// --- Alerts ---
	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and manage ingestion alerts",
	}
	alertsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		Args:  cobra.NoArgs,
		RunE:  runAlertsList, // Defined in cmd_alerts.go
	}
	alertsAckCmd = &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge one alert",
		Args:  cobra.ExactArgs(1),
		RunE:  runAlertsAck,
	}
	alertsAckAllCmd = &cobra.Command{
		Use:   "ack-all",
		Short: "Acknowledge all alerts, optionally for one database",
		Args:  cobra.NoArgs,
		RunE:  runAlertsAckAll,
	}
	alertsClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete alerts older than a number of days",
		Args:  cobra.NoArgs,
		RunE:  runAlertsClear,
	}

	// --- Query ---
	queryCmd = &cobra.Command{
		Use:   "query <text>",
		Short: "Query a database through the RAG engine",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery, // Defined in cmd_query.go
	}

	// --- Servers ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP status and metrics API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the model-context-protocol tool surface over stdio",
		Args:  cobra.NoArgs,
		RunE:  runMCP,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{registerCmd, updateCmd} {
		cmd.Flags().StringVar(&regPath, "path", "", "Directory for engine state (default: <state root>/databases/<name>)")
		cmd.Flags().StringVar(&regSource, "source", "", "Source folder to watch")
		cmd.Flags().StringVar(&regSourceType, "type", "filesystem", "Source type: filesystem, specstory, api, schema")
		cmd.Flags().IntVar(&regInterval, "interval", 30, "Watch interval in seconds")
		cmd.Flags().BoolVar(&regRecursive, "recursive", true, "Walk the source folder recursively")
		cmd.Flags().BoolVar(&regAutoWatch, "auto-watch", false, "Include in 'watch start --all'")
		cmd.Flags().StringVar(&regBackend, "backend", "json", "Storage backend: json, postgres")
		cmd.Flags().StringVar(&regModel, "model", "", "Model identifier forwarded to the engine")
		cmd.Flags().StringVar(&regDescription, "description", "", "Free-form description")
		cmd.Flags().StringSliceVar(&regExtensions, "ext", nil, "Restrict to file extensions (e.g. .md,.txt)")
	}

	ingestCmd.Flags().StringVar(&ingestFolder, "folder", "", "Override or set the source folder for this run")
	ingestCmd.Flags().BoolVar(&ingestFresh, "fresh", false, "Re-ingest everything, ignoring known documents")
	ingestCmd.Flags().BoolVar(&ingestAdd, "add", false, "Add new documents to the existing corpus (default)")
	ingestCmd.Flags().BoolVar(&ingestUse, "use", false, "Resume the existing pending list without re-scanning")
	ingestCmd.Flags().BoolVar(&ingestFast, "fast", false, "Use insert_fast and queue graph enrichment")

	syncCmd.Flags().BoolVar(&syncFresh, "fresh", false, "Re-ingest everything, ignoring known documents")

	watchStartCmd.Flags().BoolVar(&watchAll, "all", false, "Start every database marked auto_watch")
	watchStartCmd.Flags().BoolVar(&watchFast, "fast", false, "Use insert_fast for batch-mode inserts")
	watchStartCmd.Flags().BoolVar(&watchPersistent, "persistent-dedup", false, "Keep the fingerprint cache on disk")
	watchStopCmd.Flags().BoolVar(&watchAll, "all", false, "Stop every running watcher")

	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "Process at most N queued documents")
	enrichCmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "Report what would be enriched without doing it")
	enrichCmd.Flags().BoolVar(&enrichStatus, "status", false, "Show queue backlog and exit")

	alertsListCmd.Flags().StringVar(&alertsDatabase, "database", "", "Limit to one database")
	alertsListCmd.Flags().StringVar(&alertsSeverity, "severity", "", "Limit to one severity")
	alertsListCmd.Flags().BoolVar(&alertsAll, "all", false, "Include acknowledged alerts")
	alertsAckAllCmd.Flags().StringVar(&alertsDatabase, "database", "", "Limit to one database")
	alertsClearCmd.Flags().IntVar(&alertsOlderThan, "older-than", 7, "Delete alerts older than this many days")

	queryCmd.Flags().StringVar(&queryDatabase, "database", "", "Database name (optional when exactly one is registered)")
	queryCmd.Flags().StringVar(&queryMode, "mode", "hybrid", "Query mode: local, global, hybrid, naive, mix")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "Retrieval breadth (0 = engine default)")
	queryCmd.Flags().BoolVar(&queryOnlyContext, "only-context", false, "Return retrieved context without an answer")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9622", "Listen address")

	watchCmd.AddCommand(watchStartCmd, watchStopCmd, watchStatusCmd, watchPauseCmd, watchResumeCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsAckAllCmd, alertsClearCmd)
	rootCmd.AddCommand(registerCmd, unregisterCmd, listCmd, showCmd, updateCmd,
		statusCmd, checkDBCmd, ingestCmd, syncCmd, watchCmd, enrichCmd,
		alertsCmd, queryCmd, serveCmd, mcpCmd)
}
