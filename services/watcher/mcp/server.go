// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcp exposes the query and diagnostics surface as
// model-context-protocol tools over stdio, so external assistants can
// drive the knowledge bases without shelling out to the CLI.
package mcp

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

const serverName = "hybridrag"
const serverVersion = "1.0.0"

// EngineFactory builds an engine client for a registered database.
type EngineFactory func(registry.DatabaseRecord) (engine.Engine, error)

// Config wires the tool server.
type Config struct {
	Registry  *registry.Registry
	Locks     *lock.Manager
	StateRoot string // "" for the default ~/.hybridrag
	NewEngine EngineFactory
	Logger    *logging.Logger
}

// Server hosts the tool handlers. Engines are created lazily per
// database and cached for the life of the process.
type Server struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	engines map[string]engine.Engine
}

// NewServer creates the tool server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{cfg: cfg, logger: logger, engines: make(map[string]engine.Engine)}
}

// MCPServer assembles the protocol server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool("database_status",
		mcp.WithDescription("Summary of registered knowledge bases: watcher state, document counts, enrichment backlog. Fast."),
		mcp.WithString("database", mcp.Description("Limit to one database by name")),
	), s.handleDatabaseStatus)

	srv.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Quick liveness check of the control plane state directory and registry. Fast."),
	), s.handleHealthCheck)

	srv.AddTool(mcp.NewTool("get_logs",
		mcp.WithDescription("Tail the daemon log files. Fast, diagnostic."),
		mcp.WithNumber("lines", mcp.Description("Number of trailing lines (default 50)")),
		mcp.WithString("level", mcp.Description("Only lines at this level: debug, info, warn, error")),
	), s.handleGetLogs)

	srv.AddTool(mcp.NewTool("local_query",
		mcp.WithDescription("Entity-focused retrieval query. Interactive latency."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("database", mcp.Description("Database name (optional when exactly one is registered)")),
		mcp.WithNumber("top_k", mcp.Description("Retrieval breadth (default 10)")),
	), s.queryHandler(engine.ModeLocal, interactiveQueryTimeout))

	srv.AddTool(mcp.NewTool("global_query",
		mcp.WithDescription("Corpus-wide thematic query. Higher latency; prefer running as a background task."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("database", mcp.Description("Database name (optional when exactly one is registered)")),
		mcp.WithNumber("top_k", mcp.Description("Retrieval breadth (default 10)")),
	), s.queryHandler(engine.ModeGlobal, backgroundQueryTimeout))

	srv.AddTool(mcp.NewTool("hybrid_query",
		mcp.WithDescription("Combined local and global retrieval. Higher latency; prefer running as a background task."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("database", mcp.Description("Database name (optional when exactly one is registered)")),
		mcp.WithNumber("top_k", mcp.Description("Retrieval breadth (default 10)")),
	), s.queryHandler(engine.ModeHybrid, backgroundQueryTimeout))

	srv.AddTool(mcp.NewTool("extract_context",
		mcp.WithDescription("Return the retrieved context for a query without generating an answer. Interactive latency."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("mode", mcp.Description("Retrieval mode: local, global, hybrid, naive, mix (default local)")),
		mcp.WithString("database", mcp.Description("Database name (optional when exactly one is registered)")),
		mcp.WithNumber("top_k", mcp.Description("Retrieval breadth (default 10)")),
	), s.handleExtractContext)

	srv.AddTool(mcp.NewTool("multihop_query",
		mcp.WithDescription("Iterative multi-step reasoning over the knowledge base. Long-running; run as a background task."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The question")),
		mcp.WithString("database", mcp.Description("Database name (optional when exactly one is registered)")),
		mcp.WithNumber("max_steps", mcp.Description("Maximum reasoning hops (default 3, capped at 8)")),
	), s.handleMultihopQuery)

	return srv
}

// ServeStdio runs the protocol server over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	defer s.closeEngines()
	return server.ServeStdio(s.MCPServer())
}

// engineFor resolves the database record and returns a cached engine.
func (s *Server) engineFor(name string) (engine.Engine, registry.DatabaseRecord, error) {
	rec, err := s.resolveRecord(name)
	if err != nil {
		return nil, registry.DatabaseRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[rec.Name]; ok {
		return eng, rec, nil
	}
	eng, err := s.cfg.NewEngine(rec)
	if err != nil {
		return nil, rec, err
	}
	s.engines[rec.Name] = eng
	return eng, rec, nil
}

// resolveRecord maps an optional database argument to a record. An
// empty name is allowed only when exactly one database is registered.
func (s *Server) resolveRecord(name string) (registry.DatabaseRecord, error) {
	if name != "" {
		rec, ok := s.cfg.Registry.Get(name)
		if !ok {
			return registry.DatabaseRecord{}, &unknownDatabaseError{name: name}
		}
		return rec, nil
	}
	records := s.cfg.Registry.List()
	if len(records) == 1 {
		return records[0], nil
	}
	return registry.DatabaseRecord{}, &ambiguousDatabaseError{count: len(records)}
}

func (s *Server) closeEngines() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, eng := range s.engines {
		if err := eng.Close(); err != nil {
			s.logger.Warn("engine close failed", "database", name, "error", err)
		}
		delete(s.engines, name)
	}
}

type unknownDatabaseError struct{ name string }

func (e *unknownDatabaseError) Error() string { return "unknown database: " + e.name }

type ambiguousDatabaseError struct{ count int }

func (e *ambiguousDatabaseError) Error() string {
	if e.count == 0 {
		return "no databases registered"
	}
	return "multiple databases registered; pass the database argument"
}
