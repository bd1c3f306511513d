// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
	"github.com/AleutianAI/hybridrag/services/watcher/telemetry"
)

// interactiveQueryTimeout bounds local_query and extract_context.
const interactiveQueryTimeout = 2 * time.Minute

// backgroundQueryTimeout bounds global_query and hybrid_query.
const backgroundQueryTimeout = 5 * time.Minute

// multihopTimeout bounds one full multihop_query run.
const multihopTimeout = 15 * time.Minute

// multihopDefaultSteps and multihopMaxSteps bound the reasoning loop.
const multihopDefaultSteps = 3
const multihopMaxSteps = 8

// =============================================================================
// Diagnostics Tools
// =============================================================================

func (s *Server) handleDatabaseStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	only := stringArg(args, "database", "")

	type dbStatus struct {
		Name              string `json:"name"`
		Running           bool   `json:"running"`
		PID               int    `json:"pid,omitempty"`
		Backend           string `json:"backend"`
		SourceFolder      string `json:"source_folder,omitempty"`
		AutoWatch         bool   `json:"auto_watch"`
		Documents         int    `json:"documents,omitempty"`
		EnrichmentBacklog int    `json:"enrichment_backlog"`
		LastSyncAt        string `json:"last_sync_at,omitempty"`
	}

	var out []dbStatus
	for _, rec := range s.cfg.Registry.List() {
		if only != "" && rec.Name != only {
			continue
		}
		running, pid := s.cfg.Locks.IsRunning(rec.Name)
		st := dbStatus{
			Name:         rec.Name,
			Running:      running,
			PID:          pid,
			Backend:      string(rec.Backend.Type),
			SourceFolder: rec.SourceFolder,
			AutoWatch:    rec.AutoWatch,
		}
		if rec.LastSyncAt != nil {
			st.LastSyncAt = rec.LastSyncAt.Format(time.RFC3339)
		}
		// Doc counts without spinning up an engine: the json backend
		// keeps its status file on disk.
		if rec.Backend.Type == registry.BackendJSON {
			if n, err := engine.NewStatusStore(rec.Path).Count(); err == nil {
				st.Documents = n
			}
		}
		paths := ingest.NewStatePaths(s.cfg.StateRoot, rec.Name)
		pending, _ := paths.EnrichmentPending().Read()
		done, _ := paths.EnrichmentDone().Read()
		st.EnrichmentBacklog = len(ingest.Difference(pending, done))
		out = append(out, st)
	}
	if only != "" && len(out) == 0 {
		return errResult("unknown database: " + only), nil
	}

	return jsonResult(map[string]any{"databases": out})
}

func (s *Server) handleHealthCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := s.cfg.StateRoot
	if root == "" {
		root = registry.StateRoot()
	}
	status := "ok"
	if _, err := os.Stat(root); err != nil {
		status = "degraded: state directory unavailable"
	}
	records := s.cfg.Registry.List()
	running := 0
	for _, rec := range records {
		if ok, _ := s.cfg.Locks.IsRunning(rec.Name); ok {
			running++
		}
	}
	return jsonResult(map[string]any{
		"status":          status,
		"state_root":      root,
		"databases":       len(records),
		"watchers_active": running,
	})
}

func (s *Server) handleGetLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	lines := intArg(args, "lines", 50)
	level := strings.ToLower(stringArg(args, "level", ""))

	root := s.cfg.StateRoot
	if root == "" {
		root = registry.StateRoot()
	}
	logDir := filepath.Join(root, "logs")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return errResult(fmt.Sprintf("no logs available: %v", err)), nil
	}

	var collected []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		tail, err := logging.TailFile(filepath.Join(logDir, e.Name()), lines)
		if err != nil {
			continue
		}
		for _, line := range tail {
			if level != "" && !matchesLevel(line, level) {
				continue
			}
			collected = append(collected, line)
		}
	}
	if len(collected) > lines {
		collected = collected[len(collected)-lines:]
	}
	if len(collected) == 0 {
		return newTextResult("no matching log lines"), nil
	}
	return newTextResult(strings.Join(collected, "\n")), nil
}

// matchesLevel checks the slog JSON level attribute on one line.
func matchesLevel(line, level string) bool {
	return strings.Contains(strings.ToLower(line), `"level":"`+level)
}

// =============================================================================
// Query Tools
// =============================================================================

// queryHandler builds the shared handler for the fixed-mode query tools.
func (s *Server) queryHandler(mode engine.QueryMode, timeout time.Duration) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		args := getArgs(request)
		text := stringArg(args, "text", "")
		if text == "" {
			return errResult("text is required"), nil
		}

		eng, rec, err := s.engineFor(stringArg(args, "database", ""))
		if err != nil {
			return errResult(err.Error()), nil
		}

		params := engine.QueryParams{TopK: intArg(args, "top_k", 0)}
		result, err := eng.Query(ctx, text, mode, params)
		if err != nil {
			return errResult(fmt.Sprintf("query failed: %v", err)), nil
		}
		telemetry.RecordQueryDuration(rec.Name, string(mode), result.Duration.Seconds())
		return newTextResult(result.Text), nil
	}
}

func (s *Server) handleExtractContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, interactiveQueryTimeout)
	defer cancel()

	args := getArgs(request)
	text := stringArg(args, "text", "")
	if text == "" {
		return errResult("text is required"), nil
	}
	mode := engine.QueryMode(stringArg(args, "mode", string(engine.ModeLocal)))
	if !mode.Valid() {
		return errResult(fmt.Sprintf("invalid mode %q", mode)), nil
	}

	eng, rec, err := s.engineFor(stringArg(args, "database", ""))
	if err != nil {
		return errResult(err.Error()), nil
	}

	params := engine.QueryParams{
		TopK:        intArg(args, "top_k", 0),
		OnlyContext: true,
	}
	result, err := eng.Query(ctx, text, mode, params)
	if err != nil {
		return errResult(fmt.Sprintf("context extraction failed: %v", err)), nil
	}
	telemetry.RecordQueryDuration(rec.Name, string(mode), result.Duration.Seconds())
	return newTextResult(result.Text), nil
}

func (s *Server) handleMultihopQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, multihopTimeout)
	defer cancel()

	args := getArgs(request)
	text := stringArg(args, "text", "")
	if text == "" {
		return errResult("text is required"), nil
	}
	maxSteps := intArg(args, "max_steps", multihopDefaultSteps)
	if maxSteps < 1 {
		maxSteps = 1
	}
	if maxSteps > multihopMaxSteps {
		maxSteps = multihopMaxSteps
	}

	eng, rec, err := s.engineFor(stringArg(args, "database", ""))
	if err != nil {
		return errResult(err.Error()), nil
	}

	answer, hops, err := s.multihop(ctx, eng, text, maxSteps)
	if err != nil {
		return errResult(fmt.Sprintf("multihop query failed: %v", err)), nil
	}
	s.logger.Info("multihop query complete", "database", rec.Name, "hops", hops)
	return jsonResult(map[string]any{"answer": answer, "hops": hops})
}

// multihop gathers context in alternating local/global hops, then
// synthesizes once with the accumulated context prepended. Hops stop
// early when a hop contributes nothing new.
func (s *Server) multihop(ctx context.Context, eng engine.Engine, text string, maxSteps int) (string, int, error) {
	var contexts []string
	hops := 0
	for hop := 0; hop < maxSteps-1; hop++ {
		mode := engine.ModeLocal
		if hop%2 == 1 {
			mode = engine.ModeGlobal
		}
		probe := text
		if len(contexts) > 0 {
			probe = text + "\n\nKnown so far:\n" + contexts[len(contexts)-1]
		}
		result, err := eng.Query(ctx, probe, mode, engine.QueryParams{OnlyContext: true})
		if err != nil {
			return "", hops, err
		}
		hops++
		chunk := strings.TrimSpace(result.Text)
		if chunk == "" || contains(contexts, chunk) {
			break
		}
		contexts = append(contexts, chunk)
	}

	final := text
	if len(contexts) > 0 {
		final = "Context gathered in earlier reasoning steps:\n" +
			strings.Join(contexts, "\n---\n") + "\n\nQuestion: " + text
	}
	result, err := eng.Query(ctx, final, engine.ModeHybrid, engine.QueryParams{})
	if err != nil {
		return "", hops, err
	}
	return result.Text, hops + 1, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Argument and Result Helpers
// =============================================================================

// getArgs safely extracts the arguments map from a CallToolRequest.
func getArgs(request mcp.CallToolRequest) map[string]any {
	if request.Params.Arguments == nil {
		return map[string]any{}
	}
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]any, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// intArg extracts a numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

// newTextResult creates a successful tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult marshals a payload into a text result.
func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// errResult creates a tool-level error result (IsError=true), not a
// transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
