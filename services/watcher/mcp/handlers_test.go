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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// scriptedEngine returns canned answers and records the queries it saw.
type scriptedEngine struct {
	mu      sync.Mutex
	answers []string // Popped front to back; last one repeats
	queries []struct {
		Text string
		Mode engine.QueryMode
	}
}

func (e *scriptedEngine) Query(ctx context.Context, text string, mode engine.QueryMode, params engine.QueryParams) (engine.QueryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, struct {
		Text string
		Mode engine.QueryMode
	}{text, mode})
	answer := ""
	if len(e.answers) > 0 {
		answer = e.answers[0]
		if len(e.answers) > 1 {
			e.answers = e.answers[1:]
		}
	}
	return engine.QueryResult{Text: answer}, nil
}

func (e *scriptedEngine) Insert(ctx context.Context, content string, meta map[string]string) error {
	return nil
}
func (e *scriptedEngine) InsertFast(ctx context.Context, content string, meta map[string]string) error {
	return nil
}
func (e *scriptedEngine) HasFast() bool { return false }

func (e *scriptedEngine) DocumentCount(ctx context.Context) (int, error) { return 0, nil }

func (e *scriptedEngine) DocStatusLookup(ctx context.Context, docID string) (*engine.DocStatus, error) {
	return nil, nil
}
func (e *scriptedEngine) Close() error { return nil }

func (e *scriptedEngine) queryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

func newServerFixture(t *testing.T, eng engine.Engine) (*Server, registry.DatabaseRecord, string) {
	t.Helper()
	stateRoot := t.TempDir()

	record := registry.DatabaseRecord{
		Name:             "notes",
		Path:             t.TempDir(),
		SourceType:       registry.SourceFilesystem,
		WatchIntervalSec: 30,
		Backend:          registry.Backend{Type: registry.BackendJSON},
		Thresholds:       registry.DefaultThresholds(),
	}
	reg, err := registry.Open(filepath.Join(stateRoot, "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(record); err != nil {
		t.Fatal(err)
	}

	paths := ingest.NewStatePaths(stateRoot, record.Name)
	s := NewServer(Config{
		Registry:  reg,
		Locks:     lock.NewManager(paths.PidDir()),
		StateRoot: stateRoot,
		NewEngine: func(registry.DatabaseRecord) (engine.Engine, error) { return eng, nil },
	})
	return s, record, stateRoot
}

func call(args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcpgo.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestHandleDatabaseStatus(t *testing.T) {
	s, record, stateRoot := newServerFixture(t, &scriptedEngine{})

	// Two documents on disk, three queued for enrichment with one done.
	payload := `{"doc-a": {"status": "done"}, "doc-b": {"status": "done"}}`
	if err := os.WriteFile(filepath.Join(record.Path, engine.DocStatusFile), []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}
	paths := ingest.NewStatePaths(stateRoot, record.Name)
	for _, p := range []string{"/tmp/a.md", "/tmp/b.md", "/tmp/c.md"} {
		if err := paths.EnrichmentPending().Append(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := paths.EnrichmentDone().Append("/tmp/a.md"); err != nil {
		t.Fatal(err)
	}

	res, err := s.handleDatabaseStatus(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var parsed struct {
		Databases []struct {
			Name              string `json:"name"`
			Running           bool   `json:"running"`
			Documents         int    `json:"documents"`
			EnrichmentBacklog int    `json:"enrichment_backlog"`
		} `json:"databases"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Databases) != 1 {
		t.Fatalf("databases = %d, want 1", len(parsed.Databases))
	}
	db := parsed.Databases[0]
	if db.Name != "notes" || db.Running || db.Documents != 2 || db.EnrichmentBacklog != 2 {
		t.Errorf("status = %+v, want notes/stopped/2 docs/2 backlog", db)
	}
}

func TestHandleDatabaseStatus_UnknownDatabase(t *testing.T) {
	s, _, _ := newServerFixture(t, &scriptedEngine{})
	res, err := s.handleDatabaseStatus(context.Background(), call(map[string]any{"database": "nope"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected tool error for unknown database")
	}
}

func TestHandleHealthCheck(t *testing.T) {
	s, _, _ := newServerFixture(t, &scriptedEngine{})
	res, err := s.handleHealthCheck(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"status": "ok"`) || !strings.Contains(text, `"databases": 1`) {
		t.Errorf("unexpected health payload: %s", text)
	}
}

func TestQueryHandler_ModesAndDefaults(t *testing.T) {
	eng := &scriptedEngine{answers: []string{"the answer"}}
	s, _, _ := newServerFixture(t, eng)

	handler := s.queryHandler(engine.ModeGlobal, backgroundQueryTimeout)
	res, err := handler(context.Background(), call(map[string]any{
		"text":  "what changed last week?",
		"top_k": float64(5),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); got != "the answer" {
		t.Errorf("answer = %q", got)
	}
	// Single registered database resolves without the argument.
	if eng.queries[0].Mode != engine.ModeGlobal {
		t.Errorf("mode = %s, want global", eng.queries[0].Mode)
	}
}

func TestQueryHandler_MissingText(t *testing.T) {
	s, _, _ := newServerFixture(t, &scriptedEngine{})
	handler := s.queryHandler(engine.ModeLocal, interactiveQueryTimeout)
	res, err := handler(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected tool error for missing text")
	}
}

func TestHandleExtractContext_RejectsInvalidMode(t *testing.T) {
	s, _, _ := newServerFixture(t, &scriptedEngine{})
	res, err := s.handleExtractContext(context.Background(), call(map[string]any{
		"text": "q",
		"mode": "telepathic",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected tool error for invalid mode")
	}
}

func TestHandleExtractContext_OnlyContext(t *testing.T) {
	eng := &scriptedEngine{answers: []string{"raw context"}}
	s, _, _ := newServerFixture(t, eng)

	res, err := s.handleExtractContext(context.Background(), call(map[string]any{"text": "q"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); got != "raw context" {
		t.Errorf("context = %q", got)
	}
}

func TestHandleMultihopQuery(t *testing.T) {
	eng := &scriptedEngine{answers: []string{"fact one", "fact two", "final synthesis"}}
	s, _, _ := newServerFixture(t, eng)

	res, err := s.handleMultihopQuery(context.Background(), call(map[string]any{
		"text":      "how are A and B related?",
		"max_steps": float64(3),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var parsed struct {
		Answer string `json:"answer"`
		Hops   int    `json:"hops"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Answer != "final synthesis" || parsed.Hops != 3 {
		t.Errorf("result = %+v, want final synthesis in 3 hops", parsed)
	}
	// Two context hops (local then global) plus the hybrid synthesis.
	if eng.queryCount() != 3 {
		t.Fatalf("queries = %d, want 3", eng.queryCount())
	}
	if eng.queries[0].Mode != engine.ModeLocal || eng.queries[1].Mode != engine.ModeGlobal ||
		eng.queries[2].Mode != engine.ModeHybrid {
		t.Errorf("hop modes = %v/%v/%v", eng.queries[0].Mode, eng.queries[1].Mode, eng.queries[2].Mode)
	}
	if !strings.Contains(eng.queries[2].Text, "fact one") {
		t.Error("synthesis prompt missing gathered context")
	}
}

func TestHandleGetLogs_LevelFilter(t *testing.T) {
	s, _, stateRoot := newServerFixture(t, &scriptedEngine{})

	logDir := filepath.Join(stateRoot, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		t.Fatal(err)
	}
	lines := []string{
		`{"time":"t1","level":"INFO","msg":"ingested"}`,
		`{"time":"t2","level":"ERROR","msg":"insert failed"}`,
		`{"time":"t3","level":"INFO","msg":"watching"}`,
	}
	if err := os.WriteFile(filepath.Join(logDir, "watcher.log"), []byte(strings.Join(lines, "\n")+"\n"), 0640); err != nil {
		t.Fatal(err)
	}

	res, err := s.handleGetLogs(context.Background(), call(map[string]any{"level": "error"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "insert failed") || strings.Contains(text, "watching") {
		t.Errorf("filtered logs = %q", text)
	}
}

func TestResolveRecord_Ambiguous(t *testing.T) {
	s, _, _ := newServerFixture(t, &scriptedEngine{})
	if err := s.cfg.Registry.Register(registry.DatabaseRecord{
		Name:             "work",
		Path:             t.TempDir(),
		SourceType:       registry.SourceFilesystem,
		WatchIntervalSec: 30,
		Backend:          registry.Backend{Type: registry.BackendJSON},
		Thresholds:       registry.DefaultThresholds(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.resolveRecord(""); err == nil {
		t.Error("expected ambiguity error with two databases")
	}
	rec, err := s.resolveRecord("work")
	if err != nil || rec.Name != "work" {
		t.Errorf("resolve work = %v, %v", rec.Name, err)
	}
}
