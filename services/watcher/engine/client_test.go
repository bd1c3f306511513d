// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string, mutate func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		URL:          url,
		RetryBackoff: time.Millisecond,
		RetryJitter:  0.01,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_InsertSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/insert" {
			t.Errorf("path = %s, want /insert", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	err := c.Insert(context.Background(), "hello world", map[string]string{"file_path": "/tmp/a.md"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got["content"] != "hello world" {
		t.Errorf("content = %v", got["content"])
	}
	meta, _ := got["metadata"].(map[string]any)
	if meta["file_path"] != "/tmp/a.md" {
		t.Errorf("metadata = %v", got["metadata"])
	}
}

func TestClient_InsertFastFallsBackWithoutSupport(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if c.HasFast() {
		t.Fatal("HasFast true without SupportsFast")
	}
	if err := c.InsertFast(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if path.Load() != "/insert" {
		t.Errorf("path = %v, want /insert fallback", path.Load())
	}

	fast := newTestClient(t, srv.URL, func(cfg *ClientConfig) { cfg.SupportsFast = true })
	if err := fast.InsertFast(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if path.Load() != "/insert_fast" {
		t.Errorf("path = %v, want /insert_fast", path.Load())
	}
}

func TestClient_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if err := c.Insert(context.Background(), "x", nil); err != nil {
		t.Fatalf("Insert after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	err := c.Insert(context.Background(), "x", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestClient_CircuitOpensAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *ClientConfig) {
		cfg.RetryAttempts = 1
		cfg.CircuitThreshold = 3
		cfg.CircuitCooldown = time.Hour
	})

	for i := 0; i < 3; i++ {
		if err := c.Insert(context.Background(), "x", nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := c.GetState(); got != StateCircuitOpen {
		t.Fatalf("state = %s, want circuit_open", got)
	}

	err := c.Insert(context.Background(), "x", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req["mode"] != "hybrid" {
			t.Errorf("mode = %v, want hybrid", req["mode"])
		}
		if req["top_k"] != float64(8) {
			t.Errorf("top_k = %v, want 8", req["top_k"])
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "the answer"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	res, err := c.Query(context.Background(), "what changed?", ModeHybrid, QueryParams{TopK: 8})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Text != "the answer" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Duration <= 0 {
		t.Error("zero duration")
	}
}

func TestClient_QueryRejectsUnknownMode(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	if _, err := c.Query(context.Background(), "q", QueryMode("vector"), QueryParams{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestClient_DocStatusLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	st, err := c.DocStatusLookup(context.Background(), "doc-abc")
	if err != nil {
		t.Fatalf("DocStatusLookup: %v", err)
	}
	if st != nil {
		t.Errorf("status = %+v, want nil for unknown doc", st)
	}
}

func TestClient_ClosedClientRefuses(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	c.Close()
	if err := c.Insert(context.Background(), "x", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("err = %v, want ErrClientClosed", err)
	}
}

// --- Doc status store ------------------------------------------------

func TestDocID(t *testing.T) {
	id := DocIDForContent([]byte("hello"))
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592
	want := "doc-5d41402abc4b2a76b9719d911017c592"
	if id != want {
		t.Errorf("DocIDForContent = %s, want %s", id, want)
	}
}

func TestStatusStore(t *testing.T) {
	dir := t.TempDir()
	content := map[string]DocStatus{
		"doc-aaa": {State: DocDone, ChunksCount: 3},
		"doc-bbb": {State: DocPending},
		"doc-ccc": {State: DocDone},
	}
	data, err := json.Marshal(content)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DocStatusFile), data, 0644); err != nil {
		t.Fatal(err)
	}

	store := NewStatusStore(dir)

	st, err := store.Lookup("doc-aaa")
	if err != nil {
		t.Fatal(err)
	}
	if st == nil || st.State != DocDone || st.ChunksCount != 3 {
		t.Errorf("Lookup(doc-aaa) = %+v", st)
	}
	if st.ID != "doc-aaa" {
		t.Errorf("ID not backfilled: %+v", st)
	}

	if st, err := store.Lookup("doc-zzz"); err != nil || st != nil {
		t.Errorf("Lookup(unknown) = %+v, %v; want nil, nil", st, err)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2 (processed only)", n)
	}
}

func TestStatusStore_MissingFileIsEmpty(t *testing.T) {
	store := NewStatusStore(t.TempDir())
	ids, err := store.ProcessedIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}
