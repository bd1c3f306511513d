// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine defines the contract between the watcher and the RAG
// engine process, plus a resilient HTTP client implementation with
// circuit breaker, retry with backoff, and request rate limiting.
package engine

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEngineUnavailable is returned when the engine is not reachable.
	ErrEngineUnavailable = errors.New("rag engine is not available")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open, engine requests blocked")

	// ErrQueryTimeout is returned when a query exceeds its deadline.
	ErrQueryTimeout = errors.New("engine query timeout")

	// ErrClientClosed is returned when operations are called on a closed client.
	ErrClientClosed = errors.New("engine client is closed")
)

// -----------------------------------------------------------------------------
// Query types
// -----------------------------------------------------------------------------

// QueryMode selects the retrieval strategy.
type QueryMode string

const (
	// ModeLocal retrieves entity-centric context around matched nodes.
	ModeLocal QueryMode = "local"

	// ModeGlobal retrieves community-level summaries.
	ModeGlobal QueryMode = "global"

	// ModeHybrid combines local and global retrieval.
	ModeHybrid QueryMode = "hybrid"

	// ModeNaive runs plain vector similarity over chunks.
	ModeNaive QueryMode = "naive"

	// ModeMix interleaves graph and vector retrieval.
	ModeMix QueryMode = "mix"
)

// Valid reports whether the mode is one of the known variants.
func (m QueryMode) Valid() bool {
	switch m {
	case ModeLocal, ModeGlobal, ModeHybrid, ModeNaive, ModeMix:
		return true
	}
	return false
}

// QueryParams tunes a single query.
type QueryParams struct {
	// TopK bounds the number of retrieved items (0 = engine default).
	TopK int `json:"top_k,omitempty"`

	// OnlyContext returns retrieved context without synthesis.
	OnlyContext bool `json:"only_need_context,omitempty"`

	// ResponseType hints the answer shape ("Multiple Paragraphs" etc).
	ResponseType string `json:"response_type,omitempty"`
}

// QueryResult is the engine's answer to one query.
type QueryResult struct {
	Text     string        `json:"text"`
	Duration time.Duration `json:"duration"`
}

// -----------------------------------------------------------------------------
// Document status
// -----------------------------------------------------------------------------

// DocState is the engine's processing state for one document.
type DocState string

const (
	DocPending    DocState = "pending"
	DocProcessing DocState = "processing"
	DocDone       DocState = "done"
	DocFailed     DocState = "failed"
)

// DocStatus is one entry in the engine's document status store, keyed
// by "doc-<md5>".
type DocStatus struct {
	ID            string    `json:"id"`
	State         DocState  `json:"status"`
	ChunksCount   int       `json:"chunks_count"`
	ContentLength int       `json:"content_length"`
	FilePath      string    `json:"file_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// Engine contract
// -----------------------------------------------------------------------------

// Engine is the watcher's view of the RAG engine.
//
// Implementations must be safe for concurrent use; the batch loop and
// the query surfaces share one instance per database.
type Engine interface {
	// Insert ingests one document through the full pipeline (chunking,
	// entity extraction, graph merge).
	Insert(ctx context.Context, content string, meta map[string]string) error

	// InsertFast ingests with deferred enrichment: chunks and vectors
	// now, graph extraction later via the enrichment worker.
	InsertFast(ctx context.Context, content string, meta map[string]string) error

	// HasFast reports whether the engine supports InsertFast. When
	// false, callers fall back to Insert.
	HasFast() bool

	// Query runs one retrieval in the given mode.
	Query(ctx context.Context, text string, mode QueryMode, params QueryParams) (QueryResult, error)

	// DocumentCount returns the number of processed documents.
	DocumentCount(ctx context.Context) (int, error)

	// DocStatusLookup returns the status entry for "doc-<md5>", or
	// (nil, nil) when the document is unknown.
	DocStatusLookup(ctx context.Context, docID string) (*DocStatus, error)

	// Close releases engine resources.
	Close() error
}
