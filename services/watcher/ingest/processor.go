// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/hybridrag/pkg/logging"
	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
)

// StatsSnapshot is a point-in-time copy of the session counters.
type StatsSnapshot struct {
	Ingested   int       `json:"ingested"`
	Duplicates int       `json:"duplicates_skipped"`
	Errors     int       `json:"errors"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// SessionStats counts one daemon session's outcomes.
//
// Thread Safety: guarded by an internal mutex so the status API can
// read while the loop writes.
type SessionStats struct {
	mu        sync.Mutex
	snap      StatsSnapshot
	StartedAt time.Time
}

// Snapshot returns a copy for reporting.
func (s *SessionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.StartedAt = s.StartedAt
	return out
}

func (s *SessionStats) addIngested() {
	s.mu.Lock()
	s.snap.Ingested++
	s.mu.Unlock()
}

func (s *SessionStats) addDuplicate() {
	s.mu.Lock()
	s.snap.Duplicates++
	s.mu.Unlock()
}

func (s *SessionStats) addError(msg string) {
	s.mu.Lock()
	s.snap.Errors++
	s.snap.LastError = msg
	s.mu.Unlock()
}

// FileOutcome classifies one process_file call.
type FileOutcome int

const (
	OutcomeIngested FileOutcome = iota
	OutcomeDuplicate
	OutcomeSkippedEmpty
	OutcomeError
)

// Processor runs the shared per-file ingestion path.
//
// One instance per daemon session; owned by the single ingestion loop.
type Processor struct {
	db       string
	eng      engine.Engine
	dedup    *BoundedSet
	fpcache  *FingerprintCache // Optional
	enrichQ  *ListFile         // Appended on insert_fast
	useFast  bool
	stats    *SessionStats
	alerts   *monitor.AlertStore
	logger   *logging.Logger
	observer func(outcome FileOutcome) // Optional metrics hook
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Database string
	Engine   engine.Engine
	Dedup    *BoundedSet
	FPCache  *FingerprintCache
	EnrichQ  *ListFile
	UseFast  bool
	Stats    *SessionStats
	Alerts   *monitor.AlertStore
	Logger   *logging.Logger
	Observer func(outcome FileOutcome)
}

// NewProcessor creates the shared file processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Dedup == nil {
		cfg.Dedup = NewBoundedSet(maxFingerprints)
	}
	if cfg.Stats == nil {
		cfg.Stats = &SessionStats{StartedAt: time.Now().UTC()}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Processor{
		db:       cfg.Database,
		eng:      cfg.Engine,
		dedup:    cfg.Dedup,
		fpcache:  cfg.FPCache,
		enrichQ:  cfg.EnrichQ,
		useFast:  cfg.UseFast && cfg.Engine.HasFast(),
		stats:    cfg.Stats,
		alerts:   cfg.Alerts,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Stats exposes the session counters.
func (p *Processor) Stats() *SessionStats { return p.stats }

// ProcessFile runs the shared ingestion path for one file.
//
// Unreadable files and engine failures count as errors; empty content
// and duplicate content are skips. The loop always continues.
func (p *Processor) ProcessFile(ctx context.Context, path string) FileOutcome {
	outcome := p.processFile(ctx, path)
	if p.observer != nil {
		p.observer(outcome)
	}
	return outcome
}

func (p *Processor) processFile(ctx context.Context, path string) FileOutcome {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		p.fail(path, fmt.Sprintf("not a readable regular file: %v", err))
		return OutcomeError
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		p.fail(path, fmt.Sprintf("read failed: %v", err))
		return OutcomeError
	}
	content := lossyUTF8(raw)
	if strings.TrimSpace(content) == "" {
		p.logger.Debug("skipping empty file", "path", path)
		return OutcomeSkippedEmpty
	}

	fp := Fingerprint([]byte(content))
	if p.isDuplicate(fp) {
		p.stats.addDuplicate()
		p.logger.Debug("duplicate content skipped", "path", path, "fingerprint", fp)
		return OutcomeDuplicate
	}

	meta := map[string]string{"file_path": path}
	if p.useFast {
		err = p.eng.InsertFast(ctx, content, meta)
	} else {
		err = p.eng.Insert(ctx, content, meta)
	}
	if err != nil {
		p.fail(path, fmt.Sprintf("insert failed: %v", err))
		return OutcomeError
	}

	if p.useFast && p.enrichQ != nil {
		if err := p.enrichQ.Append(path); err != nil {
			p.logger.Warn("could not queue for enrichment", "path", path, "error", err)
		}
	}

	p.remember(fp)
	p.stats.addIngested()
	p.logger.Info("ingested", "path", path, "database", p.db, "fast", p.useFast)
	return OutcomeIngested
}

func (p *Processor) isDuplicate(fp string) bool {
	if p.dedup.Contains(fp) {
		return true
	}
	if p.fpcache != nil {
		if ok, err := p.fpcache.Contains(fp); err == nil && ok {
			p.dedup.Add(fp)
			return true
		}
	}
	return false
}

func (p *Processor) remember(fp string) {
	p.dedup.Add(fp)
	if p.fpcache != nil {
		if err := p.fpcache.Add(fp); err != nil {
			p.logger.Warn("fingerprint cache write failed", "error", err)
		}
	}
}

func (p *Processor) fail(path, msg string) {
	p.stats.addError(msg)
	p.logger.Error("file processing failed", "path", path, "database", p.db, "error", msg)
	if p.alerts != nil {
		p.alerts.Add(monitor.AlertIngestionFailed, monitor.SeverityError, msg, p.db,
			map[string]string{"file": path})
	}
}

// lossyUTF8 decodes bytes as UTF-8, replacing invalid sequences.
func lossyUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
