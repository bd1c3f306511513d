// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/AleutianAI/hybridrag/pkg/logging"
)

// Sink receives alerts from the Notifier fan-out.
//
// Implementations must be best-effort: a sink never raises to the
// caller and must not block the ingestion loop.
type Sink interface {
	Deliver(alert Alert)
}

// Notifier fans alerts out to a list of sinks.
type Notifier struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewNotifier creates a notifier with the given sinks.
func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Register appends a sink.
func (n *Notifier) Register(sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, sink)
}

// Notify delivers the alert to every sink. Panicking sinks are
// contained so one bad sink cannot take down the watcher.
func (n *Notifier) Notify(alert Alert) {
	n.mu.Lock()
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.Unlock()

	for _, sink := range sinks {
		func() {
			defer func() { _ = recover() }()
			sink.Deliver(alert)
		}()
	}
}

// LogSink writes alerts to the structured log. Always present.
type LogSink struct {
	Logger *logging.Logger
}

func (s *LogSink) Deliver(alert Alert) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Default()
	}
	switch alert.Severity {
	case SeverityCritical, SeverityError:
		logger.Error("alert", "type", alert.Type, "database", alert.Database, "message", alert.Message)
	case SeverityWarning:
		logger.Warn("alert", "type", alert.Type, "database", alert.Database, "message", alert.Message)
	default:
		logger.Info("alert", "type", alert.Type, "database", alert.Database, "message", alert.Message)
	}
}

// DesktopSink posts a desktop notification where a notifier binary is
// available (notify-send on Linux, osascript on macOS). Best-effort;
// failures are ignored.
type DesktopSink struct{}

func (s *DesktopSink) Deliver(alert Alert) {
	title := "HybridRAG: " + alert.Type
	switch runtime.GOOS {
	case "linux":
		_ = exec.Command("notify-send", title, alert.Message).Run()
	case "darwin":
		script := `display notification "` + appleScriptQuote(alert.Message) +
			`" with title "` + appleScriptQuote(title) + `"`
		_ = exec.Command("osascript", "-e", script).Run()
	}
}

// appleScriptQuote escapes a value for an AppleScript double-quoted
// string literal. Alert messages carry arbitrary file paths and error
// text, which must not break out of the literal.
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
