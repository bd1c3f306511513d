// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitor provides the watcher's self-observation surfaces:
// the persistent alert store, the performance tracker, the system load
// monitor, and the JSON storage-size monitor. The ingestion engine
// consumes load levels for throttling; the dashboard and CLI consume
// the rest.
package monitor

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Severity is the alert severity scale.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Known alert types emitted by the watcher.
const (
	AlertIngestionFailed = "ingestion_failed"
	AlertWatcherError    = "watcher_error"
	AlertStorageSize     = "storage_size"
)

// Alert is one persisted alert entry.
type Alert struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message"`
	Database     string            `json:"database,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Details      map[string]string `json:"details,omitempty"`
	Acknowledged bool              `json:"acknowledged"`
}

// alertID derives the deterministic alert id from (type,
// second-truncated timestamp, message hash) so re-emission of the same
// alert within a second coalesces to the same id.
func alertID(alertType string, ts time.Time, message string) string {
	h := fnv.New32a()
	h.Write([]byte(message))
	return fmt.Sprintf("%s-%d-%08x", alertType, ts.Unix(), h.Sum32())
}

// maxAlerts caps the persisted alert file; oldest entries are evicted.
const maxAlerts = 1000

// alertsFile is the on-disk schema: {"alerts": [...]} oldest first.
type alertsFile struct {
	Alerts []Alert `json:"alerts"`
}

// AlertFilter narrows List results.
type AlertFilter struct {
	Database     string
	Severity     Severity
	IncludeAcked bool
}

// Summary is the per-severity alert count.
type Summary struct {
	Critical int `json:"critical"`
	Error    int `json:"error"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// AlertStore is the persistent, capped alert log.
//
// # Persistence
//
// Append-and-rewrite JSON file, atomic via temp + rename. Thread-safe
// within a process; cross-process interleaving is permitted and may
// lose the oldest entries under heavy contention.
type AlertStore struct {
	path     string
	notifier *Notifier

	mu     sync.Mutex
	alerts []Alert // Oldest first
}

// NewAlertStore loads (or creates) the alert store at path.
func NewAlertStore(path string, notifier *Notifier) (*AlertStore, error) {
	s := &AlertStore{path: path, notifier: notifier}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading alerts file %s: %w", path, err)
	}
	var file alertsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing alerts file %s: %w", path, err)
	}
	s.alerts = file.Alerts
	return s, nil
}

// Add records an alert, evicting the oldest entry past the cap, and
// fans it out to the notifier sinks.
func (s *AlertStore) Add(alertType string, severity Severity, message, database string, details map[string]string) Alert {
	now := time.Now().UTC()
	alert := Alert{
		ID:        alertID(alertType, now, message),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Database:  database,
		Timestamp: now,
		Details:   details,
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > maxAlerts {
		s.alerts = append([]Alert(nil), s.alerts[len(s.alerts)-maxAlerts:]...)
	}
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		// An unpersisted alert is still delivered to sinks.
		fmt.Fprintf(os.Stderr, "warning: could not persist alert: %v\n", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(alert)
	}
	return alert
}

// List returns alerts matching the filter, oldest first.
// Unacknowledged alerts only, unless IncludeAcked is set.
func (s *AlertStore) List(filter AlertFilter) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for _, a := range s.alerts {
		if !filter.IncludeAcked && a.Acknowledged {
			continue
		}
		if filter.Database != "" && a.Database != filter.Database {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Acknowledge marks one alert acknowledged by id.
func (s *AlertStore) Acknowledge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			return s.persistLocked()
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

// AcknowledgeAll marks all alerts (optionally for one database)
// acknowledged. Returns the number of alerts changed.
func (s *AlertStore) AcknowledgeAll(database string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.alerts {
		if s.alerts[i].Acknowledged {
			continue
		}
		if database != "" && s.alerts[i].Database != database {
			continue
		}
		s.alerts[i].Acknowledged = true
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.persistLocked()
}

// ClearOlderThan drops alerts older than the given number of days.
// Returns the number of alerts removed.
func (s *AlertStore) ClearOlderThan(days int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	s.alerts = append([]Alert(nil), kept...)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

// Summarize counts alerts per severity (unacknowledged only).
func (s *AlertStore) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, a := range s.alerts {
		if a.Acknowledged {
			continue
		}
		switch a.Severity {
		case SeverityCritical:
			sum.Critical++
		case SeverityError:
			sum.Error++
		case SeverityWarning:
			sum.Warning++
		case SeverityInfo:
			sum.Info++
		}
		sum.Total++
	}
	return sum
}

// persistLocked rewrites the alert file atomically. Caller holds mu.
func (s *AlertStore) persistLocked() error {
	data, err := json.MarshalIndent(alertsFile{Alerts: s.alerts}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".alerts-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
