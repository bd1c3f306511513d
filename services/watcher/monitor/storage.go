// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

const mib = 1024 * 1024

// StorageReport is one size sweep over a database's JSON store files.
type StorageReport struct {
	TotalBytes int64            `json:"total_bytes"`
	Files      map[string]int64 `json:"files"`

	// Findings are alert-shaped observations, advisory only. Size
	// findings never halt ingestion.
	Findings []StorageFinding `json:"findings,omitempty"`
}

// StorageFinding is one threshold crossing detected by a sweep.
type StorageFinding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
}

// StorageMonitor watches JSON store file sizes for one database.
//
// Only meaningful for the json backend; postgres databases skip these
// sweeps entirely.
type StorageMonitor struct {
	dbPath     string
	thresholds registry.Thresholds
}

// NewStorageMonitor creates a monitor over the database's path.
func NewStorageMonitor(dbPath string, thresholds registry.Thresholds) *StorageMonitor {
	return &StorageMonitor{dbPath: dbPath, thresholds: thresholds}
}

// Sweep measures every top-level *.json file under the database path
// and reports threshold crossings.
//
// A single file at or above FileWarnMB yields a warning. The total at
// or above TotalWarnMB yields a warning, escalating to error at 1.5x.
func (m *StorageMonitor) Sweep() (StorageReport, error) {
	report := StorageReport{Files: map[string]int64{}}

	entries, err := os.ReadDir(m.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("reading database path %s: %w", m.dbPath, err)
	}

	fileWarn := int64(m.thresholds.FileWarnMB) * mib
	totalWarn := int64(m.thresholds.TotalWarnMB) * mib
	totalError := totalWarn + totalWarn/2

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size := info.Size()
		report.Files[entry.Name()] = size
		report.TotalBytes += size

		if fileWarn > 0 && size >= fileWarn {
			report.Findings = append(report.Findings, StorageFinding{
				Severity: SeverityWarning,
				File:     entry.Name(),
				Message: fmt.Sprintf("store file %s is %d MiB (threshold %d MiB); consider the postgres backend",
					entry.Name(), size/mib, m.thresholds.FileWarnMB),
			})
		}
	}

	switch {
	case totalWarn > 0 && report.TotalBytes >= totalError:
		report.Findings = append(report.Findings, StorageFinding{
			Severity: SeverityError,
			Message: fmt.Sprintf("total store size is %d MiB, over 1.5x the %d MiB threshold; migrate to the postgres backend",
				report.TotalBytes/mib, m.thresholds.TotalWarnMB),
		})
	case totalWarn > 0 && report.TotalBytes >= totalWarn:
		report.Findings = append(report.Findings, StorageFinding{
			Severity: SeverityWarning,
			Message: fmt.Sprintf("total store size is %d MiB (threshold %d MiB)",
				report.TotalBytes/mib, m.thresholds.TotalWarnMB),
		})
	}
	return report, nil
}

// Record pushes findings from a sweep into the alert store, keyed to
// the database name. Returns the number of alerts raised.
func (m *StorageMonitor) Record(store *AlertStore, database string, report StorageReport) int {
	for _, f := range report.Findings {
		details := map[string]string{"total_bytes": fmt.Sprintf("%d", report.TotalBytes)}
		if f.File != "" {
			details["file"] = filepath.Join(m.dbPath, f.File)
		}
		store.Add(AlertStorageSize, f.Severity, f.Message, database, details)
	}
	return len(report.Findings)
}
