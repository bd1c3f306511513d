// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry exposes Prometheus metrics for the ingestion
// control plane. Metrics are registered on the default registry and
// served by the status API's /metrics endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Ingestion
// =============================================================================

var (
	// filesIngested counts successful inserts.
	// Labels: database, mode (batch, watch, enrichment)
	filesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridrag",
		Subsystem: "ingest",
		Name:      "files_total",
		Help:      "Total files ingested successfully",
	}, []string{"database", "mode"})

	// duplicatesSkipped counts content-hash dedup hits.
	// Labels: database
	duplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridrag",
		Subsystem: "ingest",
		Name:      "duplicates_total",
		Help:      "Total files skipped as duplicate content",
	}, []string{"database"})

	// ingestErrors counts per-file processing failures.
	// Labels: database
	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridrag",
		Subsystem: "ingest",
		Name:      "errors_total",
		Help:      "Total per-file processing failures",
	}, []string{"database"})

	// batchSize tracks the load-adaptive batch size chosen per cycle.
	// Labels: database
	batchSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hybridrag",
		Subsystem: "ingest",
		Name:      "batch_size",
		Help:      "Current load-adaptive batch size",
	}, []string{"database"})

	// insertDuration measures one engine insert round-trip.
	// Labels: database, fast (true when insert_fast was used)
	insertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hybridrag",
		Subsystem: "ingest",
		Name:      "insert_duration_seconds",
		Help:      "Engine insert latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"database", "fast"})

	// queryDuration measures one engine query round-trip.
	// Labels: database, query_mode
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hybridrag",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Engine query latency in seconds",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"database", "query_mode"})

	// watcherState reports the daemon state machine as a gauge.
	// Labels: database, state
	watcherState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hybridrag",
		Subsystem: "watcher",
		Name:      "state",
		Help:      "Daemon state (1 for the active state, 0 otherwise)",
	}, []string{"database", "state"})

	// alertsRaised counts alerts by type and severity.
	// Labels: type, severity
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybridrag",
		Subsystem: "alerts",
		Name:      "raised_total",
		Help:      "Total alerts raised",
	}, []string{"type", "severity"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordIngested records one successful insert.
func RecordIngested(database, mode string) {
	filesIngested.WithLabelValues(database, mode).Inc()
}

// RecordDuplicate records one dedup skip.
func RecordDuplicate(database string) {
	duplicatesSkipped.WithLabelValues(database).Inc()
}

// RecordError records one per-file processing failure.
func RecordError(database string) {
	ingestErrors.WithLabelValues(database).Inc()
}

// RecordBatchSize records the batch size chosen at a batch boundary.
func RecordBatchSize(database string, size int) {
	batchSize.WithLabelValues(database).Set(float64(size))
}

// RecordInsertDuration records one engine insert latency.
func RecordInsertDuration(database string, fast bool, durationSec float64) {
	label := "false"
	if fast {
		label = "true"
	}
	insertDuration.WithLabelValues(database, label).Observe(durationSec)
}

// RecordQueryDuration records one engine query latency.
func RecordQueryDuration(database, queryMode string, durationSec float64) {
	queryDuration.WithLabelValues(database, queryMode).Observe(durationSec)
}

// SetWatcherState marks the daemon's current state, clearing the rest.
func SetWatcherState(database, state string, known []string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1.0
		}
		watcherState.WithLabelValues(database, s).Set(v)
	}
}

// RecordAlert counts one raised alert.
func RecordAlert(alertType, severity string) {
	alertsRaised.WithLabelValues(alertType, severity).Inc()
}
