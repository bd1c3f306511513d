// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"fmt"
	"time"
)

// Performance tracker defaults.
const (
	perfWindowSize   = 20
	perfBaselineMin  = 5 // Samples before the baseline is fixed
	perfRecentWindow = 3 // Samples averaged for the current rate
	perfWarnCooldown = 5 // Ingest cycles between warnings
)

// PerfWarning describes a detected throughput regression.
type PerfWarning struct {
	BaselineDocsPerMin float64
	CurrentDocsPerMin  float64
	DegradationPct     float64 // Fraction 0-1
	ThresholdPct       float64

	// Recommendation is operator-facing text embedded in the alert.
	Recommendation string
}

// String renders the warning for logs and alert messages.
func (w PerfWarning) String() string {
	return fmt.Sprintf("ingestion rate dropped %.0f%% below baseline (%.1f -> %.1f docs/min)",
		w.DegradationPct*100, w.BaselineDocsPerMin, w.CurrentDocsPerMin)
}

// PerfTracker watches ingestion throughput for one database.
//
// # Algorithm
//
// Each sample is converted to docs/minute and pushed into a bounded
// window (20). Once at least 5 samples exist, the baseline is fixed to
// the window mean. Afterwards, whenever the mean of the last 3 samples
// falls below baseline by at least the threshold fraction, one warning
// is returned and a 5-cycle cooldown starts.
//
// # Thread Safety
//
// NOT safe for concurrent use; the ingestion loop owns it.
type PerfTracker struct {
	window       *ringBuffer[float64]
	thresholdPct float64

	baseline     float64
	baselineSet  bool
	cyclesSince  int
	warnedBefore bool
}

// NewPerfTracker creates a tracker with the given degradation
// threshold (fraction, e.g. 0.5 for 50%).
func NewPerfTracker(thresholdPct float64) *PerfTracker {
	if thresholdPct <= 0 {
		thresholdPct = 0.5
	}
	return &PerfTracker{
		window:       newRingBuffer[float64](perfWindowSize),
		thresholdPct: thresholdPct,
	}
}

// Record pushes one (docs, duration) sample and returns a warning if a
// regression crossed the threshold and the cooldown allows it.
func (t *PerfTracker) Record(docs int, duration time.Duration) *PerfWarning {
	if docs <= 0 || duration <= 0 {
		return nil
	}
	rate := float64(docs) / duration.Minutes()
	t.window.Push(rate)
	t.cyclesSince++

	if !t.baselineSet {
		if t.window.Len() >= perfBaselineMin {
			t.baseline = mean(t.window.Slice())
			t.baselineSet = true
			t.cyclesSince = 0
		}
		return nil
	}

	if t.window.Len() < perfRecentWindow {
		return nil
	}
	if t.warnedBefore && t.cyclesSince < perfWarnCooldown {
		return nil
	}

	current := mean(t.window.Last(perfRecentWindow))
	if t.baseline <= 0 {
		return nil
	}
	degradation := (t.baseline - current) / t.baseline
	if degradation < t.thresholdPct {
		return nil
	}

	t.warnedBefore = true
	t.cyclesSince = 0
	return &PerfWarning{
		BaselineDocsPerMin: t.baseline,
		CurrentDocsPerMin:  current,
		DegradationPct:     degradation,
		ThresholdPct:       t.thresholdPct,
		Recommendation: "check system load and engine latency; consider " +
			"reducing batch size or migrating to the postgres backend",
	}
}

// Baseline returns the fixed baseline rate (0 until established).
func (t *PerfTracker) Baseline() float64 {
	if !t.baselineSet {
		return 0
	}
	return t.baseline
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
