// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// LoadLevel classifies the current system pressure.
type LoadLevel string

const (
	// LoadNormal allows full batch sizes.
	LoadNormal LoadLevel = "normal"

	// LoadHigh reduces batch sizes.
	LoadHigh LoadLevel = "high"

	// LoadCritical pauses batching entirely.
	LoadCritical LoadLevel = "critical"
)

// LoadSample is one CPU/memory reading with its classification.
type LoadSample struct {
	CPUPct float64   `json:"cpu_pct"`
	MemPct float64   `json:"mem_pct"`
	Level  LoadLevel `json:"level"`
	At     time.Time `json:"at"`
}

// SampleFunc supplies one CPU/memory reading. The live implementation
// uses gopsutil; callers may substitute canned readings.
type SampleFunc func(ctx context.Context) (cpuPct, memPct float64, err error)

// LoadMonitor classifies system load against a database's thresholds.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state beyond the
// injected sampler.
type LoadMonitor struct {
	thresholds registry.Thresholds
	sample     SampleFunc
}

// NewLoadMonitor creates a monitor using live gopsutil readings.
func NewLoadMonitor(thresholds registry.Thresholds) *LoadMonitor {
	return &LoadMonitor{
		thresholds: thresholds,
		sample:     liveSample,
	}
}

// NewLoadMonitorWithSampler creates a monitor over a custom sampler.
func NewLoadMonitorWithSampler(thresholds registry.Thresholds, sample SampleFunc) *LoadMonitor {
	return &LoadMonitor{thresholds: thresholds, sample: sample}
}

// Check samples CPU and memory and classifies the result.
//
// Sampling failures degrade to LoadNormal rather than stalling
// ingestion; the error is returned for logging.
func (m *LoadMonitor) Check(ctx context.Context) (LoadSample, error) {
	cpuPct, memPct, err := m.sample(ctx)
	sample := LoadSample{CPUPct: cpuPct, MemPct: memPct, At: time.Now().UTC()}
	if err != nil {
		sample.Level = LoadNormal
		return sample, err
	}
	sample.Level = m.classify(cpuPct, memPct)
	return sample, nil
}

func (m *LoadMonitor) classify(cpuPct, memPct float64) LoadLevel {
	t := m.thresholds
	switch {
	case cpuPct >= t.CriticalCPUPct || memPct >= t.CriticalMemPct:
		return LoadCritical
	case cpuPct >= t.HighCPUPct || memPct >= t.HighMemPct:
		return LoadHigh
	default:
		return LoadNormal
	}
}

// liveSample reads CPU (short interval) and virtual memory via gopsutil.
func liveSample(ctx context.Context) (float64, float64, error) {
	cpuPcts, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(cpuPcts) > 0 {
		cpuPct = cpuPcts[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}
