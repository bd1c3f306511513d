// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

type fakeStats struct {
	db    string
	state string
	snap  ingest.StatsSnapshot
}

func (f *fakeStats) DaemonStats(db string) (ingest.StatsSnapshot, string, bool) {
	if db != f.db {
		return ingest.StatsSnapshot{}, "", false
	}
	return f.snap, f.state, true
}

func newTestServer(t *testing.T, stats StatsProvider) (*Server, *registry.Registry, *monitor.AlertStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	reg, err := registry.Open(filepath.Join(dir, "registry.yaml"))
	require.NoError(t, err)
	require.NoError(t, reg.Register(registry.DatabaseRecord{
		Name:             "notes",
		Path:             t.TempDir(),
		SourceFolder:     dir,
		SourceType:       registry.SourceFilesystem,
		WatchIntervalSec: 30,
		AutoWatch:        true,
		Backend:          registry.Backend{Type: registry.BackendJSON},
		Thresholds:       registry.DefaultThresholds(),
	}))

	alerts, err := monitor.NewAlertStore(filepath.Join(dir, "alerts.json"), nil)
	require.NoError(t, err)

	locks := lock.NewManager(filepath.Join(dir, "pids"))
	return New(reg, locks, alerts, stats), reg, alerts
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := get(s.Router(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestServer_StatusAll(t *testing.T) {
	stats := &fakeStats{
		db:    "notes",
		state: "WATCHING",
		snap:  ingest.StatsSnapshot{Ingested: 12, Duplicates: 3},
	}
	s, _, _ := newTestServer(t, stats)

	w := get(s.Router(), "/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Databases []DatabaseStatus `json:"databases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Databases, 1)

	db := resp.Databases[0]
	assert.Equal(t, "notes", db.Name)
	assert.False(t, db.Running) // No lock held in this test
	assert.True(t, db.AutoWatch)
	assert.Equal(t, 30, db.WatchIntervalSec)
	assert.Equal(t, "json", db.Backend)
	assert.Equal(t, "WATCHING", db.State)
	require.NotNil(t, db.Stats)
	assert.Equal(t, 12, db.Stats.Ingested)
}

func TestServer_StatusOne_Unknown(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := get(s.Router(), "/v1/status/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown database")
}

func TestServer_StatusOne_RunningViaLock(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	handle, err := s.locks.Acquire("notes", 4242)
	require.NoError(t, err)
	defer handle.Release()

	w := get(s.Router(), "/v1/status/notes")
	require.Equal(t, http.StatusOK, w.Code)

	var db DatabaseStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &db))
	assert.True(t, db.Running)
	assert.NotZero(t, db.PID)
}

func TestServer_Alerts(t *testing.T) {
	s, _, alerts := newTestServer(t, nil)
	alerts.Add(monitor.AlertWatcherError, monitor.SeverityWarning, "throughput degraded", "notes", nil)
	alerts.Add(monitor.AlertIngestionFailed, monitor.SeverityError, "insert failed", "notes", nil)
	router := s.Router()

	w := get(router, "/v1/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Alerts []monitor.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Alerts, 2)

	// Severity filter narrows the list.
	w = get(router, "/v1/alerts?severity=error")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Alerts, 1)
	assert.Equal(t, monitor.SeverityError, listResp.Alerts[0].Severity)

	w = get(router, "/v1/alerts/summary")
	var sum monitor.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Warning)

	// Ack one, then verify it drops out of the default listing.
	id := listResp.Alerts[0].ID
	w = httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/alerts/"+id+"/ack", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = get(router, "/v1/alerts")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Alerts, 1)
}

func TestServer_AckUnknownAlert(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/alerts/bogus/ack", nil)
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := get(s.Router(), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
