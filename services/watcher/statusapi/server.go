// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package statusapi serves the read-side HTTP surface of the control
// plane: per-database watcher status, alert listing and acking, and
// the Prometheus metrics endpoint.
package statusapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/hybridrag/services/watcher/ingest"
	"github.com/AleutianAI/hybridrag/services/watcher/lock"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
)

// StatsProvider reports live session stats for databases watched by
// this process. Databases watched elsewhere only get lock-derived info.
type StatsProvider interface {
	DaemonStats(db string) (ingest.StatsSnapshot, string, bool)
}

// DatabaseStatus is the per-database status payload.
type DatabaseStatus struct {
	Name             string     `json:"name"`
	Running          bool       `json:"running"`
	PID              int        `json:"pid,omitempty"`
	State            string     `json:"state,omitempty"`
	AutoWatch        bool       `json:"auto_watch"`
	WatchIntervalSec int        `json:"watch_interval_sec"`
	SourceFolder     string     `json:"source_folder,omitempty"`
	Backend          string     `json:"backend"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`

	Stats *ingest.StatsSnapshot `json:"stats,omitempty"`
}

// Server wires the read-side endpoints over the shared state.
type Server struct {
	registry *registry.Registry
	locks    *lock.Manager
	alerts   *monitor.AlertStore
	stats    StatsProvider // Optional
}

// New creates the status API server.
func New(reg *registry.Registry, locks *lock.Manager, alerts *monitor.AlertStore, stats StatsProvider) *Server {
	return &Server{registry: reg, locks: locks, alerts: alerts, stats: stats}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.handleStatusAll)
		v1.GET("/status/:db", s.handleStatusOne)
		v1.GET("/alerts", s.handleAlertList)
		v1.GET("/alerts/summary", s.handleAlertSummary)
		v1.POST("/alerts/:id/ack", s.handleAlertAck)
	}
	return router
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatusAll(c *gin.Context) {
	records := s.registry.List()
	out := make([]DatabaseStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, s.status(rec))
	}
	c.JSON(http.StatusOK, gin.H{"databases": out})
}

func (s *Server) handleStatusOne(c *gin.Context) {
	name := c.Param("db")
	rec, ok := s.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown database: " + name})
		return
	}
	c.JSON(http.StatusOK, s.status(rec))
}

func (s *Server) status(rec registry.DatabaseRecord) DatabaseStatus {
	running, pid := s.locks.IsRunning(rec.Name)
	st := DatabaseStatus{
		Name:             rec.Name,
		Running:          running,
		PID:              pid,
		AutoWatch:        rec.AutoWatch,
		WatchIntervalSec: rec.WatchIntervalSec,
		SourceFolder:     rec.SourceFolder,
		Backend:          string(rec.Backend.Type),
		LastSyncAt:       rec.LastSyncAt,
	}
	if s.stats != nil {
		if snap, state, ok := s.stats.DaemonStats(rec.Name); ok {
			st.Stats = &snap
			st.State = state
		}
	}
	return st
}

func (s *Server) handleAlertList(c *gin.Context) {
	filter := monitor.AlertFilter{
		Database:     c.Query("database"),
		Severity:     monitor.Severity(c.Query("severity")),
		IncludeAcked: c.Query("include_acked") == "true",
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.alerts.List(filter)})
}

func (s *Server) handleAlertSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.Summarize())
}

func (s *Server) handleAlertAck(c *gin.Context) {
	if err := s.alerts.Acknowledge(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": c.Param("id")})
}
