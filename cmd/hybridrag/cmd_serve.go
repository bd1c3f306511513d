// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/mcp"
	"github.com/AleutianAI/hybridrag/services/watcher/statusapi"
)

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp("statusapi", true)
	if err != nil {
		return err
	}
	defer a.Close()

	ux.PrintInfo("status API listening on %s", serveAddr)
	srv := statusapi.New(a.registry, a.locks, a.alerts, nil)
	return srv.Run(serveAddr)
}

func runMCP(cmd *cobra.Command, args []string) error {
	// Stdout carries the protocol; all logging goes to the file only.
	a, err := newApp("mcp", true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewServer(mcp.Config{
		Registry:  a.registry,
		Locks:     a.locks,
		StateRoot: a.stateRoot,
		NewEngine: a.newEngine,
		Logger:    a.logger,
	})
	return srv.ServeStdio()
}
