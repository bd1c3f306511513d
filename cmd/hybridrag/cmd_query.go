// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hybridrag/services/watcher/engine"
	"github.com/AleutianAI/hybridrag/services/watcher/registry"
	"github.com/AleutianAI/hybridrag/services/watcher/telemetry"
)

func runQuery(cmd *cobra.Command, args []string) error {
	mode := engine.QueryMode(queryMode)
	if !mode.Valid() {
		return usageErrorf("invalid query mode %q", queryMode)
	}

	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	var rec registry.DatabaseRecord
	if queryDatabase != "" {
		rec, err = a.record(queryDatabase)
		if err != nil {
			return err
		}
	} else {
		records := a.registry.List()
		switch len(records) {
		case 0:
			return usageErrorf("no databases registered")
		case 1:
			rec = records[0]
		default:
			return usageErrorf("multiple databases registered; pass --database")
		}
	}

	eng, err := a.newEngine(rec)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Query(ctx, strings.Join(args, " "), mode, engine.QueryParams{
		TopK:        queryTopK,
		OnlyContext: queryOnlyContext,
	})
	if err != nil {
		return err
	}
	telemetry.RecordQueryDuration(rec.Name, string(mode), result.Duration.Seconds())
	fmt.Println(result.Text)
	return nil
}
