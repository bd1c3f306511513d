// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hybridrag/pkg/ux"
	"github.com/AleutianAI/hybridrag/services/watcher/monitor"
)

func runAlertsList(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	alerts := a.alerts.List(monitor.AlertFilter{
		Database:     alertsDatabase,
		Severity:     monitor.Severity(alertsSeverity),
		IncludeAcked: alertsAll,
	})
	if len(alerts) == 0 {
		ux.PrintInfo("no alerts")
		return nil
	}

	rows := make([][]string, 0, len(alerts))
	for _, alert := range alerts {
		acked := ""
		if alert.Acknowledged {
			acked = "acked"
		}
		rows = append(rows, []string{
			alert.ID,
			alert.Timestamp.Local().Format(time.DateTime),
			string(alert.Severity),
			alert.Database,
			alert.Message,
			acked,
		})
	}
	fmt.Print(ux.Table([]string{"ID", "TIME", "SEVERITY", "DATABASE", "MESSAGE", ""}, rows))
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.alerts.Acknowledge(args[0]); err != nil {
		return usageErrorf("%v", err)
	}
	ux.PrintSuccess("acknowledged %s", args[0])
	return nil
}

func runAlertsAckAll(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.alerts.AcknowledgeAll(alertsDatabase)
	if err != nil {
		return err
	}
	ux.PrintSuccess("acknowledged %d alerts", n)
	return nil
}

func runAlertsClear(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli", false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.alerts.ClearOlderThan(alertsOlderThan)
	if err != nil {
		return err
	}
	ux.PrintSuccess("cleared %d alerts older than %d days", n, alertsOlderThan)
	return nil
}
