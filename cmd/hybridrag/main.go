// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/AleutianAI/hybridrag/pkg/ux"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		ux.PrintError("%v", err)
	}
	os.Exit(exitCode(err))
}
