// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for patchfleet.
//
// Usage:
//
//	go run . [command] [flags]
//	./patchfleet [command] [flags]
//
// See --help for the available commands.
package main

import (
	"os"

	"github.com/toeirei/patchfleet/ui/cli"
)

func main() {
	// Cobra prints the error.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
