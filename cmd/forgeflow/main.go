// ABOUTME: Main CLI application for the Forgeflow execution core
// ABOUTME: Entry point for the Cobra-based command-line interface

package main

import (
	"os"

	"github.com/forgeflow/core/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
