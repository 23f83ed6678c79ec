// Package main is the entry point for the tree-estimator CLI.
package main

import (
	"os"

	"tree-estimator/cmd/cli/cmd"
	"tree-estimator/internal/logging"
)

func main() {
	err := cmd.Execute()
	logging.Sync()
	if err != nil {
		cmd.PrintError(os.Stderr, err)
		os.Exit(cmd.ExitCode(err))
	}
}
