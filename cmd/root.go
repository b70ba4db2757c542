// Package cmd implements the quarry command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Permission-aware retrieval engine for an internal knowledge base",
	Long: `Quarry indexes an internal document tree into a hybrid (vector +
full-text) store and answers natural-language queries with passages the
caller is cleared to see, optionally synthesized into a short answer.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment switches to
// debug level; logs go to stderr.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
