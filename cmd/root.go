// Package cmd contains the CLI commands for the assistant.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Abhi-Verma2005/oms-assistant/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "oms-assistant",
	Short: "Per-user retrieval pipeline for an embedded AI assistant",
	Long: `oms-assistant answers user questions grounded in facts remembered from
their past conversations: a pgvector-backed knowledge store, a semantic
response cache, and a background learner that extracts durable facts
from completed turns.

Run "oms-assistant serve" to expose the HTTP API, or "oms-assistant chat"
for a one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process-wide structured logger.
// DEBUG in the environment switches on debug-level output.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	// stderr keeps stdout clean for command output
	return log.New(cfg)
}
