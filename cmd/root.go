// Package cmd implements the parley CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley - streaming mediation server between chat clients and a tool-using agent",
	Long: `parley sits between a chat client and a streaming, tool-using agent.
It relays agent output over SSE with keep-alive protection, reconstructs
conversation history from the append-only event log, and manages session
lifecycle in local (in-memory) or managed (PostgreSQL) mode.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
