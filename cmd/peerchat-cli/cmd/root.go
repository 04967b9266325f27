package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peerchat-cli",
	Short: "peerchat CLI tool",
	Long: `peerchat-cli is a command-line companion for a peerchat server.

Available commands:
  token      Mint a bearer token for a user
  chat       Open an interactive chat session
  topics     Inspect the bus topics the server publishes

Use "peerchat-cli [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
