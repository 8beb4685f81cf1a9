// Ngao — sandboxed shell execution gateway over MCP stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ngao",
	Short: "Ngao — sandboxed shell execution gateway over MCP stdio.",
	Long: `Ngao is a local command-execution gateway speaking MCP over stdio.
Every command runs inside a configured safe root with enforced timeouts,
streamed progress, background tasks that survive restarts, and file tools
that cannot escape the sandbox.`,
	RunE:          runServe, // Default to serving on stdio.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
