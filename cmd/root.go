package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/workspacekit/workspace-cli/internal/logging"
)

// rootCmd represents the base command for the workspace-cli application
var rootCmd = &cobra.Command{
	Use:   "workspace-cli",
	Short: "Authenticated, rate-limited access to Google Workspace APIs",
	Long: `workspace-cli drives Google Workspace APIs (Gmail, Drive, Calendar, Docs,
Sheets, Slides, Tasks) through a shared execution layer: OAuth token
lifecycle across multiple accounts, per-service rate limiting, retries
with backoff, and batch requests.

It can run as:
  - A standalone CLI tool (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

var debugMode bool

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "workspace-cli version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := "info"
		if debugMode {
			level = "debug"
		}
		slog.SetDefault(logging.New(os.Stderr, level))
	}

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServicesCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "workspace-cli version %s\n", version)
		},
	}
}
