package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/workspacekit/workspace-cli/internal/instrumentation"
	"github.com/workspacekit/workspace-cli/internal/server"
	"github.com/workspacekit/workspace-cli/internal/tools/workspace_tools"
)

func newServeCmd() *cobra.Command {
	var yolo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server over stdio to provide
Google Workspace tools for AI assistants.

Safety Mode:
  By default, the server operates in read-only mode, providing only GET
  requests. Use --yolo to enable write operations (email sending, file
  deletion, etc.)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), yolo)
		},
	}

	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable write operations (default: read-only)")
	return cmd
}

func runServe(ctx context.Context, yolo bool) error {
	instrProvider, err := instrumentation.NewProvider(ctx,
		instrumentation.ConfigFromEnv("workspace-cli", version))
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() {
		if err := instrProvider.Shutdown(context.Background()); err != nil {
			slog.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	rt, err := server.NewRuntime(ctx, server.Options{
		Logger:  slog.Default(),
		Metrics: instrProvider.Metrics(),
	})
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	mcpSrv := mcpserver.NewMCPServer("workspace-cli", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := workspace_tools.RegisterWorkspaceTools(mcpSrv, rt, !yolo); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	if !yolo {
		slog.Info("MCP server starting in read-only mode; use --yolo to enable writes")
	}

	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
