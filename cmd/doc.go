// Package cmd implements the command-line interface for workspace-cli.
//
// This package provides the following commands:
//   - auth: Manage Google account authentication (login, logout, list, switch, status)
//   - request: Execute one request against a Google Workspace API
//   - batch: Execute up to 100 sub-requests as one batch call
//   - services: List supported Workspace services
//   - serve: Start the MCP server to provide tools for AI assistants
//   - version: Display version information
package cmd
