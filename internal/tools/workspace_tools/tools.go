package workspace_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/workspacekit/workspace-cli/internal/api"
	"github.com/workspacekit/workspace-cli/internal/config"
	"github.com/workspacekit/workspace-cli/internal/server"
)

// getAccountFromArgs extracts the account name from request arguments,
// defaulting to the runtime's active account.
func getAccountFromArgs(args map[string]interface{}) string {
	if account, ok := args["account"].(string); ok {
		return account
	}
	return ""
}

// RegisterWorkspaceTools registers all Workspace request tools with the MCP
// server. With readOnly set, only GET requests are accepted.
func RegisterWorkspaceTools(s *mcpserver.MCPServer, rt *server.Runtime, readOnly bool) error {
	requestTool := mcp.NewTool("workspace_request",
		mcp.WithDescription("Execute one request against a Google Workspace API"),
		mcp.WithString("account",
			mcp.Description("Account name (default: the active account)"),
		),
		mcp.WithString("service",
			mcp.Required(),
			mcp.Description("Target service: gmail, drive, calendar, docs, sheets, slides or tasks"),
		),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("HTTP method (GET, POST, PUT, PATCH, DELETE)"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path relative to the service API root (e.g., '/users/me/messages')"),
		),
		mcp.WithString("body",
			mcp.Description("JSON request body for write methods"),
		),
	)
	s.AddTool(requestTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRequest(ctx, request, rt, readOnly)
	})

	batchTool := mcp.NewTool("workspace_batch",
		mcp.WithDescription("Execute up to 100 Workspace API sub-requests as one batch call"),
		mcp.WithString("account",
			mcp.Description("Account name (default: the active account)"),
		),
		mcp.WithString("service",
			mcp.Required(),
			mcp.Description("Target service with batch support: gmail, drive or calendar"),
		),
		mcp.WithString("requests",
			mcp.Required(),
			mcp.Description(`JSON array of sub-requests: [{"id":"r1","method":"GET","path":"/users/me/messages/x"}, ...]`),
		),
	)
	s.AddTool(batchTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleBatch(ctx, request, rt, readOnly)
	})

	accountsTool := mcp.NewTool("workspace_list_accounts",
		mcp.WithDescription("List authenticated Google accounts"),
	)
	s.AddTool(accountsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListAccounts(ctx, rt)
	})

	servicesTool := mcp.NewTool("workspace_list_services",
		mcp.WithDescription("List supported Google Workspace services"),
	)
	s.AddTool(servicesTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListServices()
	})

	return nil
}

func handleRequest(ctx context.Context, request mcp.CallToolRequest, rt *server.Runtime, readOnly bool) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	service, ok := args["service"].(string)
	if !ok || service == "" {
		return mcp.NewToolResultError("service is required"), nil
	}
	method, ok := args["method"].(string)
	if !ok || method == "" {
		return mcp.NewToolResultError("method is required"), nil
	}
	method = strings.ToUpper(method)
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	if readOnly && method != "GET" {
		return mcp.NewToolResultError("server is running in read-only mode; only GET requests are allowed"), nil
	}

	var body any
	if raw, ok := args["body"].(string); ok && raw != "" {
		var decoded json.RawMessage
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("body is not valid JSON: %v", err)), nil
		}
		body = decoded
	}

	sess, err := rt.SessionFor(getAccountFromArgs(args))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create session: %v", err)), nil
	}
	client, err := sess.ClientFor(service)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := client.Execute(ctx, method, path, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Request failed: %v", err)), nil
	}

	if len(resp.Body) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf(`{"status":%d}`, resp.Status)), nil
	}
	return mcp.NewToolResultText(string(resp.Body)), nil
}

func handleBatch(ctx context.Context, request mcp.CallToolRequest, rt *server.Runtime, readOnly bool) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	service, ok := args["service"].(string)
	if !ok || service == "" {
		return mcp.NewToolResultError("service is required"), nil
	}
	raw, ok := args["requests"].(string)
	if !ok || raw == "" {
		return mcp.NewToolResultError("requests is required"), nil
	}

	var reqs []api.BatchRequest
	if err := json.Unmarshal([]byte(raw), &reqs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("requests is not a valid JSON array: %v", err)), nil
	}

	if readOnly {
		for _, r := range reqs {
			if strings.ToUpper(r.Method) != "GET" {
				return mcp.NewToolResultError("server is running in read-only mode; only GET sub-requests are allowed"), nil
			}
		}
	}

	sess, err := rt.SessionFor(getAccountFromArgs(args))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create session: %v", err)), nil
	}
	client, err := sess.ClientFor(service)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := client.ExecuteBatch(ctx, reqs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Batch failed: %v", err)), nil
	}

	encoded, err := json.Marshal(outcome)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode outcome: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func handleListAccounts(ctx context.Context, rt *server.Runtime) (*mcp.CallToolResult, error) {
	mgr, err := rt.ManagerFor(config.DefaultAccount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open token store: %v", err)), nil
	}

	accounts, err := mgr.ListAccounts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list accounts: %v", err)), nil
	}

	result := struct {
		Active   string   `json:"active"`
		Accounts []string `json:"accounts"`
	}{
		Active:   rt.ResolveAccount(""),
		Accounts: accounts,
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode accounts: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func handleListServices() (*mcp.CallToolResult, error) {
	type serviceInfo struct {
		Name         string `json:"name"`
		BatchSupport bool   `json:"batchSupport"`
	}

	var infos []serviceInfo
	for _, name := range api.ServiceNames() {
		svc, _ := api.LookupService(name)
		infos = append(infos, serviceInfo{Name: name, BatchSupport: svc.BatchURL != ""})
	}

	encoded, err := json.Marshal(infos)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode services: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
