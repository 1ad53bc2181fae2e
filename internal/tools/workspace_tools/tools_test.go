package workspace_tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspacekit/workspace-cli/internal/auth"
	"github.com/workspacekit/workspace-cli/internal/config"
	"github.com/workspacekit/workspace-cli/internal/server"
)

func testRuntime(t *testing.T) *server.Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFrom(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	rt, err := server.NewRuntime(context.Background(), server.Options{
		Config: cfg,
		Store:  auth.NewFileStore(filepath.Join(dir, "tokens")),
	})
	require.NoError(t, err)
	t.Cleanup(rt.Shutdown)
	return rt
}

func callToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestGetAccountFromArgs(t *testing.T) {
	assert.Equal(t, "work", getAccountFromArgs(map[string]interface{}{"account": "work"}))
	assert.Equal(t, "", getAccountFromArgs(map[string]interface{}{}))
}

func TestHandleListServices(t *testing.T) {
	result, err := handleListServices()
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := result.Content[0].(mcp.TextContent).Text
	var infos []struct {
		Name         string `json:"name"`
		BatchSupport bool   `json:"batchSupport"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &infos))

	byName := make(map[string]bool, len(infos))
	for _, info := range infos {
		byName[info.Name] = info.BatchSupport
	}
	assert.True(t, byName["gmail"])
	assert.True(t, byName["drive"])
	assert.False(t, byName["docs"])
}

func TestHandleRequestValidation(t *testing.T) {
	rt := testRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{
			"missing service",
			map[string]interface{}{"method": "GET", "path": "/x"},
			"service is required",
		},
		{
			"missing method",
			map[string]interface{}{"service": "gmail", "path": "/x"},
			"method is required",
		},
		{
			"missing path",
			map[string]interface{}{"service": "gmail", "method": "GET"},
			"path is required",
		},
		{
			"invalid body",
			map[string]interface{}{"service": "gmail", "method": "POST", "path": "/x", "body": "{oops"},
			"not valid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleRequest(ctx, callToolRequest(tt.args), rt, false)
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Contains(t, result.Content[0].(mcp.TextContent).Text, tt.want)
		})
	}
}

func TestHandleRequestReadOnly(t *testing.T) {
	rt := testRuntime(t)

	result, err := handleRequest(context.Background(), callToolRequest(map[string]interface{}{
		"service": "gmail",
		"method":  "POST",
		"path":    "/users/me/messages/send",
	}), rt, true)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(mcp.TextContent).Text, "read-only")
}

func TestHandleBatchReadOnly(t *testing.T) {
	rt := testRuntime(t)

	result, err := handleBatch(context.Background(), callToolRequest(map[string]interface{}{
		"service":  "gmail",
		"requests": `[{"id":"a","method":"DELETE","path":"/users/me/messages/x"}]`,
	}), rt, true)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(mcp.TextContent).Text, "read-only")
}

func TestHandleBatchBadRequestsJSON(t *testing.T) {
	rt := testRuntime(t)

	result, err := handleBatch(context.Background(), callToolRequest(map[string]interface{}{
		"service":  "gmail",
		"requests": "not an array",
	}), rt, false)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(mcp.TextContent).Text, "valid JSON array")
}

func TestHandleListAccountsEmpty(t *testing.T) {
	rt := testRuntime(t)

	result, err := handleListAccounts(context.Background(), rt)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var decoded struct {
		Active   string   `json:"active"`
		Accounts []string `json:"accounts"`
	}
	text := result.Content[0].(mcp.TextContent).Text
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.Equal(t, config.DefaultAccount, decoded.Active)
	assert.Empty(t, decoded.Accounts)
}
