// Package workspace_tools provides MCP (Model Context Protocol) tools for
// driving Google Workspace APIs through the authenticated, rate-limited
// request layer.
//
// Exposed tools:
//   - workspace_request: Execute one API request against a Workspace service
//   - workspace_batch: Execute up to 100 sub-requests as one batch call
//   - workspace_list_accounts: List authenticated accounts
//   - workspace_list_services: List supported services and their batch support
//
// All tools accept an optional "account" argument; when omitted the
// configured active account is used. Requests share the per-service rate
// buckets and retry policy of the session they run under.
package workspace_tools
