// Package server holds the shared runtime state behind both the CLI
// commands and the MCP server: the loaded configuration, the token store
// chain, and one lazily created session per account. Sessions are cached so
// that every operation against the same account shares one token manager and
// one set of rate buckets.
package server
