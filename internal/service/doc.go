// ABOUTME: Package doc for the orchestration layer over stored server configs.
// ABOUTME: Discovery fan-out, tool execution, summaries, and the workspace tool cache.

// Package service orchestrates MCP clients over persisted server
// configurations. It resolves {{VAR}} placeholders against each user's
// effective environment, fans discovery out across a workspace's servers
// concurrently with partial-success semantics, and caches merged tool lists
// per workspace.
package service
