// ABOUTME: Package store persists server configs, env secrets, and consent audit.
// ABOUTME: SQLite for production, an in-memory implementation for tests.

// Package store defines the persistence surface for toolgate: per-workspace
// MCP server configurations (soft-deleted, loaded fresh for every
// connection attempt), environment-variable secrets used to resolve
// {{VAR}} placeholders (sealed at rest, workspace defaults with per-user
// overrides), and the consent audit trail.
package store
