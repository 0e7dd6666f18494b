// ABOUTME: Package client implements the MCP protocol client for one server connection.
// ABOUTME: Covers version negotiation, request correlation, and the tool API.

// Package client implements a Model Context Protocol client over the
// streamable HTTP transport.
//
// A Client owns exactly one server connection: its id sequence, pending
// request table, session id, and negotiated protocol version are all
// per-instance state guarded by one mutex. Connect performs the initialize
// handshake and version negotiation; ListTools and CallTool are the tool
// API; Disconnect rejects anything still in flight. CallTool consults the
// consent gate before dispatching.
//
// There is no automatic reconnection: when a connection drops, the caller
// decides whether to Connect again.
package client
