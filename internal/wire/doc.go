// ABOUTME: Package wire implements the JSON-RPC 2.0 message encoding used by MCP.
// ABOUTME: Handles both plain JSON and SSE-wrapped response bodies.

// Package wire encodes and decodes JSON-RPC 2.0 messages for the MCP
// streamable HTTP transport.
//
// Requests and notifications are encoded to JSON bytes suitable for an HTTP
// POST body. Responses arrive either as a plain application/json body or as a
// text/event-stream body whose data: lines, concatenated, form one JSON-RPC
// response. Decode dispatches on the Content-Type and refuses anything else;
// guessing at an unknown content type would hide server misconfiguration.
package wire
