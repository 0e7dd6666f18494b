// ABOUTME: Typed error taxonomy shared by the MCP transport, client, and service.
// ABOUTME: Every public API failure surfaces as exactly one of these kinds.

// Package mcperr defines the error kinds surfaced by the MCP client stack.
// Callers classify failures with errors.As rather than string matching.
package mcperr

import (
	"fmt"
	"strings"
	"time"
)

// ProtocolError indicates malformed or unsupported wire content: an
// unexpected content type, an unparseable SSE body, or an RPC-level error
// object returned by the server.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError indicates a transport-level failure: the server could not
// be reached, the transport kind is unsupported, or every URL variant failed.
type ConnectionError struct {
	ServerID string
	Msg      string
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := e.Msg
	if e.ServerID != "" {
		msg = fmt.Sprintf("server %s: %s", e.ServerID, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("connection error: %s", msg)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates no correlated response arrived within the
// configured window.
type TimeoutError struct {
	ServerID string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no response from server %s within %s", e.ServerID, e.Duration)
}

// VersionNegotiationError indicates the server proposed a protocol version
// the client does not support.
type VersionNegotiationError struct {
	Proposed  string
	Supported []string
}

func (e *VersionNegotiationError) Error() string {
	return fmt.Sprintf("version negotiation failed: server requires protocol version %s, client supports %s",
		e.Proposed, strings.Join(e.Supported, ", "))
}

// ConsentDeniedError indicates the consent gate refused a tool invocation.
// AuditID correlates the denial with audit log entries.
type ConsentDeniedError struct {
	AuditID string
	Reason  string
}

func (e *ConsentDeniedError) Error() string {
	return fmt.Sprintf("consent denied (audit %s): %s", e.AuditID, e.Reason)
}

// ValidationError indicates invalid configuration input: a URL rejected by
// the SSRF guard or environment placeholders that cannot be resolved.
// Missing lists every unresolvable placeholder variable when applicable.
type ValidationError struct {
	Msg     string
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Msg
	if len(e.Missing) > 0 {
		msg = fmt.Sprintf("%s: missing environment variables: %s", msg, strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("validation error: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("validation error: %s", msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }
