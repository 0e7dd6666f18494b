// ABOUTME: Data types for the MCP client: server config, tools, capabilities, results.
// ABOUTME: ToolResult is an open record preserving fields this client does not know.

package client

import (
	"encoding/json"
	"time"
)

// Supported transport kinds for a server config.
const (
	TransportHTTP           = "http"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// supportedTransports is the set of transport kinds Connect accepts.
var supportedTransports = map[string]bool{
	TransportHTTP:           true,
	TransportSSE:            true,
	TransportStreamableHTTP: true,
}

// SupportedProtocolVersions lists the protocol versions this client speaks,
// newest first. The first entry is offered during initialize.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// ServerConfig describes one remote MCP server. It is immutable for the
// lifetime of a connection attempt.
type ServerConfig struct {
	ID          string
	Name        string
	Description string
	Transport   string
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	Retries     int
	Enabled     bool
}

// ConnectionStatus reports the connection state of one client.
type ConnectionStatus struct {
	Connected     bool
	LastConnected *time.Time
	LastError     string
}

// Capabilities is the sparse feature-flag bag a server returns at initialize
// time. A non-empty raw value means the feature is advertised.
type Capabilities struct {
	Tools     json.RawMessage `json:"tools,omitempty"`
	Resources json.RawMessage `json:"resources,omitempty"`
	Prompts   json.RawMessage `json:"prompts,omitempty"`
	Logging   json.RawMessage `json:"logging,omitempty"`
}

// HasTools reports whether the server advertised tool support.
func (c Capabilities) HasTools() bool { return len(c.Tools) > 0 }

// Implementation identifies a protocol party in the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams are the params for the initialize request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// initializeResult mirrors the initialize response shape.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// Tool is a remote tool definition, stamped with the server it came from.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ServerID    string          `json:"serverId"`
	ServerName  string          `json:"serverName"`
}

// listToolsResult mirrors the tools/list response shape.
type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCall names a tool and its arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one entry in a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the result of a tools/call. Servers are not required to
// conform to a closed schema, so fields this client does not model are
// preserved in Extra rather than dropped.
type ToolResult struct {
	Content []ContentBlock
	IsError bool
	Extra   map[string]json.RawMessage
}

// UnmarshalJSON splits known fields from passthrough fields.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields["content"]; ok {
		if err := json.Unmarshal(raw, &r.Content); err != nil {
			return err
		}
		delete(fields, "content")
	}
	if raw, ok := fields["isError"]; ok {
		if err := json.Unmarshal(raw, &r.IsError); err != nil {
			return err
		}
		delete(fields, "isError")
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

// MarshalJSON reassembles known and passthrough fields.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(r.Extra)+2)
	for k, v := range r.Extra {
		fields[k] = v
	}

	blocks := r.Content
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	fields["content"] = content

	if r.IsError {
		fields["isError"] = json.RawMessage("true")
	}
	return json.Marshal(fields)
}
