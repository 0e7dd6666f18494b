// ABOUTME: MCP client owning one server connection: lifecycle, negotiation, tool API.
// ABOUTME: Tool calls pass through the consent gate before dispatch.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latchwork/toolgate/internal/consent"
	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/transport"
)

// defaultTimeout bounds a request when the server config does not set one.
const defaultTimeout = 30 * time.Second

// clientInfo is what this client reports about itself during initialize.
var clientInfo = Implementation{Name: "toolgate", Version: "1.0.0"}

// State is the connection lifecycle state of a client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config holds configuration for an MCP client.
type Config struct {
	Server    ServerConfig
	Transport *transport.Client // defaults to transport.New
	Gate      *consent.Gate     // defaults to a gate with the default policy
	Logger    *slog.Logger
}

// Client owns a single MCP server connection. One client instance must not
// be shared across unrelated concurrent tool calls: all calls share one id
// sequence and one pending table.
type Client struct {
	cfg       ServerConfig
	transport *transport.Client
	gate      *consent.Gate
	logger    *slog.Logger
	timeout   time.Duration
	origin    string

	mu                sync.Mutex
	state             State
	status            ConnectionStatus
	pending           map[int64]*pendingRequest
	sessionID         string
	capabilities      Capabilities
	serverInfo        Implementation
	negotiatedVersion string

	nextID atomic.Int64
}

// New creates a client for one server. It does not connect.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tr := cfg.Transport
	if tr == nil {
		tr = transport.New(transport.Config{Logger: logger})
	}
	gate := cfg.Gate
	if gate == nil {
		gate = consent.NewGate(consent.GateConfig{Policy: consent.DefaultPolicy(), Logger: logger})
	}
	timeout := cfg.Server.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		cfg:       cfg.Server,
		transport: tr,
		gate:      gate,
		logger:    logger.With("component", "mcp-client", "server_id", cfg.Server.ID),
		timeout:   timeout,
		origin:    originOf(cfg.Server.URL),
		state:     StateDisconnected,
		pending:   make(map[int64]*pendingRequest),
	}
}

// Connect performs the initialize handshake and version negotiation. On
// success the client is connected and the initialized notification has been
// sent. On failure the client remains disconnected. Connect is only valid
// from the disconnected state; call Disconnect before reconnecting.
func (c *Client) Connect(ctx context.Context) error {
	if !supportedTransports[c.cfg.Transport] {
		return &mcperr.ConnectionError{
			ServerID: c.cfg.ID,
			Msg:      fmt.Sprintf("unsupported transport type %q (supported: http, sse, streamable-http)", c.cfg.Transport),
		}
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return &mcperr.ConnectionError{
			ServerID: c.cfg.ID,
			Msg:      fmt.Sprintf("connect called while %s; disconnect first", state),
		}
	}
	c.state = StateConnecting
	c.mu.Unlock()

	offered := SupportedProtocolVersions[0]
	raw, err := c.sendRequest(ctx, "initialize", initializeParams{
		ProtocolVersion: offered,
		Capabilities:    Capabilities{},
		ClientInfo:      clientInfo,
	})
	if err != nil {
		return c.failConnect(err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return c.failConnect(&mcperr.ProtocolError{Msg: "parsing initialize result", Err: err})
	}

	// The server's version choice wins as long as this client speaks it.
	if result.ProtocolVersion != offered && !versionSupported(result.ProtocolVersion) {
		return c.failConnect(&mcperr.VersionNegotiationError{
			Proposed:  result.ProtocolVersion,
			Supported: SupportedProtocolVersions,
		})
	}

	now := time.Now()
	c.mu.Lock()
	c.state = StateConnected
	c.status = ConnectionStatus{Connected: true, LastConnected: &now}
	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.negotiatedVersion = result.ProtocolVersion
	c.mu.Unlock()

	c.logger.Debug("connected",
		"protocol_version", result.ProtocolVersion,
		"server_name", result.ServerInfo.Name,
	)

	// Fire-and-forget; the server acknowledges with an empty 2xx.
	c.notify(ctx, "notifications/initialized", nil)

	return nil
}

// Disconnect rejects every pending request with a connection-closed error
// and marks the client disconnected. Safe to call at any time, including
// when Connect never succeeded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.state = StateDisconnected
	c.status.Connected = false
	c.sessionID = ""
	c.mu.Unlock()

	for id, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- outcome{err: &mcperr.ConnectionError{ServerID: c.cfg.ID, Msg: "connection closed"}}
		c.logger.Debug("rejected pending request on disconnect", "request_id", id)
	}
}

// ListTools fetches the server's tool definitions, stamped with this
// server's identity.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	raw, err := c.sendRequest(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &mcperr.ProtocolError{Msg: "parsing tools/list result", Err: err}
	}

	for i := range result.Tools {
		result.Tools[i].ServerID = c.cfg.ID
		result.Tools[i].ServerName = c.cfg.Name
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool. The consent gate is consulted first; a
// denial surfaces as a ConsentDeniedError carrying the audit id and the
// call is never dispatched.
func (c *Client) CallTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	req := consent.NewRequest(c.cfg.ID, c.cfg.Name, c.origin, call.Name, call.Arguments)
	decision, err := c.gate.RequestConsent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("consent gate: %w", err)
	}
	if !decision.Granted {
		return nil, &mcperr.ConsentDeniedError{AuditID: decision.AuditID, Reason: decision.Reason}
	}

	raw, err := c.sendRequest(ctx, "tools/call", call)
	if err != nil {
		return nil, err
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &mcperr.ProtocolError{Msg: "parsing tools/call result", Err: err}
	}
	return &result, nil
}

// Status returns a copy of the connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NegotiatedVersion returns the protocol version agreed at initialize time,
// or the empty string before a successful Connect.
func (c *Client) NegotiatedVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// Capabilities returns the capabilities the server reported at initialize.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// ServerInfo returns the server identity reported at initialize.
func (c *Client) ServerInfo() Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// requireConnected fails fast when the client is not connected.
func (c *Client) requireConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return &mcperr.ConnectionError{ServerID: c.cfg.ID, Msg: "client is not connected"}
	}
	return nil
}

// failConnect records the failure and returns the client to disconnected.
func (c *Client) failConnect(err error) error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.status.Connected = false
	c.status.LastError = err.Error()
	c.mu.Unlock()
	return err
}

// wrapTransportError turns low-level transport failures into actionable
// messages. Errors already in the client's taxonomy pass through unchanged.
// Every request resolves through this, so callers only ever see taxonomy
// errors regardless of which phase of the session failed.
func (c *Client) wrapTransportError(err error) error {
	var (
		protocolErr *mcperr.ProtocolError
		connErr     *mcperr.ConnectionError
		timeoutErr  *mcperr.TimeoutError
		versionErr  *mcperr.VersionNegotiationError
		validateErr *mcperr.ValidationError
	)
	if errors.As(err, &protocolErr) || errors.As(err, &connErr) ||
		errors.As(err, &timeoutErr) || errors.As(err, &versionErr) ||
		errors.As(err, &validateErr) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		return &mcperr.ConnectionError{
			ServerID: c.cfg.ID,
			Msg:      "connection timed out; check that the server is responsive",
			Err:      err,
		}
	case errors.As(err, new(*net.OpError)):
		return &mcperr.ConnectionError{
			ServerID: c.cfg.ID,
			Msg:      fmt.Sprintf("could not reach server at %s; verify the URL and that the server is running", c.cfg.URL),
			Err:      err,
		}
	default:
		return &mcperr.ConnectionError{
			ServerID: c.cfg.ID,
			Msg:      "request failed",
			Err:      err,
		}
	}
}

// versionSupported reports whether v is in the client's supported list.
func versionSupported(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// originOf reduces a URL to its scheme://host origin for consent policy
// matching. An unparseable URL falls back to the raw string.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
