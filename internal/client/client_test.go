// ABOUTME: Tests for the MCP client: handshake, negotiation, correlation, timeouts.
// ABOUTME: Runs against an in-process fake MCP server over httptest.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/latchwork/toolgate/internal/consent"
	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/transport"
	"github.com/latchwork/toolgate/internal/wire"
)

// fakeMCP is a minimal MCP server for exercising the client.
type fakeMCP struct {
	mu              sync.Mutex
	protocolVersion string        // version returned by initialize
	sse             bool          // respond with text/event-stream bodies
	listDelay       time.Duration // delay before answering tools/list
	echoWrongID     bool          // corrupt the response id
	sessionID       string        // Mcp-Session-Id to issue on initialize
	failStatus      int           // when nonzero, answer every request with this status
	seenSessions    []string      // session header on each request
	notified        []string      // notification methods received
}

func (f *fakeMCP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.seenSessions = append(f.seenSessions, r.Header.Get(transport.SessionHeader))
	failStatus := f.failStatus
	f.mu.Unlock()

	if failStatus != 0 {
		http.Error(w, "server fault", failStatus)
		return
	}

	var req wire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if req.ID == 0 { // notification
		f.mu.Lock()
		f.notified = append(f.notified, req.Method)
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	id := req.ID
	if f.echoWrongID {
		id = req.ID + 1000
	}

	var result string
	switch req.Method {
	case "initialize":
		if f.sessionID != "" {
			w.Header().Set(transport.SessionHeader, f.sessionID)
		}
		result = fmt.Sprintf(`{"protocolVersion":%q,"capabilities":{"tools":{}},"serverInfo":{"name":"fake","version":"0.1.0"}}`, f.protocolVersion)
	case "tools/list":
		if f.listDelay > 0 {
			time.Sleep(f.listDelay)
		}
		result = `{"tools":[{"name":"search","description":"searches","inputSchema":{"type":"object"}}]}`
	case "tools/call":
		result = `{"content":[{"type":"text","text":"42"}],"structuredContent":{"answer":42}}`
	default:
		f.writeBody(w, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, id))
		return
	}

	f.writeBody(w, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func (f *fakeMCP) writeBody(w http.ResponseWriter, body string) {
	if f.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\ndata: [DONE]\n", body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

// newTestClient wires a client to the fake server with the SSRF guard
// bypassed so tests can target loopback.
func newTestClient(t *testing.T, srv *httptest.Server, cfg ServerConfig, gate *consent.Gate) *Client {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "srv-test"
	}
	if cfg.Name == "" {
		cfg.Name = "test server"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStreamableHTTP
	}
	cfg.URL = srv.URL + "/mcp"
	return New(Config{
		Server: cfg,
		Transport: transport.New(transport.Config{
			Validator: func(u string) (string, error) { return u, nil },
		}),
		Gate: gate,
	})
}

func TestConnectAndListTools(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("expected connected state, got %s", c.State())
	}
	if !c.Capabilities().HasTools() {
		t.Error("expected tools capability")
	}
	status := c.Status()
	if !status.Connected || status.LastConnected == nil {
		t.Errorf("unexpected status %+v", status)
	}

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].ServerID != "srv-test" || tools[0].ServerName != "test server" {
		t.Errorf("tool not stamped with server identity: %+v", tools[0])
	}

	fake.mu.Lock()
	notified := append([]string(nil), fake.notified...)
	fake.mu.Unlock()
	if len(notified) != 1 || notified[0] != "notifications/initialized" {
		t.Errorf("expected initialized notification, got %v", notified)
	}
}

func TestConnectOverSSE(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0], sse: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect over SSE failed: %v", err)
	}
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools over SSE failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(tools))
	}
}

func TestVersionNegotiation(t *testing.T) {
	t.Run("supported non-preferred version is adopted", func(t *testing.T) {
		fake := &fakeMCP{protocolVersion: "2024-11-05"}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		c := newTestClient(t, srv, ServerConfig{}, nil)
		defer c.Disconnect()

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if v := c.NegotiatedVersion(); v != "2024-11-05" {
			t.Errorf("expected negotiated version 2024-11-05, got %q", v)
		}
	})

	t.Run("unsupported version fails the connection", func(t *testing.T) {
		fake := &fakeMCP{protocolVersion: "1999-01-01"}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		c := newTestClient(t, srv, ServerConfig{}, nil)
		err := c.Connect(context.Background())

		var versionErr *mcperr.VersionNegotiationError
		if !errors.As(err, &versionErr) {
			t.Fatalf("expected version negotiation error, got %v", err)
		}
		if versionErr.Proposed != "1999-01-01" {
			t.Errorf("error should name the rejected version, got %q", versionErr.Proposed)
		}
		if c.State() != StateDisconnected {
			t.Errorf("client must remain disconnected, state is %s", c.State())
		}
		if c.Status().LastError == "" {
			t.Error("status should record the failure")
		}
	})
}

func TestConnectUnsupportedTransport(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{Transport: "websocket"}, nil)
	err := c.Connect(context.Background())

	var connErr *mcperr.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestMidSessionHTTPFailureIsConnectionError(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// The server starts failing after the handshake succeeded.
	fake.mu.Lock()
	fake.failStatus = http.StatusInternalServerError
	fake.mu.Unlock()

	_, err := c.ListTools(context.Background())
	var connErr *mcperr.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error, got %T: %v", err, err)
	}
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Errorf("underlying HTTP status must remain reachable via errors.As, got %v", err)
	}
}

func TestConnectWhileConnectedFails(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	err := c.Connect(context.Background())
	var connErr *mcperr.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error on double connect, got %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("double connect must not disturb the session, state is %s", c.State())
	}
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Errorf("client must remain usable after rejected reconnect: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0], listDelay: 500 * time.Millisecond}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{Timeout: 50 * time.Millisecond}, nil)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	start := time.Now()
	_, err := c.ListTools(context.Background())
	elapsed := time.Since(start)

	var timeoutErr *mcperr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if timeoutErr.Duration != 50*time.Millisecond {
		t.Errorf("timeout error should carry the configured duration, got %s", timeoutErr.Duration)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("timeout took too long: %s", elapsed)
	}

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("pending table should be empty after timeout, has %d entries", remaining)
	}

	// The late response must be dropped by the correlation table, not applied.
	time.Sleep(600 * time.Millisecond)
	c.mu.Lock()
	remaining = len(c.pending)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("late response must not repopulate the pending table")
	}
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// Deliver a response for an id with no pending entry; this must be a
	// logged no-op, never a panic or cross-request corruption.
	c.handleResponse(&wire.Response{JSONRPC: "2.0", ID: 9999, Result: json.RawMessage(`{}`)})

	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("client should remain usable: %v", err)
	}
}

func TestMismatchedResponseIDTimesOut(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0], echoWrongID: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{Timeout: 50 * time.Millisecond}, nil)
	err := c.Connect(context.Background())

	var timeoutErr *mcperr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected timeout during connect, got %v", err)
	}
}

func TestDisconnectRejectsPending(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0], listDelay: time.Second}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{Timeout: 5 * time.Second}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListTools(context.Background())
		errCh <- err
	}()

	// Let the request register before tearing the connection down.
	time.Sleep(50 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-errCh:
		var connErr *mcperr.ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected connection-closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected on disconnect")
	}
}

func TestDisconnectWithoutConnect(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	c.Disconnect() // must not panic
	c.Disconnect() // idempotent
}

func TestSessionIDPropagation(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0], sessionID: "sess-abc"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("list tools failed: %v", err)
	}

	fake.mu.Lock()
	sessions := append([]string(nil), fake.seenSessions...)
	fake.mu.Unlock()

	// initialize carries no session; everything after carries the issued one.
	if sessions[0] != "" {
		t.Errorf("initialize must not carry a session id, got %q", sessions[0])
	}
	last := sessions[len(sessions)-1]
	if last != "sess-abc" {
		t.Errorf("expected session id on later requests, got %q", last)
	}
}

func TestCallToolConsent(t *testing.T) {
	t.Run("consent not required skips the gate prompt", func(t *testing.T) {
		fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		gate := consent.NewGate(consent.GateConfig{Policy: consent.SecurityPolicy{RequireConsent: false}})
		c := newTestClient(t, srv, ServerConfig{}, gate)
		defer c.Disconnect()

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		result, err := c.CallTool(context.Background(), ToolCall{Name: "search", Arguments: map[string]any{"q": "go"}})
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if len(result.Content) != 1 || result.Content[0].Text != "42" {
			t.Errorf("unexpected result content %+v", result.Content)
		}
		if _, ok := result.Extra["structuredContent"]; !ok {
			t.Error("passthrough fields must be preserved in Extra")
		}
	})

	t.Run("blocked origin denies regardless of policy", func(t *testing.T) {
		fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		gate := consent.NewGate(consent.GateConfig{Policy: consent.SecurityPolicy{
			RequireConsent: false,
			BlockedOrigins: []string{srv.URL},
		}})
		c := newTestClient(t, srv, ServerConfig{}, gate)
		defer c.Disconnect()

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		_, err := c.CallTool(context.Background(), ToolCall{Name: "search"})
		var denied *mcperr.ConsentDeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("expected consent denied error, got %v", err)
		}
		if denied.AuditID == "" {
			t.Error("denial must carry an audit id")
		}
	})
}

func TestMonotonicRequestIDs(t *testing.T) {
	fake := &fakeMCP{protocolVersion: SupportedProtocolVersions[0]}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, ServerConfig{}, nil)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := c.ListTools(context.Background()); err != nil {
			t.Fatalf("list %d failed: %v", i, err)
		}
	}

	// initialize took id 1; five list calls follow.
	if got := c.nextID.Load(); got != 6 {
		t.Errorf("expected next id 6, got %d", got)
	}
}
