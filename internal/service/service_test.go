// ABOUTME: Tests for the orchestration service: discovery fan-out, caching, execution.
// ABOUTME: Runs against fake MCP servers over httptest with a MemoryStore.

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchwork/toolgate/internal/client"
	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/store"
	"github.com/latchwork/toolgate/internal/transport"
	"github.com/latchwork/toolgate/internal/wire"
)

// fakeServer answers the MCP handshake and tool methods for one named tool.
type fakeServer struct {
	toolName string
	fail     bool // respond 500 to everything
	requests atomic.Int64
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.fail {
		http.Error(w, "broken", http.StatusInternalServerError)
		return
	}

	var req wire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ID == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var result string
	switch req.Method {
	case "initialize":
		result = fmt.Sprintf(`{"protocolVersion":%q,"capabilities":{"tools":{}},"serverInfo":{"name":%q,"version":"1.0"}}`,
			client.SupportedProtocolVersions[0], f.toolName)
	case "tools/list":
		result = fmt.Sprintf(`{"tools":[{"name":%q,"inputSchema":{"type":"object"}}]}`, f.toolName)
	case "tools/call":
		result = fmt.Sprintf(`{"content":[{"type":"text","text":"ran %s"}]}`, f.toolName)
	default:
		http.Error(w, "unknown method", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
}

// testService builds a service over a MemoryStore with the SSRF guard
// bypassed so fakes on loopback are reachable.
func testService(t *testing.T, cacheTTL time.Duration) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := New(Config{
		Store: st,
		Transport: transport.New(transport.Config{
			Validator: func(u string) (string, error) { return u, nil },
		}),
		CacheTTL: cacheTTL,
	})
	t.Cleanup(svc.Close)
	return svc, st
}

func addServer(t *testing.T, st *store.MemoryStore, workspaceID, name, url string) *store.Server {
	t.Helper()
	srv := &store.Server{
		WorkspaceID: workspaceID,
		Name:        name,
		Transport:   client.TransportStreamableHTTP,
		URL:         url,
		Enabled:     true,
	}
	require.NoError(t, st.CreateServer(context.Background(), srv))
	return srv
}

func TestDiscoverToolsMergesAcrossServers(t *testing.T) {
	alpha := &fakeServer{toolName: "alpha_search"}
	beta := &fakeServer{toolName: "beta_fetch"}
	srvA := httptest.NewServer(alpha)
	defer srvA.Close()
	srvB := httptest.NewServer(beta)
	defer srvB.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "alpha", srvA.URL+"/mcp")
	addServer(t, st, "ws-1", "beta", srvB.URL+"/mcp")

	tools, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.ServerID, "tools must be stamped with their server")
	}
	assert.True(t, names["alpha_search"])
	assert.True(t, names["beta_fetch"])
}

func TestDiscoverToolsEmptyWorkspace(t *testing.T) {
	svc, _ := testService(t, time.Minute)

	tools, err := svc.DiscoverTools(context.Background(), "user-1", "ws-empty", false)
	require.NoError(t, err)
	assert.Empty(t, tools)
	assert.NotNil(t, tools)
}

func TestDiscoverToolsPartialSuccess(t *testing.T) {
	good := &fakeServer{toolName: "works"}
	bad := &fakeServer{toolName: "never", fail: true}
	srvGood := httptest.NewServer(good)
	defer srvGood.Close()
	srvBad := httptest.NewServer(bad)
	defer srvBad.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "good", srvGood.URL+"/mcp")
	addServer(t, st, "ws-1", "bad", srvBad.URL+"/mcp")

	tools, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err, "one failing server must not fail discovery")
	require.Len(t, tools, 1)
	assert.Equal(t, "works", tools[0].Name)
}

func TestDiscoverToolsMissingEnvIsolatedPerConfig(t *testing.T) {
	good := &fakeServer{toolName: "works"}
	srvGood := httptest.NewServer(good)
	defer srvGood.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "good", srvGood.URL+"/mcp")
	addServer(t, st, "ws-1", "broken", "https://{{NO_SUCH_VAR}}/mcp")

	tools, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "works", tools[0].Name)
}

func TestDiscoverToolsUsesCache(t *testing.T) {
	fake := &fakeServer{toolName: "cached"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "one", srv.URL+"/mcp")

	_, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	after := fake.requests.Load()

	tools, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, after, fake.requests.Load(), "cache hit must not contact the server")

	stats := svc.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestDiscoverToolsForceRefreshBypassesCache(t *testing.T) {
	fake := &fakeServer{toolName: "fresh"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "one", srv.URL+"/mcp")

	_, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	before := fake.requests.Load()

	_, err = svc.DiscoverTools(context.Background(), "user-1", "ws-1", true)
	require.NoError(t, err)
	assert.Greater(t, fake.requests.Load(), before, "force refresh must contact the server")
}

func TestClearCache(t *testing.T) {
	fake := &fakeServer{toolName: "t"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "one", srv.URL+"/mcp")

	_, err := svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)

	svc.ClearCache("ws-1")
	before := fake.requests.Load()
	_, err = svc.DiscoverTools(context.Background(), "user-1", "ws-1", false)
	require.NoError(t, err)
	assert.Greater(t, fake.requests.Load(), before)

	svc.ClearCache("")
	stats := svc.CacheStats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Size)
}

func TestExecuteTool(t *testing.T) {
	fake := &fakeServer{toolName: "runner"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, st := testService(t, time.Minute)
	cfg := addServer(t, st, "ws-1", "runner", srv.URL+"/mcp")

	result, err := svc.ExecuteTool(context.Background(), "user-1", cfg.ID,
		client.ToolCall{Name: "runner", Arguments: map[string]any{"q": "x"}}, "ws-1")
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "ran runner", result.Content[0].Text)
}

func TestExecuteToolUnknownServer(t *testing.T) {
	svc, _ := testService(t, time.Minute)

	_, err := svc.ExecuteTool(context.Background(), "user-1", "no-such-id",
		client.ToolCall{Name: "x"}, "ws-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecuteToolResolvesSecrets(t *testing.T) {
	fake := &fakeServer{toolName: "secretive"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, st := testService(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, st.SetSecret(ctx, "ws-1", "", "MCP_HOST", srv.Listener.Addr().String()))

	cfg := &store.Server{
		WorkspaceID: "ws-1",
		Name:        "secretive",
		Transport:   client.TransportStreamableHTTP,
		URL:         "http://{{MCP_HOST}}/mcp",
		Enabled:     true,
	}
	require.NoError(t, st.CreateServer(ctx, cfg))

	result, err := svc.ExecuteTool(ctx, "user-1", cfg.ID, client.ToolCall{Name: "secretive"}, "ws-1")
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestExecuteToolMissingEnvFails(t *testing.T) {
	svc, st := testService(t, time.Minute)
	ctx := context.Background()
	cfg := addServer(t, st, "ws-1", "broken", "https://{{MISSING_A}}/{{MISSING_B}}")

	_, err := svc.ExecuteTool(ctx, "user-1", cfg.ID, client.ToolCall{Name: "x"}, "ws-1")
	require.Error(t, err)

	var verr *mcperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"MISSING_A", "MISSING_B"}, verr.Missing)
}

func TestServerSummaries(t *testing.T) {
	good := &fakeServer{toolName: "up"}
	bad := &fakeServer{fail: true}
	srvGood := httptest.NewServer(good)
	defer srvGood.Close()
	srvBad := httptest.NewServer(bad)
	defer srvBad.Close()

	svc, st := testService(t, time.Minute)
	addServer(t, st, "ws-1", "down-server", srvBad.URL+"/mcp")
	addServer(t, st, "ws-1", "up-server", srvGood.URL+"/mcp")

	summaries, err := svc.ServerSummaries(context.Background(), "user-1", "ws-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byName := map[string]ServerSummary{}
	for _, s := range summaries {
		byName[s.Name] = s
	}

	up := byName["up-server"]
	assert.Equal(t, "connected", up.Status)
	assert.Equal(t, 1, up.ToolCount)
	require.NotNil(t, up.LastSeen)

	down := byName["down-server"]
	assert.Equal(t, "error", down.Status)
	assert.Zero(t, down.ToolCount)
	assert.NotEmpty(t, down.Error)
	assert.Nil(t, down.LastSeen)
}

func TestCloseIdempotent(t *testing.T) {
	svc, _ := testService(t, time.Minute)
	svc.Close()
	svc.Close()
}
