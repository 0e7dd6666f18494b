// ABOUTME: Service orchestrating MCP clients over stored server configs.
// ABOUTME: Concurrent discovery fan-out, tool execution, summaries, cached tool lists.

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/latchwork/toolgate/internal/client"
	"github.com/latchwork/toolgate/internal/consent"
	"github.com/latchwork/toolgate/internal/store"
	"github.com/latchwork/toolgate/internal/toolcache"
	"github.com/latchwork/toolgate/internal/transport"
)

// Cache defaults used when the config leaves them unset.
const (
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheMaxSize  = 100
	defaultSweepInterval = time.Minute
)

// Config holds configuration for a Service.
type Config struct {
	Store     store.Store
	Transport *transport.Client // defaults to transport.New
	Gate      *consent.Gate     // defaults to the default policy, audited to Store
	Logger    *slog.Logger

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
}

// Service coordinates tool discovery and execution across every MCP server
// configured in a workspace. One instance is shared by all callers; the tool
// cache serializes its own access.
type Service struct {
	store     store.Store
	transport *transport.Client
	gate      *consent.Gate
	cache     *toolcache.Cache
	logger    *slog.Logger
}

// ServerSummary is the diagnostic view of one configured server.
type ServerSummary struct {
	ServerID  string     `json:"serverId"`
	Name      string     `json:"name"`
	Status    string     `json:"status"` // connected or error
	ToolCount int        `json:"toolCount"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// New creates a service over the given store.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp-service")

	tr := cfg.Transport
	if tr == nil {
		tr = transport.New(transport.Config{Logger: logger})
	}
	gate := cfg.Gate
	if gate == nil {
		gate = consent.NewGate(consent.GateConfig{
			Policy: consent.DefaultPolicy(),
			Logger: logger,
			Sink:   cfg.Store,
		})
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxSize
	}
	sweep := cfg.CacheSweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}

	return &Service{
		store:     cfg.Store,
		transport: tr,
		gate:      gate,
		cache:     toolcache.New(ttl, maxEntries, sweep),
		logger:    logger,
	}
}

// DiscoverTools returns the merged tool list across every enabled server in
// the workspace. Results are cached per workspace; forceRefresh bypasses the
// cache. A failure on one server never hides tools discovered on the others.
func (s *Service) DiscoverTools(ctx context.Context, userID, workspaceID string, forceRefresh bool) ([]client.Tool, error) {
	key := cacheKey(workspaceID)
	if !forceRefresh {
		if tools, ok := s.cache.Get(key); ok {
			return tools, nil
		}
	}

	servers, err := s.store.ListEnabledServers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading server configs: %w", err)
	}
	if len(servers) == 0 {
		return []client.Tool{}, nil
	}

	env, err := s.store.EffectiveEnv(ctx, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var (
		mu     sync.Mutex
		merged []client.Tool
		wg     sync.WaitGroup
	)
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *store.Server) {
			defer wg.Done()
			tools, err := s.discoverOne(ctx, srv, env)
			if err != nil {
				s.logger.Warn("tool discovery failed",
					"server_id", srv.ID,
					"server_name", srv.Name,
					"error", err,
				)
				return
			}
			mu.Lock()
			merged = append(merged, tools...)
			mu.Unlock()
		}(srv)
	}
	wg.Wait()

	if merged == nil {
		merged = []client.Tool{}
	}
	s.cache.Put(key, merged)
	return merged, nil
}

// discoverOne runs one connect+list+disconnect cycle against a single server.
func (s *Service) discoverOne(ctx context.Context, srv *store.Server, env map[string]string) ([]client.Tool, error) {
	cfg, err := resolveServer(srv, env)
	if err != nil {
		return nil, err
	}

	c := s.newClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Disconnect()

	return c.ListTools(ctx)
}

// ExecuteTool invokes one tool on one server. The client is disconnected even
// when the call fails.
func (s *Service) ExecuteTool(ctx context.Context, userID, serverID string, call client.ToolCall, workspaceID string) (*client.ToolResult, error) {
	srv, err := s.store.GetServer(ctx, serverID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading server config %s: %w", serverID, err)
	}

	env, err := s.store.EffectiveEnv(ctx, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg, err := resolveServer(srv, env)
	if err != nil {
		return nil, err
	}

	c := s.newClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Disconnect()

	return c.CallTool(ctx, call)
}

// ServerSummaries probes every enabled server in the workspace and reports
// per-server status. A failing server is recorded, never propagated.
func (s *Service) ServerSummaries(ctx context.Context, userID, workspaceID string) ([]ServerSummary, error) {
	servers, err := s.store.ListEnabledServers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading server configs: %w", err)
	}

	env, err := s.store.EffectiveEnv(ctx, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	summaries := make([]ServerSummary, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func(i int, srv *store.Server) {
			defer wg.Done()
			summaries[i] = s.probe(ctx, srv, env)
		}(i, srv)
	}
	wg.Wait()

	return summaries, nil
}

// probe builds the summary for one server.
func (s *Service) probe(ctx context.Context, srv *store.Server, env map[string]string) ServerSummary {
	summary := ServerSummary{ServerID: srv.ID, Name: srv.Name, Status: "error"}

	tools, err := s.discoverOne(ctx, srv, env)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}

	now := time.Now()
	summary.Status = "connected"
	summary.ToolCount = len(tools)
	summary.LastSeen = &now
	return summary
}

// ClearCache drops one workspace's cached tools, or everything (resetting all
// counters) when workspaceID is empty.
func (s *Service) ClearCache(workspaceID string) {
	if workspaceID == "" {
		s.cache.Clear()
		return
	}
	s.cache.Remove(cacheKey(workspaceID))
}

// CacheStats returns a snapshot of the tool cache counters.
func (s *Service) CacheStats() toolcache.Stats {
	return s.cache.Stats()
}

// Close stops the cache sweep. Safe to call multiple times.
func (s *Service) Close() {
	s.cache.Close()
}

// newClient builds a client sharing the service's transport and consent gate.
func (s *Service) newClient(cfg client.ServerConfig) *client.Client {
	return client.New(client.Config{
		Server:    cfg,
		Transport: s.transport,
		Gate:      s.gate,
		Logger:    s.logger,
	})
}

func cacheKey(workspaceID string) string {
	return "workspace:" + workspaceID
}
