// ABOUTME: HTTP API handlers exposing tool discovery and execution over the service.
// ABOUTME: JWT-authenticated JSON endpoints plus an unauthenticated health check.

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/latchwork/toolgate/internal/auth"
	"github.com/latchwork/toolgate/internal/client"
	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/service"
	"github.com/latchwork/toolgate/internal/store"
	"github.com/latchwork/toolgate/internal/toolcache"
)

// CallToolRequest is the JSON request body for POST /api/tools/call.
type CallToolRequest struct {
	ServerID  string         `json:"server_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// DiscoverResponse is the JSON response for GET /api/tools.
type DiscoverResponse struct {
	Tools []client.Tool `json:"tools"`
}

// ServersResponse is the JSON response for GET /api/servers.
type ServersResponse struct {
	Servers []service.ServerSummary `json:"servers"`
}

// StatsResponse is the JSON response for GET /api/cache/stats.
type StatsResponse struct {
	Cache toolcache.Stats `json:"cache"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Server wires the API handlers over a service instance.
type Server struct {
	service  *service.Service
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(svc *service.Service, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:  svc,
		verifier: verifier,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns the routed HTTP handler. Every /api route requires a valid
// bearer token; /healthz does not.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)

	authed := http.NewServeMux()
	authed.HandleFunc("/api/tools", s.handleDiscoverTools)
	authed.HandleFunc("/api/tools/call", s.handleCallTool)
	authed.HandleFunc("/api/servers", s.handleServers)
	authed.HandleFunc("/api/cache/stats", s.handleCacheStats)
	authed.HandleFunc("/api/cache/clear", s.handleCacheClear)

	mux.Handle("/api/", auth.Middleware(s.verifier)(authed))
	return mux
}

// handleHealth handles GET /healthz requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDiscoverTools handles GET /api/tools requests.
// Supports ?refresh=true to bypass the workspace tool cache.
func (s *Server) handleDiscoverTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := auth.FromContext(r.Context())
	if !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	tools, err := s.service.DiscoverTools(r.Context(), id.UserID, id.WorkspaceID, forceRefresh)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, DiscoverResponse{Tools: tools})
}

// handleCallTool handles POST /api/tools/call requests.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := auth.FromContext(r.Context())
	if !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ServerID == "" || req.Name == "" {
		s.sendJSONError(w, http.StatusBadRequest, "server_id and name are required")
		return
	}

	result, err := s.service.ExecuteTool(r.Context(), id.UserID, req.ServerID,
		client.ToolCall{Name: req.Name, Arguments: req.Arguments}, id.WorkspaceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleServers handles GET /api/servers requests.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := auth.FromContext(r.Context())
	if !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	summaries, err := s.service.ServerSummaries(r.Context(), id.UserID, id.WorkspaceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if summaries == nil {
		summaries = []service.ServerSummary{}
	}

	s.writeJSON(w, http.StatusOK, ServersResponse{Servers: summaries})
}

// handleCacheStats handles GET /api/cache/stats requests.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{Cache: s.service.CacheStats()})
}

// handleCacheClear handles POST /api/cache/clear requests.
// Clears the caller's workspace entry; ?all=true clears everything.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, ok := auth.FromContext(r.Context())
	if !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if r.URL.Query().Get("all") == "true" {
		s.service.ClearCache("")
	} else {
		s.service.ClearCache(id.WorkspaceID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps service-layer failures onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *mcperr.ValidationError
		consentErr    *mcperr.ConsentDeniedError
		timeoutErr    *mcperr.TimeoutError
		connErr       *mcperr.ConnectionError
	)

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "server not found")
	case errors.As(err, &validationErr):
		s.sendJSONError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &consentErr):
		s.sendJSONError(w, http.StatusForbidden, consentErr.Error())
	case errors.As(err, &timeoutErr):
		s.sendJSONError(w, http.StatusGatewayTimeout, timeoutErr.Error())
	case errors.As(err, &connErr):
		s.sendJSONError(w, http.StatusBadGateway, connErr.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
