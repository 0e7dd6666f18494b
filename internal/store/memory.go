// ABOUTME: In-memory Store implementation for tests and ephemeral runs.
// ABOUTME: Mirrors SQLiteStore semantics including soft deletes and env overlay.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latchwork/toolgate/internal/consent"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	servers  map[string]*Server            // id -> server
	secrets  map[string]map[string]string  // workspace|user -> key -> value
	consents []consent.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers: make(map[string]*Server),
		secrets: make(map[string]map[string]string),
	}
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// CreateServer inserts a server config.
func (m *MemoryStore) CreateServer(_ context.Context, s *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	clone := *s
	m.servers[s.ID] = &clone
	return nil
}

// GetServer returns one non-deleted server by id within a workspace.
func (m *MemoryStore) GetServer(_ context.Context, id, workspaceID string) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[id]
	if !ok || s.WorkspaceID != workspaceID || s.DeletedAt != nil {
		return nil, ErrNotFound
	}
	clone := *s
	return &clone, nil
}

// ListEnabledServers returns enabled, non-deleted servers sorted by name.
func (m *MemoryStore) ListEnabledServers(_ context.Context, workspaceID string) ([]*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var servers []*Server
	for _, s := range m.servers {
		if s.WorkspaceID == workspaceID && s.Enabled && s.DeletedAt == nil {
			clone := *s
			servers = append(servers, &clone)
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// UpdateServer rewrites a server config.
func (m *MemoryStore) UpdateServer(_ context.Context, s *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.servers[s.ID]
	if !ok || existing.WorkspaceID != s.WorkspaceID || existing.DeletedAt != nil {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now().UTC()
	clone := *s
	m.servers[s.ID] = &clone
	return nil
}

// DeleteServer soft-deletes a server config.
func (m *MemoryStore) DeleteServer(_ context.Context, id, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[id]
	if !ok || s.WorkspaceID != workspaceID || s.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	s.DeletedAt = &now
	return nil
}

// SetSecret writes a secret value.
func (m *MemoryStore) SetSecret(_ context.Context, workspaceID, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := workspaceID + "|" + userID
	if m.secrets[scope] == nil {
		m.secrets[scope] = make(map[string]string)
	}
	m.secrets[scope][key] = value
	return nil
}

// EffectiveEnv returns workspace defaults overlaid with user overrides.
func (m *MemoryStore) EffectiveEnv(_ context.Context, userID, workspaceID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := make(map[string]string)
	for k, v := range m.secrets[workspaceID+"|"] {
		env[k] = v
	}
	for k, v := range m.secrets[workspaceID+"|"+userID] {
		env[k] = v
	}
	return env, nil
}

// DeleteSecret removes one secret.
func (m *MemoryStore) DeleteSecret(_ context.Context, workspaceID, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := workspaceID + "|" + userID
	if _, ok := m.secrets[scope][key]; !ok {
		return ErrNotFound
	}
	delete(m.secrets[scope], key)
	return nil
}

// RecordConsent appends one consent decision.
func (m *MemoryStore) RecordConsent(_ context.Context, rec consent.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents = append(m.consents, rec)
	return nil
}

// ListConsentDecisions returns recorded decisions for one server, newest first.
func (m *MemoryStore) ListConsentDecisions(_ context.Context, serverID string, limit int) ([]consent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var records []consent.Record
	for i := len(m.consents) - 1; i >= 0 && len(records) < limit; i-- {
		if m.consents[i].ServerID == serverID {
			records = append(records, m.consents[i])
		}
	}
	return records, nil
}
