// ABOUTME: Store interfaces and data types for toolgate persistence.
// ABOUTME: Defines server configs, environment secrets, and consent audit records.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/latchwork/toolgate/internal/consent"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSecret is returned when a secret already exists for its scope.
var ErrDuplicateSecret = errors.New("secret already exists")

// Server is one configured MCP server row, scoped to a workspace.
// Rows are soft-deleted: readers never return deleted rows.
type Server struct {
	ID          string
	WorkspaceID string
	Name        string
	Description string
	Transport   string // http, sse, or streamable-http
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	Retries     int
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// ServerStore defines persistence for server configurations.
type ServerStore interface {
	CreateServer(ctx context.Context, s *Server) error
	// GetServer returns one non-deleted server by id within a workspace.
	GetServer(ctx context.Context, id, workspaceID string) (*Server, error)
	// ListEnabledServers returns every enabled, non-deleted server in a
	// workspace.
	ListEnabledServers(ctx context.Context, workspaceID string) ([]*Server, error)
	UpdateServer(ctx context.Context, s *Server) error
	// DeleteServer soft-deletes a server.
	DeleteServer(ctx context.Context, id, workspaceID string) error
}

// SecretsStore defines persistence for environment variables used to
// resolve {{VAR}} placeholders. Secrets are workspace-scoped with optional
// per-user overrides; values are sealed at rest.
type SecretsStore interface {
	// SetSecret writes a secret. An empty userID stores a workspace-wide
	// default; a non-empty userID stores that user's override.
	SetSecret(ctx context.Context, workspaceID, userID, key, value string) error
	// EffectiveEnv returns the decrypted environment for a user in a
	// workspace: workspace defaults overlaid with the user's overrides.
	EffectiveEnv(ctx context.Context, userID, workspaceID string) (map[string]string, error)
	DeleteSecret(ctx context.Context, workspaceID, userID, key string) error
}

// ConsentAuditStore persists consent gate decisions. It satisfies
// consent.Sink.
type ConsentAuditStore interface {
	RecordConsent(ctx context.Context, rec consent.Record) error
	ListConsentDecisions(ctx context.Context, serverID string, limit int) ([]consent.Record, error)
}

// Store is the full persistence surface the service consumes.
type Store interface {
	ServerStore
	SecretsStore
	ConsentAuditStore
	Close() error
}
