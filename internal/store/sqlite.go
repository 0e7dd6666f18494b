// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Server configs, sealed secrets, and consent audit with schema creation on open.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/latchwork/toolgate/internal/consent"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	secretsKey []byte
	logger     *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite store at path. The
// secrets key must be SecretsKeySize bytes; it seals secret values at rest.
func NewSQLiteStore(path string, secretsKey []byte) (*SQLiteStore, error) {
	if len(secretsKey) != SecretsKeySize {
		return nil, fmt.Errorf("secrets key must be %d bytes, got %d", SecretsKeySize, len(secretsKey))
	}

	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		secretsKey: secretsKey,
		logger:     logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS server_configs (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			transport TEXT NOT NULL,
			url TEXT NOT NULL,
			headers_json TEXT NOT NULL DEFAULT '{}',
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			retries INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_server_configs_workspace
			ON server_configs(workspace_id);

		CREATE TABLE IF NOT EXISTS secrets (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			sealed_value BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_secrets_scope
			ON secrets(workspace_id, user_id, key);

		CREATE TABLE IF NOT EXISTS consent_audit (
			audit_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			granted INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			decided_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_consent_audit_server
			ON consent_audit(server_id, decided_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateServer inserts a new server config row.
func (s *SQLiteStore) CreateServer(ctx context.Context, srv *Server) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	srv.UpdatedAt = now

	headers, err := marshalHeaders(srv.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO server_configs (id, workspace_id, name, description, transport, url, headers_json, timeout_ms, retries, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		srv.ID,
		srv.WorkspaceID,
		srv.Name,
		srv.Description,
		srv.Transport,
		srv.URL,
		headers,
		srv.Timeout.Milliseconds(),
		srv.Retries,
		boolToInt(srv.Enabled),
		srv.CreatedAt.Format(time.RFC3339),
		srv.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting server config: %w", err)
	}

	s.logger.Debug("created server config", "id", srv.ID, "workspace_id", srv.WorkspaceID, "name", srv.Name)
	return nil
}

// GetServer returns one non-deleted server by id within a workspace.
func (s *SQLiteStore) GetServer(ctx context.Context, id, workspaceID string) (*Server, error) {
	query := `
		SELECT id, workspace_id, name, description, transport, url, headers_json, timeout_ms, retries, enabled, created_at, updated_at
		FROM server_configs
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`
	row := s.db.QueryRowContext(ctx, query, id, workspaceID)
	return scanServer(row)
}

// ListEnabledServers returns every enabled, non-deleted server in a workspace.
func (s *SQLiteStore) ListEnabledServers(ctx context.Context, workspaceID string) ([]*Server, error) {
	query := `
		SELECT id, workspace_id, name, description, transport, url, headers_json, timeout_ms, retries, enabled, created_at, updated_at
		FROM server_configs
		WHERE workspace_id = ? AND enabled = 1 AND deleted_at IS NULL
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// UpdateServer rewrites a server config row.
func (s *SQLiteStore) UpdateServer(ctx context.Context, srv *Server) error {
	srv.UpdatedAt = time.Now().UTC()

	headers, err := marshalHeaders(srv.Headers)
	if err != nil {
		return err
	}

	query := `
		UPDATE server_configs
		SET name = ?, description = ?, transport = ?, url = ?, headers_json = ?, timeout_ms = ?, retries = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query,
		srv.Name,
		srv.Description,
		srv.Transport,
		srv.URL,
		headers,
		srv.Timeout.Milliseconds(),
		srv.Retries,
		boolToInt(srv.Enabled),
		srv.UpdatedAt.Format(time.RFC3339),
		srv.ID,
		srv.WorkspaceID,
	)
	if err != nil {
		return fmt.Errorf("updating server config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServer soft-deletes a server config.
func (s *SQLiteStore) DeleteServer(ctx context.Context, id, workspaceID string) error {
	query := `
		UPDATE server_configs
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query, now, now, id, workspaceID)
	if err != nil {
		return fmt.Errorf("deleting server config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSecret writes or replaces a sealed secret value.
func (s *SQLiteStore) SetSecret(ctx context.Context, workspaceID, userID, key, value string) error {
	sealed, err := sealValue(s.secretsKey, value)
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO secrets (id, workspace_id, user_id, key, sealed_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, user_id, key)
		DO UPDATE SET sealed_value = excluded.sealed_value, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, uuid.New().String(), workspaceID, userID, key, sealed, now, now)
	if err != nil {
		return fmt.Errorf("upserting secret: %w", err)
	}
	return nil
}

// EffectiveEnv returns workspace defaults overlaid with the user's overrides.
func (s *SQLiteStore) EffectiveEnv(ctx context.Context, userID, workspaceID string) (map[string]string, error) {
	query := `
		SELECT user_id, key, sealed_value
		FROM secrets
		WHERE workspace_id = ? AND user_id IN ('', ?)
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}
	defer rows.Close()

	// Workspace defaults ('' sorts first) are written first, then the
	// user's overrides replace them.
	env := make(map[string]string)
	for rows.Next() {
		var owner, key string
		var sealed []byte
		if err := rows.Scan(&owner, &key, &sealed); err != nil {
			return nil, fmt.Errorf("scanning secret: %w", err)
		}
		value, err := openValue(s.secretsKey, sealed)
		if err != nil {
			return nil, fmt.Errorf("unsealing secret %q: %w", key, err)
		}
		env[key] = value
	}
	return env, rows.Err()
}

// DeleteSecret removes one secret.
func (s *SQLiteStore) DeleteSecret(ctx context.Context, workspaceID, userID, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE workspace_id = ? AND user_id = ? AND key = ?`,
		workspaceID, userID, key,
	)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordConsent appends one consent decision. Implements consent.Sink.
func (s *SQLiteStore) RecordConsent(ctx context.Context, rec consent.Record) error {
	query := `
		INSERT INTO consent_audit (audit_id, server_id, origin, tool_name, granted, reason, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.AuditID,
		rec.ServerID,
		rec.Origin,
		rec.ToolName,
		boolToInt(rec.Granted),
		rec.Reason,
		rec.DecidedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting consent record: %w", err)
	}
	return nil
}

// ListConsentDecisions returns recent decisions for one server, newest first.
func (s *SQLiteStore) ListConsentDecisions(ctx context.Context, serverID string, limit int) ([]consent.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT audit_id, server_id, origin, tool_name, granted, reason, decided_at
		FROM consent_audit
		WHERE server_id = ?
		ORDER BY decided_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing consent records: %w", err)
	}
	defer rows.Close()

	var records []consent.Record
	for rows.Next() {
		var rec consent.Record
		var granted int
		var decidedAt string
		if err := rows.Scan(&rec.AuditID, &rec.ServerID, &rec.Origin, &rec.ToolName, &granted, &rec.Reason, &decidedAt); err != nil {
			return nil, fmt.Errorf("scanning consent record: %w", err)
		}
		rec.Granted = granted != 0
		if ts, err := time.Parse(time.RFC3339, decidedAt); err == nil {
			rec.DecidedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanServer.
type scanner interface {
	Scan(dest ...any) error
}

// scanServer reads one server config row.
func scanServer(row scanner) (*Server, error) {
	var srv Server
	var headersJSON string
	var timeoutMs int64
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&srv.ID,
		&srv.WorkspaceID,
		&srv.Name,
		&srv.Description,
		&srv.Transport,
		&srv.URL,
		&headersJSON,
		&timeoutMs,
		&srv.Retries,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server config: %w", err)
	}

	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &srv.Headers); err != nil {
			return nil, fmt.Errorf("parsing headers for server %s: %w", srv.ID, err)
		}
	}
	srv.Timeout = time.Duration(timeoutMs) * time.Millisecond
	srv.Enabled = enabled != 0
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		srv.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		srv.UpdatedAt = ts
	}
	return &srv, nil
}

func marshalHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshaling headers: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
