// ABOUTME: Tests for {{VAR}} placeholder resolution in server configs.
// ABOUTME: Covers full expansion, missing-variable enumeration, and isolation.

package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/store"
)

func TestResolveServerExpandsPlaceholders(t *testing.T) {
	srv := &store.Server{
		ID:        "srv-1",
		Name:      "docs",
		Transport: "streamable-http",
		URL:       "https://{{HOST}}/mcp",
		Headers: map[string]string{
			"Authorization": "Bearer {{TOKEN}}",
			"X-Static":      "unchanged",
		},
		Timeout: 10 * time.Second,
	}
	env := map[string]string{"HOST": "docs.example.com", "TOKEN": "tok-123"}

	cfg, err := resolveServer(srv, env)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/mcp", cfg.URL)
	assert.Equal(t, "Bearer tok-123", cfg.Headers["Authorization"])
	assert.Equal(t, "unchanged", cfg.Headers["X-Static"])
	assert.Equal(t, "srv-1", cfg.ID)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestResolveServerNoPlaceholders(t *testing.T) {
	srv := &store.Server{Name: "plain", URL: "https://plain.example.com/mcp"}

	cfg, err := resolveServer(srv, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://plain.example.com/mcp", cfg.URL)
	assert.Nil(t, cfg.Headers)
}

func TestResolveServerEnumeratesAllMissing(t *testing.T) {
	srv := &store.Server{
		Name: "broken",
		URL:  "https://{{HOST}}/{{PATH}}",
		Headers: map[string]string{
			"Authorization": "Bearer {{TOKEN}}",
		},
	}

	_, err := resolveServer(srv, map[string]string{"HOST": "x.example.com"})
	require.Error(t, err)

	var verr *mcperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"PATH", "TOKEN"}, verr.Missing)
}

func TestResolveServerRepeatedVariableReportedOnce(t *testing.T) {
	srv := &store.Server{
		Name: "dup",
		URL:  "https://{{HOST}}/a/{{HOST}}/b",
	}

	_, err := resolveServer(srv, nil)
	var verr *mcperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"HOST"}, verr.Missing)
}
