// ABOUTME: HTTP transport for single JSON-RPC exchanges against an MCP server.
// ABOUTME: Handles trailing-slash URL fallback and Mcp-Session-Id propagation.

// Package transport performs the HTTP exchange for one JSON-RPC message
// against a configured MCP server URL.
//
// Servers differ on whether their endpoint is mounted with or without a
// trailing slash, so each send tries the configured URL first and falls back
// to the slash-toggled variant, but only when the first attempt failed with a
// 404. Any other failure propagates immediately.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/urlguard"
)

// SessionHeader is the MCP session correlation header.
const SessionHeader = "Mcp-Session-Id"

// maxResponseBody bounds how much of a response body is read (10MB).
const maxResponseBody = 10 << 20

// Target describes where and how to send one message.
type Target struct {
	ServerID string
	URL      string
	Headers  map[string]string
	// Timeout bounds each HTTP attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
}

// Result carries the raw response of a successful exchange.
type Result struct {
	Body        []byte
	ContentType string
	// SessionID is the Mcp-Session-Id header from the response, if any.
	// Adoption policy (first session id wins) is the caller's concern.
	SessionID string
}

// StatusError reports a non-2xx HTTP response from a candidate URL.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned HTTP %d for %s", e.Code, e.URL)
}

// Config holds configuration for a transport client.
type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	// Validator checks and normalizes target URLs before any connection is
	// made. Defaults to urlguard.Validate.
	Validator func(string) (string, error)
}

// Client sends JSON-RPC payloads over HTTP.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	validate func(string) (string, error)
}

// New creates a transport client with the given configuration.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	validate := cfg.Validator
	if validate == nil {
		validate = urlguard.Validate
	}
	return &Client{
		http:     httpClient,
		logger:   logger.With("component", "transport"),
		validate: validate,
	}
}

// Send POSTs the payload to the target, trying the configured URL and its
// trailing-slash variant. The target URL is checked against the SSRF guard
// before any connection is made. If a session id is already known it is sent
// on the request; the response's session header, if present, is returned for
// the caller to adopt.
func (c *Client) Send(ctx context.Context, target Target, sessionID string, payload []byte) (*Result, error) {
	normalized, err := c.validate(target.URL)
	if err != nil {
		return nil, &mcperr.ValidationError{Msg: fmt.Sprintf("server url %q rejected", target.URL), Err: err}
	}

	candidates := urlVariants(normalized)

	var lastErr error
	for i, candidate := range candidates {
		result, err := c.attempt(ctx, target, candidate, sessionID, payload)
		if err == nil {
			if i > 0 {
				c.logger.Debug("url variant succeeded", "server_id", target.ServerID, "url", candidate)
			}
			return result, nil
		}

		lastErr = err

		// Only a 404-shaped failure suggests the endpoint lives at the
		// other slash variant; anything else propagates immediately.
		if !isNotFound(err) {
			return nil, err
		}
		c.logger.Debug("url candidate returned 404", "server_id", target.ServerID, "url", candidate)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all URL variations failed")
	}
	return nil, lastErr
}

// attempt performs a single POST against one candidate URL. The target's
// timeout bounds the whole attempt so a hung server cannot pin the
// connection open past the caller's deadline.
func (c *Client) attempt(ctx context.Context, target Target, url, sessionID string, payload []byte) (*Result, error) {
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		SessionID:   resp.Header.Get(SessionHeader),
	}, nil
}

// urlVariants returns the candidate URLs to try, configured URL first and its
// trailing-slash toggle second.
func urlVariants(url string) []string {
	if strings.HasSuffix(url, "/") {
		return []string{url, strings.TrimRight(url, "/")}
	}
	return []string{url, url + "/"}
}

// isNotFound reports whether err is a 404-shaped transport failure.
func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}
