// ABOUTME: Consent gate consulted before every remote tool invocation.
// ABOUTME: Applies origin policy, rate limits, audit stamping, and a pluggable decider.

// Package consent implements the policy checkpoint in front of tool
// execution. The gate owns the non-negotiable checks (blocked origins, the
// hourly execution window, audit stamping); the final grant/deny decision is
// delegated to a pluggable Decider so deployments can wire in a
// human-in-the-loop approval step. The shipped AutoApprove decider grants
// after the policy checks pass.
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requestTTL is how long a consent request remains actionable.
const requestTTL = 5 * time.Minute

// AuditLevel controls how much the gate logs about each decision.
type AuditLevel string

const (
	AuditNone     AuditLevel = "none"
	AuditBasic    AuditLevel = "basic"
	AuditDetailed AuditLevel = "detailed"
)

// SecurityPolicy is the immutable per-client consent policy.
type SecurityPolicy struct {
	RequireConsent           bool
	AllowedOrigins           []string
	BlockedOrigins           []string
	MaxToolExecutionsPerHour int
	AuditLevel               AuditLevel
}

// DefaultPolicy returns the default policy: consent required, basic audit,
// 1000 executions per hour.
func DefaultPolicy() SecurityPolicy {
	return SecurityPolicy{
		RequireConsent:           true,
		MaxToolExecutionsPerHour: 1000,
		AuditLevel:               AuditBasic,
	}
}

// Request describes one tool invocation awaiting consent.
type Request struct {
	ServerID    string
	ServerName  string
	Origin      string
	ToolName    string
	Arguments   any
	RequestedAt time.Time
	ExpiresAt   time.Time
}

// NewRequest builds a consent request for a tool invocation, stamped with
// the standard expiry window.
func NewRequest(serverID, serverName, origin, toolName string, arguments any) Request {
	now := time.Now()
	return Request{
		ServerID:    serverID,
		ServerName:  serverName,
		Origin:      origin,
		ToolName:    toolName,
		Arguments:   arguments,
		RequestedAt: now,
		ExpiresAt:   now.Add(requestTTL),
	}
}

// Response is the gate's decision record. It is not a persisted capability
// grant; nothing re-checks it later.
type Response struct {
	Granted bool
	Reason  string
	Expires *time.Time
	AuditID string
}

// Decider makes the final grant/deny call after the gate's own checks pass.
type Decider interface {
	Decide(ctx context.Context, req Request) (granted bool, expires *time.Time, err error)
}

// AutoApprove grants every request that reaches it. This is the hook point
// for a human-facing approval flow, not a statement that approval is free.
type AutoApprove struct{}

// Decide implements Decider.
func (AutoApprove) Decide(context.Context, Request) (bool, *time.Time, error) {
	return true, nil, nil
}

// Record is the persisted form of a consent decision.
type Record struct {
	AuditID   string
	ServerID  string
	Origin    string
	ToolName  string
	Granted   bool
	Reason    string
	DecidedAt time.Time
}

// Sink persists consent decision records.
type Sink interface {
	RecordConsent(ctx context.Context, rec Record) error
}

// GateConfig holds configuration for a consent gate.
type GateConfig struct {
	Policy  SecurityPolicy
	Decider Decider // defaults to AutoApprove
	Logger  *slog.Logger
	Sink    Sink // optional decision persistence
}

// Gate evaluates consent requests against a security policy.
type Gate struct {
	policy  SecurityPolicy
	decider Decider
	logger  *slog.Logger
	sink    Sink

	mu          sync.Mutex
	windowStart time.Time
	execCounts  map[string]int // origin -> executions in current window
}

// NewGate creates a consent gate with the given configuration.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	decider := cfg.Decider
	if decider == nil {
		decider = AutoApprove{}
	}
	return &Gate{
		policy:      cfg.Policy,
		decider:     decider,
		logger:      logger.With("component", "consent"),
		sink:        cfg.Sink,
		windowStart: time.Now(),
		execCounts:  make(map[string]int),
	}
}

// RequestConsent evaluates a consent request and returns the decision.
// Blocked origins are denied unconditionally, even when the policy does not
// require consent.
func (g *Gate) RequestConsent(ctx context.Context, req Request) (Response, error) {
	auditID := uuid.New().String()

	if g.originBlocked(req.Origin) {
		return g.finish(ctx, req, Response{
			AuditID: auditID,
			Reason:  fmt.Sprintf("origin %s is blocked by policy", req.Origin),
		}), nil
	}

	if len(g.policy.AllowedOrigins) > 0 && !g.originAllowed(req.Origin) {
		return g.finish(ctx, req, Response{
			AuditID: auditID,
			Reason:  fmt.Sprintf("origin %s is not in the allowed origin list", req.Origin),
		}), nil
	}

	if !g.withinRateLimit(req.Origin) {
		return g.finish(ctx, req, Response{
			AuditID: auditID,
			Reason:  fmt.Sprintf("execution limit of %d per hour exceeded for %s", g.policy.MaxToolExecutionsPerHour, req.Origin),
		}), nil
	}

	if !g.policy.RequireConsent {
		return g.finish(ctx, req, Response{Granted: true, AuditID: auditID}), nil
	}

	if g.policy.AuditLevel == AuditDetailed {
		g.logger.Info("consent requested",
			"audit_id", auditID,
			"server_id", req.ServerID,
			"tool", req.ToolName,
			"origin", req.Origin,
			"expires_at", req.ExpiresAt,
		)
	}

	granted, expires, err := g.decider.Decide(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("consent decider: %w", err)
	}

	resp := Response{Granted: granted, Expires: expires, AuditID: auditID}
	if !granted {
		resp.Reason = "consent was not granted"
	}
	return g.finish(ctx, req, resp), nil
}

// finish logs and persists the decision according to the audit level.
func (g *Gate) finish(ctx context.Context, req Request, resp Response) Response {
	if g.policy.AuditLevel != AuditNone {
		g.logger.Info("consent decision",
			"audit_id", resp.AuditID,
			"server_id", req.ServerID,
			"tool", req.ToolName,
			"origin", req.Origin,
			"granted", resp.Granted,
			"reason", resp.Reason,
		)
	}

	if g.sink != nil {
		rec := Record{
			AuditID:   resp.AuditID,
			ServerID:  req.ServerID,
			Origin:    req.Origin,
			ToolName:  req.ToolName,
			Granted:   resp.Granted,
			Reason:    resp.Reason,
			DecidedAt: time.Now().UTC(),
		}
		if err := g.sink.RecordConsent(ctx, rec); err != nil {
			g.logger.Warn("failed to record consent decision", "audit_id", resp.AuditID, "error", err)
		}
	}

	return resp
}

func (g *Gate) originBlocked(origin string) bool {
	for _, blocked := range g.policy.BlockedOrigins {
		if origin == blocked {
			return true
		}
	}
	return false
}

func (g *Gate) originAllowed(origin string) bool {
	for _, allowed := range g.policy.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// withinRateLimit counts an execution against the current hourly window and
// reports whether the limit still holds. A zero or negative limit disables
// the check.
func (g *Gate) withinRateLimit(origin string) bool {
	if g.policy.MaxToolExecutionsPerHour <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.windowStart) >= time.Hour {
		g.windowStart = time.Now()
		g.execCounts = make(map[string]int)
	}

	if g.execCounts[origin] >= g.policy.MaxToolExecutionsPerHour {
		return false
	}
	g.execCounts[origin]++
	return true
}
