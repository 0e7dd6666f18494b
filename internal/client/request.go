// ABOUTME: Pending-request correlation: monotonic ids, deadline timers, exactly-once resolution.
// ABOUTME: Late or unmatched responses are dropped, never applied.

package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/transport"
	"github.com/latchwork/toolgate/internal/wire"
)

// outcome is the single resolution of one pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is one in-flight request awaiting its correlated response.
// The channel is buffered so the resolving side never blocks; removal from
// the pending map under the mutex guarantees exactly one resolution.
type pendingRequest struct {
	ch    chan outcome
	timer *time.Timer
}

// sendRequest dispatches one JSON-RPC request and waits for its correlated
// response, the deadline timer, whichever fires first. The request id is
// monotonic per client and never reused.
func (c *Client) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)

	payload, err := wire.EncodeRequest(method, params, id)
	if err != nil {
		return nil, &mcperr.ProtocolError{Msg: "encoding request", Err: err}
	}

	p := &pendingRequest{ch: make(chan outcome, 1)}
	c.mu.Lock()
	c.pending[id] = p
	p.timer = time.AfterFunc(c.timeout, func() {
		c.resolve(id, outcome{err: &mcperr.TimeoutError{ServerID: c.cfg.ID, Duration: c.timeout}})
	})
	c.mu.Unlock()

	go c.dispatch(ctx, id, payload)

	out := <-p.ch
	return out.result, out.err
}

// dispatch performs the transport exchange for one request in the
// background. If the request has already timed out by the time the response
// arrives, the response is dropped by the correlation table.
func (c *Client) dispatch(ctx context.Context, id int64, payload []byte) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	result, err := c.transport.Send(ctx, c.target(), sessionID, payload)
	if err != nil {
		c.resolve(id, outcome{err: c.wrapTransportError(err)})
		return
	}

	// First session id wins; a later value never overwrites it.
	if result.SessionID != "" {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = result.SessionID
		}
		c.mu.Unlock()
	}

	resp, err := wire.Decode(result.ContentType, result.Body)
	if err != nil {
		c.resolve(id, outcome{err: &mcperr.ProtocolError{Msg: "decoding response", Err: err}})
		return
	}

	c.handleResponse(resp)
}

// handleResponse routes a decoded response to its pending request by id.
// A response with no matching pending entry is logged and dropped.
func (c *Client) handleResponse(resp *wire.Response) {
	var out outcome
	if resp.Error != nil {
		out = outcome{err: &mcperr.ProtocolError{
			Msg: "server returned an error",
			Err: resp.Error,
		}}
	} else {
		out = outcome{result: resp.Result}
	}

	if !c.resolve(resp.ID, out) {
		c.logger.Warn("dropping response with no pending request", "response_id", resp.ID)
	}
}

// resolve completes the pending request with the given id. It reports false
// when the id is no longer pending (already resolved, timed out, or
// rejected on disconnect).
func (c *Client) resolve(id int64, out outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- out
	return true
}

// notify sends a fire-and-forget notification. Failures are logged, never
// propagated: there is no response to correlate.
func (c *Client) notify(ctx context.Context, method string, params any) {
	payload, err := wire.EncodeNotification(method, params)
	if err != nil {
		c.logger.Warn("encoding notification failed", "method", method, "error", err)
		return
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if _, err := c.transport.Send(ctx, c.target(), sessionID, payload); err != nil {
		c.logger.Warn("sending notification failed", "method", method, "error", err)
	}
}

// target builds the transport target from the server config.
func (c *Client) target() transport.Target {
	return transport.Target{
		ServerID: c.cfg.ID,
		URL:      c.cfg.URL,
		Headers:  c.cfg.Headers,
		Timeout:  c.timeout,
	}
}
