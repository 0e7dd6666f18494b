// ABOUTME: JSON-RPC 2.0 request/notification encoding and response decoding.
// ABOUTME: Parses plain JSON bodies and SSE event-stream bodies into responses.

package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// doneSentinel marks the end of an SSE stream and carries no payload.
const doneSentinel = "[DONE]"

// Request represents a JSON-RPC 2.0 request with a correlation id.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification represents a JSON-RPC 2.0 notification (a request without an id).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object embedded in a failed JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so RPC errors can travel as Go errors.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// EncodeRequest marshals a JSON-RPC request for the given method, params and id.
func EncodeRequest(method string, params any, id int64) ([]byte, error) {
	data, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request %q: %w", method, err)
	}
	return data, nil
}

// EncodeNotification marshals a JSON-RPC notification for the given method.
func EncodeNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding notification %q: %w", method, err)
	}
	return data, nil
}

// Decode parses an HTTP response body into a JSON-RPC response based on its
// Content-Type. Supported types are application/json and text/event-stream;
// anything else is a decode failure.
func Decode(contentType string, body []byte) (*Response, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(body)
	case "text/event-stream":
		return decodeSSE(body)
	default:
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}
}

// decodeJSON parses a plain JSON body as a single JSON-RPC response.
func decodeJSON(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing JSON-RPC response: %w", err)
	}
	return &resp, nil
}

// decodeSSE scans an event-stream body line by line, collects every data:
// payload (skipping the [DONE] sentinel), and parses the concatenation as one
// JSON-RPC response. A body with no data: lines is a decode failure rather
// than an empty result.
func decodeSSE(body []byte) (*Response, error) {
	var payload strings.Builder
	sawData := false

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			continue
		}
		payload.WriteString(data)
		sawData = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event stream: %w", err)
	}
	if !sawData {
		return nil, fmt.Errorf("event stream contained no data lines")
	}

	var resp Response
	if err := json.Unmarshal([]byte(payload.String()), &resp); err != nil {
		return nil, fmt.Errorf("parsing event stream payload: %w", err)
	}
	return &resp, nil
}
