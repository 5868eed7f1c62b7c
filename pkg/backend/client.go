// Package backend performs single JSON-RPC round trips against one HTTP tool
// server. It is a pure transport: no retries, no reinterpretation of tool
// results. Failures surface as *TransportError so the dispatcher can classify
// them into protocol-level error responses.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/jsonrpc"
)

// Methods of the backend RPC contract consumed by the gateway.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

const (
	DefaultRPCPath    = "/rpc"
	DefaultHealthPath = "/health"

	maxResponseSize = 32 * 1024 * 1024
)

// Endpoint describes one configured tool server. It is fixed for the process
// lifetime.
type Endpoint struct {
	// Name is the logical backend identifier used in logs and error payloads.
	Name string
	// BaseURL is the server root, e.g. "http://127.0.0.1:9301".
	BaseURL string
	// RPCPath is the JSON-RPC endpoint path. Defaults to DefaultRPCPath.
	RPCPath string
	// HealthPath is the healthcheck path. Defaults to DefaultHealthPath.
	HealthPath string
}

// TransportError reports a failed round trip: connection failure, timeout,
// non-success status, or a body that is not a JSON-RPC envelope.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to a single backend endpoint.
type Client struct {
	endpoint  Endpoint
	rpcURL    string
	healthURL string
	http      *http.Client
}

// NewClient builds a client for ep. A nil httpClient falls back to
// http.DefaultClient; per-call deadlines come from the caller's context.
func NewClient(ep Endpoint, httpClient *http.Client) *Client {
	if ep.RPCPath == "" {
		ep.RPCPath = DefaultRPCPath
	}
	if ep.HealthPath == "" {
		ep.HealthPath = DefaultHealthPath
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimSuffix(ep.BaseURL, "/")
	return &Client{
		endpoint:  ep,
		rpcURL:    base + ep.RPCPath,
		healthURL: base + ep.HealthPath,
		http:      httpClient,
	}
}

// Name returns the logical backend identifier.
func (c *Client) Name() string { return c.endpoint.Name }

// Endpoint returns the static endpoint description.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Call posts one envelope to the backend's RPC path and returns the parsed
// reply together with its raw bytes, so routing layers can relay the envelope
// verbatim. Any transport-level failure is returned as *TransportError.
func (c *Client) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request for backend %s: %w", c.endpoint.Name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request for backend %s: %w", c.endpoint.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, &TransportError{Backend: c.endpoint.Name, Op: "post " + c.endpoint.RPCPath, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, &TransportError{Backend: c.endpoint.Name, Op: "read response", Err: err}
	}
	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return nil, nil, &TransportError{
			Backend: c.endpoint.Name,
			Op:      "post " + c.endpoint.RPCPath,
			Err:     fmt.Errorf("unexpected status %s", httpResp.Status),
		}
	}
	var envelope jsonrpc.Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, &TransportError{Backend: c.endpoint.Name, Op: "decode response", Err: err}
	}
	return &envelope, raw, nil
}

// ListTools issues one tool-enumeration call and decodes the catalog.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	req := &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage(`"catalog"`),
		Method:  MethodListTools,
	}
	_, raw, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Result *mcp.ListToolsResult `json:"result"`
		Error  *jsonrpc.Error       `json:"error"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, &TransportError{Backend: c.endpoint.Name, Op: "decode catalog", Err: err}
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("backend %s rejected enumeration: %w", c.endpoint.Name, reply.Error)
	}
	if reply.Result == nil {
		return nil, nil
	}
	return reply.Result.Tools, nil
}

// Healthy probes the backend healthcheck path.
func (c *Client) Healthy(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request for backend %s: %w", c.endpoint.Name, err)
	}
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Backend: c.endpoint.Name, Op: "get " + c.endpoint.HealthPath, Err: err}
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return &TransportError{
			Backend: c.endpoint.Name,
			Op:      "get " + c.endpoint.HealthPath,
			Err:     fmt.Errorf("unexpected status %s", httpResp.Status),
		}
	}
	return nil
}
