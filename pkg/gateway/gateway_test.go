package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/jsonrpc"
)

// fakeBackend is an in-process tool server speaking the backend RPC contract:
// POST /rpc for tools/list and tools/call, GET /health for probes.
type fakeBackend struct {
	name      string
	srv       *httptest.Server
	listCalls atomic.Int32
	callDelay time.Duration

	mu       sync.Mutex
	lastCall *jsonrpc.Request
}

func newFakeBackend(t *testing.T, name string, toolNames ...string) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{name: name}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == backend.DefaultHealthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case backend.MethodListTools:
			fb.listCalls.Add(1)
			tools := make([]map[string]any, 0, len(toolNames))
			for _, toolName := range toolNames {
				tools = append(tools, map[string]any{
					"name":        toolName,
					"description": "tool " + toolName + " on " + name,
					"inputSchema": map[string]any{"type": "object"},
				})
			}
			writeEnvelope(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"result": map[string]any{"tools": tools},
			})
		case backend.MethodCallTool:
			if fb.callDelay > 0 {
				time.Sleep(fb.callDelay)
			}
			fb.mu.Lock()
			fb.lastCall = &req
			fb.mu.Unlock()
			var params struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(req.Params, &params)
			writeEnvelope(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"result": map[string]any{
					"content": []map[string]any{
						{"type": "text", "text": params.Name + " handled by " + name},
					},
				},
			})
		default:
			writeEnvelope(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"error": map[string]any{"code": jsonrpc.CodeMethodNotFound, "message": "method not found"},
			})
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func writeEnvelope(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (fb *fakeBackend) client() *backend.Client {
	return backend.NewClient(backend.Endpoint{Name: fb.name, BaseURL: fb.srv.URL}, nil)
}

func (fb *fakeBackend) last() *jsonrpc.Request {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.lastCall
}

func deadBackend(name string) *backend.Client {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return backend.NewClient(backend.Endpoint{Name: name, BaseURL: url}, nil)
}

func newGateway(t *testing.T, in io.Reader, opts *Options, clients ...*backend.Client) (*Server, *bytes.Buffer) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	out := &bytes.Buffer{}
	return NewServer(clients, in, out, opts), out
}

// envelope mirrors a response line with raw members for assertions.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

func decodeLines(t *testing.T, out *bytes.Buffer) []envelope {
	t.Helper()
	var envelopes []envelope
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var env envelope
		require.NoError(t, json.Unmarshal([]byte(line), &env), "bad response line: %s", line)
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func byID(t *testing.T, envelopes []envelope, id string) envelope {
	t.Helper()
	for _, env := range envelopes {
		if string(env.ID) == id {
			return env
		}
	}
	t.Fatalf("no response with id %s", id)
	return envelope{}
}

func TestServeAnswersEveryLineAndSurvivesMalformedInput(t *testing.T) {
	alpha := newFakeBackend(t, "alpha", "foo")
	input := strings.Join([]string{
		`this is not json`,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
	}, "\n") + "\n"

	srv, out := newGateway(t, strings.NewReader(input), nil, alpha.client())
	require.NoError(t, srv.Serve(context.Background()))

	envelopes := decodeLines(t, out)
	require.Len(t, envelopes, 3, "exactly one response line per input line")

	parseErr := byID(t, envelopes, "null")
	require.NotNil(t, parseErr.Error)
	assert.Equal(t, jsonrpc.CodeParseError, parseErr.Error.Code)

	initResp := byID(t, envelopes, "1")
	assert.Nil(t, initResp.Error)
	assert.Contains(t, string(initResp.Result), protocolVersion)

	unknown := byID(t, envelopes, "2")
	require.NotNil(t, unknown.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, unknown.Error.Code)
}

func TestServeEmitsResponsesOutOfArrivalOrder(t *testing.T) {
	alpha := newFakeBackend(t, "alpha", "foo")
	alpha.callDelay = 300 * time.Millisecond

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"foo"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`,
	}, "\n") + "\n"

	srv, out := newGateway(t, strings.NewReader(input), nil, alpha.client())
	require.NoError(t, srv.Serve(context.Background()))

	envelopes := decodeLines(t, out)
	require.Len(t, envelopes, 2)
	// The handshake answers immediately while the slow invocation is still in
	// flight, so the second request's response lands first: correlation ids,
	// not ordering, pair requests with responses.
	assert.Equal(t, "2", string(envelopes[0].ID))
	assert.Equal(t, "1", string(envelopes[1].ID))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	srv, _ := newGateway(t, pr, &Options{DrainTimeout: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not drain after cancellation")
	}
}

func TestServeLetsInFlightInvocationsOutliveCancellation(t *testing.T) {
	alpha := newFakeBackend(t, "alpha", "foo")
	alpha.callDelay = 500 * time.Millisecond

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	srv, out := newGateway(t, pr, &Options{DrainTimeout: 5 * time.Second}, alpha.client())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"foo"}}` + "\n"))
	require.NoError(t, err)

	// Cancel while the invocation is pending at the backend. A forwarded call
	// has no cancellation channel: the shutdown signal stops ingestion only,
	// and the drain window lets the pending response complete.
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("Serve did not return after draining")
	}

	envelopes := decodeLines(t, out)
	require.Len(t, envelopes, 1)
	require.Nil(t, envelopes[0].Error)
	assert.Equal(t, "5", string(envelopes[0].ID))
	assert.Contains(t, string(envelopes[0].Result), "foo handled by alpha")
}

func TestServeSurvivesOversizedInputLine(t *testing.T) {
	alpha := newFakeBackend(t, "alpha", "foo")
	input := strings.Repeat("x", 17*1024*1024) + "\n" +
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n"

	srv, out := newGateway(t, strings.NewReader(input), nil, alpha.client())
	require.NoError(t, srv.Serve(context.Background()))

	envelopes := decodeLines(t, out)
	require.Len(t, envelopes, 2)

	dropped := byID(t, envelopes, "null")
	require.NotNil(t, dropped.Error)
	assert.Equal(t, jsonrpc.CodeParseError, dropped.Error.Code)

	initResp := byID(t, envelopes, "1")
	assert.Nil(t, initResp.Error)
	assert.Contains(t, string(initResp.Result), protocolVersion)
}

func TestServeDrainsInFlightResponsesOnEOF(t *testing.T) {
	alpha := newFakeBackend(t, "alpha", "foo")
	alpha.callDelay = 100 * time.Millisecond

	input := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"foo"}}` + "\n"
	srv, out := newGateway(t, strings.NewReader(input), &Options{DrainTimeout: 3 * time.Second}, alpha.client())
	require.NoError(t, srv.Serve(context.Background()))

	envelopes := decodeLines(t, out)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "7", string(envelopes[0].ID))
	assert.Contains(t, string(envelopes[0].Result), "foo handled by alpha")
}
