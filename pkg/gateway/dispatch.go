package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/jsonrpc"
)

// protocolVersion is the fixed protocol revision advertised in handshake
// responses.
const protocolVersion = "2025-03-26"

const methodInitialize = "initialize"

// method is the tagged dispatch target for an inbound request, replacing
// string comparison at the dispatch site so every arm has an explicit input
// contract.
type method int

const (
	methodUnknown method = iota
	methodHandshake
	methodEnumerateTools
	methodInvokeTool
)

func parseMethod(name string) method {
	switch name {
	case methodInitialize:
		return methodHandshake
	case backend.MethodListTools:
		return methodEnumerateTools
	case backend.MethodCallTool:
		return methodInvokeTool
	default:
		return methodUnknown
	}
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) {
	switch parseMethod(req.Method) {
	case methodHandshake:
		s.handleInitialize(req)
	case methodEnumerateTools:
		s.handleListTools(ctx, req)
	case methodInvokeTool:
		s.handleCallTool(ctx, req)
	default:
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil))
	}
}

// handleInitialize answers the handshake locally with a fixed capability
// descriptor. It never touches the registry.
func (s *Server) handleInitialize(req *jsonrpc.Request) {
	result := &mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{},
		},
		ServerInfo: s.opts.ServerInfo,
	}
	s.write(jsonrpc.NewResult(req.ID, result))
}

// handleListTools live-queries every backend and concatenates the catalogs in
// configured backend order. This is a descriptive best-effort union, distinct
// from the registry's first-wins routing map: duplicates are allowed, failing
// backends are skipped, and registry state is left untouched.
func (s *Server) handleListTools(ctx context.Context, req *jsonrpc.Request) {
	catalogs := make([][]*mcp.Tool, len(s.backends))
	g := new(errgroup.Group)
	for i, client := range s.backends {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.opts.EnumerateTimeout)
			defer cancel()
			tools, err := client.ListTools(callCtx)
			if err != nil {
				s.logger.Warn("catalog query failed", "backend", client.Name(), "error", err)
				return nil
			}
			catalogs[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	tools := make([]*mcp.Tool, 0)
	for _, catalog := range catalogs {
		tools = append(tools, catalog...)
	}
	s.write(jsonrpc.NewResult(req.ID, &mcp.ListToolsResult{Tools: tools}))
}

// handleCallTool routes an invocation to the owning backend, building the
// registry first if this is the first invocation. The original envelope is
// forwarded unmodified and the backend's reply is relayed verbatim; the
// gateway only translates routing and transport failures.
func (s *Server) handleCallTool(ctx context.Context, req *jsonrpc.Request) {
	var params struct {
		Name string `json:"name"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams,
				"invalid tool call params: "+err.Error(), nil))
			return
		}
	}
	if params.Name == "" {
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "missing tool name", nil))
		return
	}

	if err := s.registry.Ensure(ctx); err != nil {
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError,
			"registry build interrupted: "+err.Error(), nil))
		return
	}

	entry, ok := s.registry.Lookup(params.Name)
	if !ok {
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("tool not found: %s", params.Name),
			map[string]any{"availableTools": s.registry.Names()}))
		return
	}

	callCtx := ctx
	if s.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.InvokeTimeout)
		defer cancel()
	}
	_, raw, err := entry.Backend.Call(callCtx, req)
	if err != nil {
		s.logger.Error("tool invocation failed",
			"tool", params.Name, "backend", entry.Backend.Name(), "error", err)
		msg := err.Error()
		var terr *backend.TransportError
		if errors.As(err, &terr) {
			msg = terr.Err.Error()
		}
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeBackendError,
			fmt.Sprintf("backend %s failed executing %s: %s", entry.Backend.Name(), params.Name, msg),
			map[string]any{"backend": entry.Backend.Name(), "tool": params.Name}))
		return
	}
	if err := s.writer.WriteRaw(raw); err != nil {
		s.logger.Error("failed to relay backend response",
			"tool", params.Name, "backend", entry.Backend.Name(), "error", err)
	}
}
