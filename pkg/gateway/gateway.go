package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/jsonrpc"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/registry"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/stdio"
)

// Server owns the read/dispatch/write loop for one stdio session.
type Server struct {
	backends []*backend.Client
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger

	reader *stdio.FrameReader
	writer *stdio.ResponseWriter
}

// NewServer wires a gateway over the given backend fleet, reading frames from
// in and writing responses to out.
func NewServer(backends []*backend.Client, in io.Reader, out io.Writer, opts *Options) *Server {
	options := opts.withDefaults()
	return &Server{
		backends: backends,
		registry: registry.New(backends, options.EnumerateTimeout, options.Logger),
		opts:     options,
		logger:   options.Logger,
		reader:   stdio.NewFrameReader(in),
		writer:   stdio.NewResponseWriter(out),
	}
}

// Serve pumps input frames through the dispatcher until ctx is cancelled or
// the input stream ends, then drains in-flight responses within the configured
// grace window. Each frame is handled on its own goroutine, so a slow backend
// suspends one request without blocking ingestion of the next line; responses
// may therefore be emitted out of arrival order, and the correlation id is the
// only request/response matching mechanism.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("gateway started", "backends", len(s.backends))

	if s.opts.StatusAddr != "" {
		statusCtx, stopStatus := context.WithCancel(ctx)
		statusDone := s.serveStatus(statusCtx)
		defer func() {
			stopStatus()
			<-statusDone
		}()
	}

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := s.reader.Next()
			if err != nil {
				if errors.Is(err, stdio.ErrFrameTooLarge) {
					s.logger.Error("dropping oversized input line", "error", err)
					s.write(jsonrpc.NewError(nil, jsonrpc.CodeParseError,
						"parse error: "+err.Error(), nil))
					continue
				}
				if err != io.EOF {
					readErr <- err
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	var inflight sync.WaitGroup
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown signal received, draining")
			break loop
		case frame, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					s.logger.Error("input stream failed", "error", err)
					s.awaitInflight(&inflight)
					return err
				default:
				}
				s.logger.Info("input stream closed, draining")
				break loop
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				// Once forwarded, an invocation has no cancellation channel:
				// the signal context gates frame ingestion only, so in-flight
				// work keeps running through the drain window.
				s.handleFrame(context.WithoutCancel(ctx), frame)
			}()
		}
	}
	s.awaitInflight(&inflight)
	return nil
}

func (s *Server) awaitInflight(inflight *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		s.logger.Warn("drain window elapsed with responses still in flight")
	}
}

// handleFrame is the per-request error boundary: every failure below it,
// including a panic, becomes a response envelope, and the loop keeps running.
func (s *Server) handleFrame(ctx context.Context, frame []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		defer s.recoverRequest(nil)
		if json.Valid(frame) {
			s.write(jsonrpc.NewError(jsonrpc.SalvageID(frame), jsonrpc.CodeInvalidRequest,
				"invalid request: expected a JSON-RPC request object", nil))
			return
		}
		id := jsonrpc.SalvageID(frame)
		s.logger.Error("unparsable input line", "error", err)
		s.write(jsonrpc.NewError(id, jsonrpc.CodeParseError, "parse error: "+err.Error(), nil))
		return
	}
	defer s.recoverRequest(req.ID)
	if req.Method == "" || (req.JSONRPC != "" && req.JSONRPC != jsonrpc.Version) {
		s.write(jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidRequest, "invalid request", nil))
		return
	}
	s.dispatch(ctx, &req)
}

func (s *Server) recoverRequest(id json.RawMessage) {
	if r := recover(); r != nil {
		s.logger.Error("request handler panicked", "panic", r)
		s.write(jsonrpc.NewError(id, jsonrpc.CodeInternalError, "internal error", nil))
	}
}

func (s *Server) write(resp *jsonrpc.Response) {
	if err := s.writer.WriteResponse(resp); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
