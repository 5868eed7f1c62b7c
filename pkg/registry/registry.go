// Package registry builds and serves the gateway's authoritative tool routing
// table: one flat namespace mapping each tool name to the backend that owns
// it. The table is built once, lazily, from every backend's catalog; it is
// never refreshed during the process lifetime.
package registry

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
)

// State tracks the registry lifecycle. It only moves forward:
// uninitialized → building → ready, and ready is terminal.
type State int

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Entry is one registered tool: the read-only descriptor reported by the
// owning backend at build time, and the backend itself.
type Entry struct {
	Backend *backend.Client
	Tool    *mcp.Tool
}

// Registry is the name→backend routing table with a single-build guarantee.
// Every caller arriving before the build finishes awaits the same in-flight
// build via the shared done channel.
type Registry struct {
	backends []*backend.Client
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	done   chan struct{}
	routes map[string]Entry
}

// New prepares an unbuilt registry over the given backend fleet. timeout
// bounds each backend's enumeration call during the build.
func New(backends []*backend.Client, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backends: backends,
		timeout:  timeout,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ensure returns once the registry is ready, triggering the one-time build if
// nobody has yet. Concurrent callers collapse onto the same build. The error
// is non-nil only when ctx is done before the build completes; the build
// itself cannot fail, since unreachable backends are skipped rather than
// fatal.
func (r *Registry) Ensure(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateReady:
		r.mu.Unlock()
		return nil
	case StateUninitialized:
		r.state = StateBuilding
		go r.build()
	}
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup resolves a tool name to its registered entry. Valid in any state;
// before ready it simply reports no match.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.routes[name]
	return entry, ok
}

// Names returns the sorted set of registered tool names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.routes))
}

type enumeration struct {
	client *backend.Client
	tools  []*mcp.Tool
	err    error
}

// build enumerates every backend in parallel and registers tools in
// answer-arrival order, first name wins. It always terminates in StateReady,
// even with zero reachable backends.
func (r *Registry) build() {
	start := time.Now()
	results := make(chan enumeration, len(r.backends))

	// Detached from any request context: the build serves all callers, and a
	// single dead backend is bounded by the per-backend timeout.
	g := new(errgroup.Group)
	for _, client := range r.backends {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			tools, err := client.ListTools(ctx)
			results <- enumeration{client: client, tools: tools, err: err}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	routes := make(map[string]Entry)
	reached := 0
	for res := range results {
		if res.err != nil {
			r.logger.Warn("skipping unreachable backend",
				"backend", res.client.Name(), "error", res.err)
			continue
		}
		reached++
		for _, tool := range res.tools {
			if tool == nil || tool.Name == "" {
				continue
			}
			if existing, ok := routes[tool.Name]; ok {
				r.logger.Warn("duplicate tool name, keeping first registration",
					"tool", tool.Name,
					"owner", existing.Backend.Name(),
					"duplicate", res.client.Name())
				continue
			}
			routes[tool.Name] = Entry{Backend: res.client, Tool: tool}
		}
	}

	r.mu.Lock()
	r.routes = routes
	r.state = StateReady
	r.mu.Unlock()

	r.logger.Info("registry ready",
		"tools", len(routes),
		"backends_reached", reached,
		"backends_configured", len(r.backends),
		"elapsed", time.Since(start))
	close(r.done)
}
