package gateway

import (
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Server instance.
type Options struct {
	// ServerInfo identifies the gateway in handshake responses.
	ServerInfo *mcp.Implementation
	// Logger receives structured diagnostics. It must never write to stdout.
	// Defaults to a JSON handler on stderr.
	Logger *slog.Logger
	// EnumerateTimeout bounds each backend catalog call, both during the
	// one-time registry build and the live tools/list fan-out.
	EnumerateTimeout time.Duration
	// InvokeTimeout optionally bounds forwarded tool invocations. Zero leaves
	// forwarding unbounded, matching the enumeration-only timeout asymmetry of
	// the backend contract.
	InvokeTimeout time.Duration
	// DrainTimeout bounds how long shutdown waits for in-flight responses.
	DrainTimeout time.Duration
	// StatusAddr optionally serves the diagnostic HTTP listener. Empty
	// disables it.
	StatusAddr string
	// StatusAllowedOrigins configures CORS on the status listener.
	StatusAllowedOrigins []string
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.ServerInfo == nil {
		opts.ServerInfo = &mcp.Implementation{
			Name:    "mcp-stdio-gateway",
			Title:   "MCP Stdio Gateway",
			Version: "1.0.0",
		}
	} else {
		info := *opts.ServerInfo
		opts.ServerInfo = &info
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if opts.EnumerateTimeout <= 0 {
		opts.EnumerateTimeout = 10 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	return opts
}
