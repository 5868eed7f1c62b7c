// Command mcp-gateway bridges a stdio-attached MCP host to a fleet of HTTP
// tool servers declared in a config file or via -backend flags. Protocol
// frames travel on stdin/stdout; every diagnostic is a structured JSON line on
// stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/config"
	"github.com/toolfleet/mcp-stdio-gateway/pkg/gateway"
)

// backendFlags accumulates repeated -backend name=url declarations.
type backendFlags map[string]string

func (b backendFlags) String() string { return fmt.Sprint(map[string]string(b)) }

func (b backendFlags) Set(value string) error {
	name, url, ok := strings.Cut(value, "=")
	if !ok || name == "" || url == "" {
		return fmt.Errorf("expected name=url, got %q", value)
	}
	b[name] = url
	return nil
}

func main() {
	var (
		configPath = flag.String("config", "", "path to gateway configuration (.yaml or .json)")
		statusAddr = flag.String("status", "", "diagnostic HTTP listen address (overrides config)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		backends   = make(backendFlags)
	)
	flag.Var(backends, "backend", "additional backend as name=url (repeatable)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	for name, url := range backends {
		cfg.Backends[name] = config.BackendConfig{URL: url}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *statusAddr != "" {
		cfg.Status = &config.StatusConfig{Addr: *statusAddr}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	endpoints := cfg.Endpoints()
	clients := make([]*backend.Client, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, backend.NewClient(ep, nil))
	}
	if len(clients) == 0 {
		logger.Warn("no backends configured, serving an empty tool namespace")
	}

	opts := &gateway.Options{
		Logger:           logger,
		EnumerateTimeout: cfg.EnumerateTimeout(),
		InvokeTimeout:    cfg.InvokeTimeout(),
		DrainTimeout:     cfg.DrainTimeout(),
	}
	if cfg.Status != nil {
		opts.StatusAddr = cfg.Status.Addr
		opts.StatusAllowedOrigins = cfg.Status.AllowedOrigins
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := gateway.NewServer(clients, os.Stdin, os.Stdout, opts)
	if err := gateway.Supervise(logger, func() error { return srv.Serve(ctx) }); err != nil {
		logger.Error("gateway terminated", "error", err)
		os.Exit(1)
	}
}
