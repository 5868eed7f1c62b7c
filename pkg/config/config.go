// Package config loads the gateway's backend fleet declaration and runtime
// tuning from a JSON or YAML file, selected by extension. The backend set is
// fixed for the process lifetime; configuration is read once at startup.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolfleet/mcp-stdio-gateway/pkg/backend"
)

// Config is the complete gateway configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	// Backends maps logical backend names to their endpoints.
	Backends map[string]BackendConfig `yaml:"backends" json:"backends"`

	// Timeouts tune the gateway's bounded operations.
	Timeouts TimeoutConfig `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`

	// Status optionally enables the diagnostic HTTP listener.
	Status *StatusConfig `yaml:"status,omitempty" json:"status,omitempty"`
}

// BackendConfig declares one tool server endpoint.
type BackendConfig struct {
	URL        string `yaml:"url" json:"url"`
	RPCPath    string `yaml:"rpc_path,omitempty" json:"rpc_path,omitempty"`
	HealthPath string `yaml:"health_path,omitempty" json:"health_path,omitempty"`
}

// TimeoutConfig holds durations in seconds. Zero values fall back to gateway
// defaults; invoke defaults to unbounded.
type TimeoutConfig struct {
	EnumerateSeconds int `yaml:"enumerate_seconds,omitempty" json:"enumerate_seconds,omitempty"`
	InvokeSeconds    int `yaml:"invoke_seconds,omitempty" json:"invoke_seconds,omitempty"`
	DrainSeconds     int `yaml:"drain_seconds,omitempty" json:"drain_seconds,omitempty"`
}

// StatusConfig configures the diagnostic HTTP listener.
type StatusConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// Default returns a configuration with no backends and default tuning.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backends: make(map[string]BackendConfig),
	}
}

// Load reads and validates a configuration file. The format follows the file
// extension: .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .yaml, .yml, or .json)", ext)
	}
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every declared backend endpoint.
func (c *Config) Validate() error {
	for name, be := range c.Backends {
		if name == "" {
			return fmt.Errorf("backend with empty name")
		}
		if be.URL == "" {
			return fmt.Errorf("backend %s: url is required", name)
		}
		u, err := url.Parse(be.URL)
		if err != nil {
			return fmt.Errorf("backend %s: invalid url: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend %s: unsupported url scheme %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("backend %s: url %q has no host", name, be.URL)
		}
	}
	return nil
}

// Endpoints converts the backend map into endpoint descriptions, sorted by
// name so logs and client construction stay deterministic.
func (c *Config) Endpoints() []backend.Endpoint {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	slices.Sort(names)

	endpoints := make([]backend.Endpoint, 0, len(names))
	for _, name := range names {
		be := c.Backends[name]
		endpoints = append(endpoints, backend.Endpoint{
			Name:       name,
			BaseURL:    be.URL,
			RPCPath:    be.RPCPath,
			HealthPath: be.HealthPath,
		})
	}
	return endpoints
}

// EnumerateTimeout returns the configured enumeration bound, zero when unset.
func (c *Config) EnumerateTimeout() time.Duration {
	return time.Duration(c.Timeouts.EnumerateSeconds) * time.Second
}

// InvokeTimeout returns the configured invocation bound, zero when unset.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.Timeouts.InvokeSeconds) * time.Second
}

// DrainTimeout returns the configured shutdown grace window, zero when unset.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Timeouts.DrainSeconds) * time.Second
}

// ParseLevel maps a configured log level name onto slog. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
