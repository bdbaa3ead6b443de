// Package config handles loading and validating Fundi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Default model and token limit when the config file leaves them unset.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Config is the root configuration for Fundi.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.fundi/workspace. Override: FUNDI_WORKSPACE env var.
	Anthropic     AnthropicConfig      `json:"anthropic" yaml:"anthropic"`
	Chat          ChatConfig           `json:"chat" yaml:"chat"`
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = HTTP gateway disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from workspace)
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
}

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY or FUNDI_API_KEY env var.
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"` // Rate-limit retry budget. Default: 3.
}

// ChatConfig configures conversation behavior.
type ChatConfig struct {
	Model         string `json:"model" yaml:"model"` // Default: DefaultModel. Override: FUNDI_MODEL env var.
	SystemPrompt  string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`         // Default: 4096.
	MaxIterations int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"` // Tool loop cap. Default: 25.
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	ListenAddr        string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs        bool              `json:"enable_docs" yaml:"enable_docs"`
	APIKeyUserMapping map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
	RateLimit         RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures request rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "fundi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// StorageConfig configures the usage accounting database.
// When nil, the SQLite path is derived from the workspace.
type StorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // SQLite database file path.
}

// ToolsConfig configures external tool sources. Host-injected tools are
// registered programmatically and need no configuration.
type ToolsConfig struct {
	MCP []MCPServerConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"` // External MCP tool servers.
}

// MCPServerConfig defines a single external MCP server connection.
// Fundi acts as an MCP client, connecting at startup, discovering tools,
// and registering them in the tool registry.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`                           // Server ID used for tool namespacing (e.g., "github").
	Transport string            `json:"transport" yaml:"transport"`                 // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"` // Executable to launch (stdio only).
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`       // Command arguments (stdio only).
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`         // Server endpoint (sse/streamable_http only).
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
}

// DefaultConfigPath returns the default config file path (~/.fundi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/fundi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".fundi", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file at the default path yields a default config
// so the CLI works with nothing but ANTHROPIC_API_KEY set. Environment
// variables take precedence over config file values.
func Load(path string) (*Config, error) {
	var cfg Config

	usingDefault := path == ""
	if usingDefault {
		path = DefaultConfigPath()
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	case os.IsNotExist(err) && usingDefault:
		// No config file: environment and defaults carry everything.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
func applyEnvOverrides(cfg *Config) {
	cfg.Anthropic.APIKey = goutils.Env("ANTHROPIC_API_KEY",
		goutils.Env("FUNDI_API_KEY", cfg.Anthropic.APIKey))
	cfg.Workspace = goutils.Env("FUNDI_WORKSPACE", cfg.Workspace)
	cfg.Chat.Model = goutils.Env("FUNDI_MODEL", cfg.Chat.Model)
	cfg.Chat.SystemPrompt = goutils.Env("FUNDI_SYSTEM_PROMPT", cfg.Chat.SystemPrompt)
}

func applyDefaults(cfg *Config) {
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = DefaultModel
	}
	if cfg.Chat.MaxTokens <= 0 {
		cfg.Chat.MaxTokens = DefaultMaxTokens
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Chat.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens must not be negative")
	}
	if c.Chat.MaxIterations < 0 {
		return fmt.Errorf("chat.max_iterations must not be negative")
	}
	if c.Anthropic.MaxRetries < 0 {
		return fmt.Errorf("anthropic.max_retries must not be negative")
	}
	if c.Gateway != nil && c.Gateway.Enabled && len(c.Gateway.APIKeyUserMapping) == 0 {
		return fmt.Errorf("gateway.api_key_user_mapping must not be empty when the gateway is enabled")
	}

	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}
