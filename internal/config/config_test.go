package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "fundi.yaml", `
workspace: /tmp/fundi-ws
anthropic:
  api_key: key-from-file
  max_retries: 5
chat:
  model: claude-test
  max_tokens: 2048
  max_iterations: 10
tools:
  mcp:
    - name: github
      transport: stdio
      command: github-mcp
`)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("FUNDI_API_KEY", "")
	t.Setenv("FUNDI_MODEL", "")
	t.Setenv("FUNDI_WORKSPACE", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "key-from-file" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Anthropic.MaxRetries)
	}
	if cfg.Chat.Model != "claude-test" || cfg.Chat.MaxTokens != 2048 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if len(cfg.Tools.MCP) != 1 || cfg.Tools.MCP[0].Name != "github" {
		t.Errorf("mcp = %+v", cfg.Tools.MCP)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "fundi.json", `{"chat":{"model":"claude-json"}}`)
	t.Setenv("FUNDI_MODEL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.Model != "claude-json" {
		t.Errorf("model = %q", cfg.Chat.Model)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "fundi.yaml", `
anthropic:
  api_key: key-from-file
chat:
  model: model-from-file
`)
	t.Setenv("ANTHROPIC_API_KEY", "key-from-env")
	t.Setenv("FUNDI_MODEL", "model-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "key-from-env" {
		t.Errorf("api key = %q, want env value", cfg.Anthropic.APIKey)
	}
	if cfg.Chat.Model != "model-from-env" {
		t.Errorf("model = %q, want env value", cfg.Chat.Model)
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeConfig(t, "fundi.yaml", `anthropic: {api_key: k}`)
	t.Setenv("FUNDI_MODEL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.Model != DefaultModel {
		t.Errorf("model = %q, want default", cfg.Chat.Model)
	}
	if cfg.Chat.MaxTokens != DefaultMaxTokens {
		t.Errorf("max tokens = %d, want default", cfg.Chat.MaxTokens)
	}
}

func TestValidateRejectsBadMCP(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `tools: {mcp: [{transport: stdio, command: x}]}`},
		{"duplicate name", `tools: {mcp: [{name: a, transport: stdio, command: x}, {name: a, transport: stdio, command: x}]}`},
		{"stdio without command", `tools: {mcp: [{name: a, transport: stdio}]}`},
		{"sse without url", `tools: {mcp: [{name: a, transport: sse}]}`},
		{"unknown transport", `tools: {mcp: [{name: a, transport: carrier-pigeon}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "fundi.yaml", tc.body)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGatewayRequiresAPIKeys(t *testing.T) {
	path := writeConfig(t, "fundi.yaml", `gateway: {enabled: true}`)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for gateway without API keys")
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config path")
	}
}
