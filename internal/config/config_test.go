// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalServers = `
servers:
  - name: mcp-sharepoint
    url: http://localhost:5101/sse
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configContent := `
server:
  http_addr: "127.0.0.1:8090"

servers:
  - name: mcp-sharepoint
    url: http://localhost:5101/sse
  - name: mcp-servicenow
    url: http://localhost:5102/sse

allowlist:
  path: ./allowlist.yaml

planner:
  base_url: http://llm.local:8008/v1/
  model: test-model
  max_tokens: 128
  temperature: 0.1
  timeout: 30s
  requests_per_second: 2
  burst: 1

summarize:
  enabled: true

timeouts:
  endpoint: 5s
  call: 45s

audit:
  trace_dir: ./traces
  database_path: ./toolgate.db

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, "config.yaml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8090")
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("Servers len = %d, want 2", len(cfg.Servers))
	}
	if cfg.Servers[1].Name != "mcp-servicenow" {
		t.Errorf("Servers[1].Name = %q, want %q", cfg.Servers[1].Name, "mcp-servicenow")
	}
	if cfg.Allowlist.Path != "./allowlist.yaml" {
		t.Errorf("Allowlist.Path = %q, want %q", cfg.Allowlist.Path, "./allowlist.yaml")
	}

	// Trailing slash is trimmed from the planner base URL
	if cfg.Planner.BaseURL != "http://llm.local:8008/v1" {
		t.Errorf("Planner.BaseURL = %q, want %q", cfg.Planner.BaseURL, "http://llm.local:8008/v1")
	}
	if cfg.Planner.Model != "test-model" {
		t.Errorf("Planner.Model = %q, want %q", cfg.Planner.Model, "test-model")
	}
	if cfg.Planner.Timeout != 30*time.Second {
		t.Errorf("Planner.Timeout = %v, want %v", cfg.Planner.Timeout, 30*time.Second)
	}
	if cfg.Planner.RequestsPerSecond != 2 {
		t.Errorf("Planner.RequestsPerSecond = %v, want 2", cfg.Planner.RequestsPerSecond)
	}
	if !cfg.Summarize.Enabled {
		t.Error("Summarize.Enabled = false, want true")
	}

	if cfg.Timeouts.Endpoint != 5*time.Second {
		t.Errorf("Timeouts.Endpoint = %v, want %v", cfg.Timeouts.Endpoint, 5*time.Second)
	}
	if cfg.Timeouts.Call != 45*time.Second {
		t.Errorf("Timeouts.Call = %v, want %v", cfg.Timeouts.Call, 45*time.Second)
	}
	// Unset timeouts fall back to defaults
	if cfg.Timeouts.Discovery != DefaultDiscoveryTimeout {
		t.Errorf("Timeouts.Discovery = %v, want %v", cfg.Timeouts.Discovery, DefaultDiscoveryTimeout)
	}

	if cfg.Audit.TraceDir != "./traces" {
		t.Errorf("Audit.TraceDir = %q, want %q", cfg.Audit.TraceDir, "./traces")
	}
	if cfg.Audit.DatabasePath != "./toolgate.db" {
		t.Errorf("Audit.DatabasePath = %q, want %q", cfg.Audit.DatabasePath, "./toolgate.db")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalServers))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Planner.BaseURL != DefaultPlannerBaseURL {
		t.Errorf("Planner.BaseURL = %q, want %q", cfg.Planner.BaseURL, DefaultPlannerBaseURL)
	}
	if cfg.Planner.Model != DefaultPlannerModel {
		t.Errorf("Planner.Model = %q, want %q", cfg.Planner.Model, DefaultPlannerModel)
	}
	if cfg.Allowlist.Path != DefaultAllowlistPath {
		t.Errorf("Allowlist.Path = %q, want %q", cfg.Allowlist.Path, DefaultAllowlistPath)
	}
	if cfg.Timeouts.Call != DefaultCallTimeout {
		t.Errorf("Timeouts.Call = %v, want %v", cfg.Timeouts.Call, DefaultCallTimeout)
	}
	if cfg.Summarize.Enabled {
		t.Error("Summarize.Enabled = true, want false")
	}

	// Default shortcut table in precedence order
	if len(cfg.Shortcuts) != 3 {
		t.Fatalf("Shortcuts len = %d, want 3", len(cfg.Shortcuts))
	}
	wantTools := []string{"fetch_sharepoint_doc", "fetch_policy_entry", "get_ticket"}
	for i, want := range wantTools {
		if cfg.Shortcuts[i].Tool != want {
			t.Errorf("Shortcuts[%d].Tool = %q, want %q", i, cfg.Shortcuts[i].Tool, want)
		}
	}
}

func TestLoad_TOML(t *testing.T) {
	configContent := `
[[servers]]
name = "mcp-policy-kb"
url = "http://localhost:5103/sse"

[planner]
model = "toml-model"
timeout = "15s"

[summarize]
enabled = true

[logging]
level = "warn"
format = "text"
`
	cfg, err := Load(writeConfig(t, "toolgate.toml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "mcp-policy-kb" {
		t.Errorf("Servers = %+v, want one mcp-policy-kb entry", cfg.Servers)
	}
	if cfg.Planner.Model != "toml-model" {
		t.Errorf("Planner.Model = %q, want %q", cfg.Planner.Model, "toml-model")
	}
	if cfg.Planner.Timeout != 15*time.Second {
		t.Errorf("Planner.Timeout = %v, want %v", cfg.Planner.Timeout, 15*time.Second)
	}
	if !cfg.Summarize.Enabled {
		t.Error("Summarize.Enabled = false, want true")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_LLM_API_KEY", "sk-from-env")
	t.Setenv("TEST_SP_URL", "http://sp.internal:5101/sse")

	configContent := `
servers:
  - name: mcp-sharepoint
    url: "${TEST_SP_URL}"
planner:
  api_key: "${TEST_LLM_API_KEY}"
`
	cfg, err := Load(writeConfig(t, "config.yaml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Planner.APIKey != "sk-from-env" {
		t.Errorf("Planner.APIKey = %q, want %q", cfg.Planner.APIKey, "sk-from-env")
	}
	if cfg.Servers[0].URL != "http://sp.internal:5101/sse" {
		t.Errorf("Servers[0].URL = %q, want %q", cfg.Servers[0].URL, "http://sp.internal:5101/sse")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configContent := minimalServers + `
planner:
  api_key: "${UNSET_VAR_FOR_TEST}"
`
	cfg, err := Load(writeConfig(t, "config.yaml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Planner.APIKey != "" {
		t.Errorf("Planner.APIKey = %q, want empty string for unset env var", cfg.Planner.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unparseable call timeout",
			content: minimalServers + "timeouts:\n  call: \"soon\"\n",
			errMsg:  "timeouts.call",
		},
		{
			name:    "negative planner timeout",
			content: minimalServers + "planner:\n  timeout: \"-1s\"\n",
			errMsg:  "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Load() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "toolgate.example.yaml"))
	if err != nil {
		t.Fatalf("Load() example config failed: %v", err)
	}
	if len(cfg.Servers) != 3 {
		t.Errorf("Servers = %d, want 3", len(cfg.Servers))
	}
	if len(cfg.Shortcuts) != len(DefaultShortcuts()) {
		t.Errorf("Shortcuts = %d, want %d", len(cfg.Shortcuts), len(DefaultShortcuts()))
	}
	for i, sc := range cfg.Shortcuts {
		if sc.Pattern != DefaultShortcuts()[i].Pattern {
			t.Errorf("Shortcuts[%d].Pattern = %q, want %q", i, sc.Pattern, DefaultShortcuts()[i].Pattern)
		}
	}
	if cfg.Planner.Timeout != 60*time.Second {
		t.Errorf("Planner.Timeout = %v, want 60s", cfg.Planner.Timeout)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "servers: [unclosed"))
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Servers: []ToolServer{{Name: "mcp-sharepoint", URL: "http://localhost:5101/sse"}},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "no servers",
			mutate: func(c *Config) { c.Servers = nil },
			errMsg: "at least one entry in servers is required",
		},
		{
			name:   "missing server name",
			mutate: func(c *Config) { c.Servers[0].Name = "" },
			errMsg: "servers[0].name is required",
		},
		{
			name: "duplicate server name",
			mutate: func(c *Config) {
				c.Servers = append(c.Servers, ToolServer{Name: "mcp-sharepoint", URL: "http://localhost:5102/sse"})
			},
			errMsg: "duplicated",
		},
		{
			name:   "relative server url",
			mutate: func(c *Config) { c.Servers[0].URL = "/sse" },
			errMsg: "must be an absolute URL",
		},
		{
			name:   "bad shortcut pattern",
			mutate: func(c *Config) { c.Shortcuts[0].Pattern = "(" },
			errMsg: "shortcuts[0].pattern",
		},
		{
			name:   "incomplete shortcut",
			mutate: func(c *Config) { c.Shortcuts[1].Arg = "" },
			errMsg: "shortcuts[1] requires",
		},
		{
			name:   "negative temperature",
			mutate: func(c *Config) { c.Planner.Temperature = -0.5 },
			errMsg: "planner.temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}
