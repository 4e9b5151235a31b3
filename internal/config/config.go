// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied by ApplyDefaults.
const (
	DefaultPlannerBaseURL   = "http://localhost:8008/v1"
	DefaultPlannerModel     = "Qwen/Qwen2.5-7B-Instruct"
	DefaultPlannerMaxTokens = 256
	DefaultSummaryMaxTokens = 512
	DefaultAllowlistPath    = "config/allowlist.json"

	DefaultEndpointTimeout  = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultCallTimeout      = 20 * time.Second
	DefaultPlannerTimeout   = 60 * time.Second
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig     `yaml:"server" toml:"server"`
	Servers   []ToolServer     `yaml:"servers" toml:"servers"`
	Allowlist AllowlistConfig  `yaml:"allowlist" toml:"allowlist"`
	Planner   PlannerConfig    `yaml:"planner" toml:"planner"`
	Summarize SummarizeConfig  `yaml:"summarize" toml:"summarize"`
	Timeouts  TimeoutsConfig   `yaml:"timeouts" toml:"timeouts"`
	Shortcuts []ShortcutConfig `yaml:"shortcuts" toml:"shortcuts"`
	Audit     AuditConfig      `yaml:"audit" toml:"audit"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP API listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// ToolServer is one remote tool-providing service reachable over SSE
type ToolServer struct {
	Name string `yaml:"name" toml:"name"`
	URL  string `yaml:"url" toml:"url"` // stream URL, e.g. http://localhost:5101/sse
}

// AllowlistConfig points at the operator-maintained allow-list source
type AllowlistConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PlannerConfig holds the chat-completions endpoint used for planning and summarizing
type PlannerConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	Model             string  `yaml:"model" toml:"model"`
	APIKey            string  `yaml:"api_key" toml:"api_key"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	SummaryMaxTokens  int     `yaml:"summary_max_tokens" toml:"summary_max_tokens"`
	Temperature       float64 `yaml:"temperature" toml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// SummarizeConfig controls grounded summarization of tool results
type SummarizeConfig struct {
	// Enabled summarizes every eligible result, not only queries that ask for it
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// TimeoutsConfig holds the bounded waits used by tool sessions
type TimeoutsConfig struct {
	Endpoint  time.Duration `yaml:"-" toml:"-"`
	Handshake time.Duration `yaml:"-" toml:"-"`
	Discovery time.Duration `yaml:"-" toml:"-"`
	Call      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	EndpointRaw  string `yaml:"endpoint" toml:"endpoint"`
	HandshakeRaw string `yaml:"handshake" toml:"handshake"`
	DiscoveryRaw string `yaml:"discovery" toml:"discovery"`
	CallRaw      string `yaml:"call" toml:"call"`
}

// ShortcutConfig maps an identifier pattern to a fixed fetch tool.
// The first capture group (or the whole match) becomes the value of Arg.
type ShortcutConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Pattern string `yaml:"pattern" toml:"pattern"`
	Server  string `yaml:"server" toml:"server"`
	Tool    string `yaml:"tool" toml:"tool"`
	Arg     string `yaml:"arg" toml:"arg"`
}

// AuditConfig selects where per-request traces are persisted.
// Both sinks may be enabled; neither is required.
type AuditConfig struct {
	TraceDir     string `yaml:"trace_dir" toml:"trace_dir"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultShortcuts are the identifier routes used when none are configured.
func DefaultShortcuts() []ShortcutConfig {
	return []ShortcutConfig{
		{Name: "sharepoint_doc_id", Pattern: `(?i)\b(sp-\d+)\b`, Server: "mcp-sharepoint", Tool: "fetch_sharepoint_doc", Arg: "doc_id"},
		{Name: "policy_id", Pattern: `(?i)\b(policy-\d+)\b`, Server: "mcp-policy-kb", Tool: "fetch_policy_entry", Arg: "policy_id"},
		{Name: "servicenow_ticket_id", Pattern: `(?i)\b((?:INC|RITM|TASK|CHG)\d+)\b`, Server: "mcp-servicenow", Tool: "get_ticket", Arg: "ticket_id"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Planner.BaseURL == "" {
		c.Planner.BaseURL = DefaultPlannerBaseURL
	}
	c.Planner.BaseURL = strings.TrimRight(c.Planner.BaseURL, "/")
	if c.Planner.Model == "" {
		c.Planner.Model = DefaultPlannerModel
	}
	if c.Planner.MaxTokens == 0 {
		c.Planner.MaxTokens = DefaultPlannerMaxTokens
	}
	if c.Planner.SummaryMaxTokens == 0 {
		c.Planner.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	if c.Planner.Timeout == 0 {
		c.Planner.Timeout = DefaultPlannerTimeout
	}
	if c.Allowlist.Path == "" {
		c.Allowlist.Path = DefaultAllowlistPath
	}
	if c.Timeouts.Endpoint == 0 {
		c.Timeouts.Endpoint = DefaultEndpointTimeout
	}
	if c.Timeouts.Handshake == 0 {
		c.Timeouts.Handshake = DefaultHandshakeTimeout
	}
	if c.Timeouts.Discovery == 0 {
		c.Timeouts.Discovery = DefaultDiscoveryTimeout
	}
	if c.Timeouts.Call == 0 {
		c.Timeouts.Call = DefaultCallTimeout
	}
	if len(c.Shortcuts) == 0 {
		c.Shortcuts = DefaultShortcuts()
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one entry in servers is required")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true

		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("servers[%d].url %q must be an absolute URL", i, s.URL)
		}
	}

	for i, sc := range c.Shortcuts {
		if sc.Pattern == "" || sc.Server == "" || sc.Tool == "" || sc.Arg == "" {
			return fmt.Errorf("shortcuts[%d] requires pattern, server, tool and arg", i)
		}
		if _, err := regexp.Compile(sc.Pattern); err != nil {
			return fmt.Errorf("shortcuts[%d].pattern: %w", i, err)
		}
	}

	if c.Planner.Temperature < 0 {
		return fmt.Errorf("planner.temperature must not be negative")
	}
	if c.Planner.RequestsPerSecond < 0 {
		return fmt.Errorf("planner.requests_per_second must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.endpoint", cfg.Timeouts.EndpointRaw, &cfg.Timeouts.Endpoint},
		{"timeouts.handshake", cfg.Timeouts.HandshakeRaw, &cfg.Timeouts.Handshake},
		{"timeouts.discovery", cfg.Timeouts.DiscoveryRaw, &cfg.Timeouts.Discovery},
		{"timeouts.call", cfg.Timeouts.CallRaw, &cfg.Timeouts.Call},
		{"planner.timeout", cfg.Planner.TimeoutRaw, &cfg.Planner.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
