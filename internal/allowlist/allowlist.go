// ABOUTME: Operator allow-list loading and per-request enforcement.
// ABOUTME: Effective permissions are the intersection of discovered and configured tools.

package allowlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/toolgate/internal/mcp"
)

// ErrToolNotAllowed indicates a server or tool is outside the effective allow-list.
var ErrToolNotAllowed = errors.New("tool not allowed")

// Mode records where the allow-list came from.
type Mode string

const (
	// ModeConfigured means an operator file was loaded.
	ModeConfigured Mode = "configured"
	// ModeDiscovered means every discovered tool is callable. Not for production.
	ModeDiscovered Mode = "discovered"
)

// Set maps server name to the set of permitted tool names.
type Set map[string]map[string]struct{}

// Config is the result of loading the operator allow-list.
type Config struct {
	Path    string `json:"path"`
	Mode    Mode   `json:"mode"`
	Warning string `json:"warning,omitempty"`
	// Allowed is nil in ModeDiscovered.
	Allowed Set `json:"allowed,omitempty"`
}

// Load reads the allow-list at path. A missing or invalid file never fails:
// it yields ModeDiscovered with a warning, which is logged here.
func Load(path string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := loadFile(path)
	if cfg.Mode == ModeDiscovered {
		logger.Warn("allow-list unavailable, every discovered tool is callable",
			"path", path,
			"warning", cfg.Warning,
		)
	} else {
		logger.Info("allow-list loaded", "path", path, "servers", len(cfg.Allowed))
	}
	return cfg
}

func loadFile(path string) Config {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{
			Path:    path,
			Mode:    ModeDiscovered,
			Warning: fmt.Sprintf("allow-list file not found at %q; falling back to discovered tools", path),
		}
	}
	if err != nil {
		return Config{
			Path:    path,
			Mode:    ModeDiscovered,
			Warning: fmt.Sprintf("allow-list file %q unreadable (%v); falling back to discovered tools", path, err),
		}
	}

	set, err := Parse(data)
	if err != nil {
		return Config{
			Path:    path,
			Mode:    ModeDiscovered,
			Warning: fmt.Sprintf("allow-list file %q invalid (%v); falling back to discovered tools", path, err),
		}
	}

	return Config{Path: path, Mode: ModeConfigured, Allowed: set}
}

// Parse decodes a server -> [tool, ...] mapping from JSON or YAML.
// Blank or non-string names and non-list values are skipped.
func Parse(data []byte) (Set, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("allow-list must be an object")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("allow-list must be an object")
	}

	set := make(Set)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		server := strings.TrimSpace(key.Value)
		if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" || server == "" {
			continue
		}
		if value.Kind != yaml.SequenceNode {
			continue
		}
		tools := make(map[string]struct{})
		for _, item := range value.Content {
			name := strings.TrimSpace(item.Value)
			if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" || name == "" {
				continue
			}
			tools[name] = struct{}{}
		}
		set[server] = tools
	}
	return set, nil
}

// FromCatalog returns every discovered tool as a Set.
func FromCatalog(cat *mcp.Catalog) Set {
	set := make(Set)
	for server, names := range cat.ToolNames() {
		tools := make(map[string]struct{}, len(names))
		for _, n := range names {
			tools[n] = struct{}{}
		}
		set[server] = tools
	}
	return set
}

// Effective intersects discovered with configured per discovered server.
// A nil configured set means discovered-only mode.
func Effective(discovered, configured Set) Set {
	if configured == nil {
		return discovered
	}

	out := make(Set, len(discovered))
	for server, tools := range discovered {
		allowed := make(map[string]struct{})
		for tool := range tools {
			if _, ok := configured[server][tool]; ok {
				allowed[tool] = struct{}{}
			}
		}
		out[server] = allowed
	}
	return out
}

// Enforce fails closed unless server.tool is in the set.
func (s Set) Enforce(server, tool string) error {
	tools, ok := s[server]
	if !ok {
		return fmt.Errorf("%w: server not allowed: %s", ErrToolNotAllowed, server)
	}
	if _, ok := tools[tool]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrToolNotAllowed, server, tool)
	}
	return nil
}

// Sorted returns server -> sorted tool names.
func (s Set) Sorted() map[string][]string {
	out := make(map[string][]string, len(s))
	for server, tools := range s {
		names := make([]string, 0, len(tools))
		for t := range tools {
			names = append(names, t)
		}
		sort.Strings(names)
		out[server] = names
	}
	return out
}

// MarshalJSON renders the set as sorted lists.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}
