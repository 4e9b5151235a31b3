// ABOUTME: Deterministic identifier shortcuts that bypass the planner.
// ABOUTME: The first rule whose pattern matches the query produces a fixed fetch call.

package plan

import (
	"fmt"
	"regexp"

	"github.com/2389/toolgate/internal/config"
)

// Shortcut routes queries that mention a known identifier straight to a tool.
type Shortcut struct {
	Name    string
	Pattern *regexp.Regexp
	Server  string
	Tool    string
	Arg     string
}

// CompileShortcuts compiles configured rules, preserving their order.
func CompileShortcuts(cfgs []config.ShortcutConfig) ([]Shortcut, error) {
	out := make([]Shortcut, 0, len(cfgs))
	for i, c := range cfgs {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling shortcut %d (%s): %w", i, c.Name, err)
		}
		name := c.Name
		if name == "" {
			name = c.Server + "." + c.Tool
		}
		out = append(out, Shortcut{Name: name, Pattern: re, Server: c.Server, Tool: c.Tool, Arg: c.Arg})
	}
	return out, nil
}

// Match returns the tool call for the first matching rule. The first capture
// group, or the whole match when the pattern has none, becomes the argument.
func Match(rules []Shortcut, query string) (*ToolCall, *Shortcut, bool) {
	for i := range rules {
		r := &rules[i]
		m := r.Pattern.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		return &ToolCall{
			Server: r.Server,
			Tool:   r.Tool,
			Args:   map[string]any{r.Arg: value},
		}, r, true
	}
	return nil, nil, false
}
