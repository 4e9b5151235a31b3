// ABOUTME: Tool descriptors and the per-request discovery catalog.
// ABOUTME: Parses the flat input-schema subset used for plan validation.

package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ToolDescriptor is one tool advertised by a server at discovery time.
type ToolDescriptor struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// InputSchema is the flat property/type/required subset of a tool's
// JSON Schema that argument validation understands.
type InputSchema struct {
	Type       string                    `json:"type,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes one declared argument.
type PropertySchema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema decodes the descriptor's input schema. A tool without a schema
// declares no arguments.
func (d ToolDescriptor) Schema() (InputSchema, error) {
	var s InputSchema
	if len(d.InputSchema) == 0 || string(d.InputSchema) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(d.InputSchema, &s); err != nil {
		return s, fmt.Errorf("decoding input schema for %s.%s: %w", d.Server, d.Name, err)
	}
	return s, nil
}

// Catalog is the result of one discovery pass across all sessions.
// A server that failed discovery appears in Errors and not in Tools.
type Catalog struct {
	Servers []string                    `json:"servers"`
	Tools   map[string][]ToolDescriptor `json:"tools"`
	Errors  map[string]string           `json:"errors,omitempty"`
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Tools:  make(map[string][]ToolDescriptor),
		Errors: make(map[string]string),
	}
}

// Add records the tools discovered on a server.
func (c *Catalog) Add(server string, tools []ToolDescriptor) {
	if _, seen := c.Tools[server]; !seen {
		c.Servers = append(c.Servers, server)
	}
	c.Tools[server] = tools
}

// SetError records a discovery failure for a server.
func (c *Catalog) SetError(server string, err error) {
	c.Errors[server] = err.Error()
}

// HasServer reports whether the server was discovered successfully.
func (c *Catalog) HasServer(server string) bool {
	_, ok := c.Tools[server]
	return ok
}

// Lookup finds a tool by server and name.
func (c *Catalog) Lookup(server, tool string) (ToolDescriptor, bool) {
	for _, d := range c.Tools[server] {
		if d.Name == tool {
			return d, true
		}
	}
	return ToolDescriptor{}, false
}

// ToolNames returns server -> sorted tool names for every discovered server.
func (c *Catalog) ToolNames() map[string][]string {
	out := make(map[string][]string, len(c.Tools))
	for server, tools := range c.Tools {
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		sort.Strings(names)
		out[server] = names
	}
	return out
}

// Len returns the total number of discovered tools.
func (c *Catalog) Len() int {
	n := 0
	for _, tools := range c.Tools {
		n += len(tools)
	}
	return n
}
