// ABOUTME: Typed output parser validating tool structuredContent against registered JSON Schemas.
// ABOUTME: Schemas for the known read tools are embedded; more can be registered at startup.

package output

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/2389/toolgate/internal/mcp"
)

// ErrOutputParse indicates a tool result did not match its registered shape.
var ErrOutputParse = errors.New("typed output parse failed")

//go:embed schemas/*.json
var schemaFS embed.FS

// Key identifies a tool by server and name.
type Key struct {
	Server string
	Tool   string
}

func (k Key) String() string {
	return k.Server + "." + k.Tool
}

// builtinSchemas maps the read tools of the known services to their schema files.
var builtinSchemas = map[Key]string{
	{Server: "mcp-sharepoint", Tool: "search_sharepoint"}:         "schemas/sharepoint_search.json",
	{Server: "mcp-sharepoint", Tool: "fetch_sharepoint_doc"}:      "schemas/sharepoint_doc.json",
	{Server: "mcp-servicenow", Tool: "search_servicenow_tickets"}: "schemas/servicenow_search.json",
	{Server: "mcp-servicenow", Tool: "get_ticket"}:                "schemas/servicenow_ticket.json",
	{Server: "mcp-policy-kb", Tool: "search_policy_kb"}:           "schemas/policykb_search.json",
	{Server: "mcp-policy-kb", Tool: "fetch_policy_entry"}:         "schemas/policykb_entry.json",
}

// Parser holds compiled output schemas keyed by tool.
type Parser struct {
	mu      sync.RWMutex
	schemas map[Key]*jsonschema.Schema
}

// NewParser creates a parser with the built-in schemas registered.
func NewParser() (*Parser, error) {
	p := &Parser{schemas: make(map[Key]*jsonschema.Schema)}
	for key, file := range builtinSchemas {
		data, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading schema for %s: %w", key, err)
		}
		if err := p.Register(key.Server, key.Tool, data); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register compiles and stores an output schema for server.tool,
// replacing any previous one.
func (p *Parser) Register(server, tool string, schema []byte) error {
	key := Key{Server: server, Tool: tool}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://toolgate.schemas.local/output/%s/%s.schema.json", server, tool)
	if err := c.AddResource(schemaURL, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("output schema load failed for %s: %w", key, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("output schema compile failed for %s: %w", key, err)
	}

	p.mu.Lock()
	p.schemas[key] = compiled
	p.mu.Unlock()
	return nil
}

// Has reports whether a schema is registered for server.tool.
func (p *Parser) Has(server, tool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.schemas[Key{Server: server, Tool: tool}]
	return ok
}

// Parse validates the structuredContent of a tools/call response and
// returns it as a decoded object. Every failure wraps ErrOutputParse.
func (p *Parser) Parse(server, tool string, resp *mcp.JSONRPCResponse) (map[string]any, error) {
	key := Key{Server: server, Tool: tool}

	p.mu.RLock()
	schema, ok := p.schemas[key]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no output schema registered for %s", ErrOutputParse, key)
	}

	payload, err := StructuredContent(resp)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %s does not match its output schema: %s", ErrOutputParse, key, describe(err))
	}

	return payload, nil
}

// StructuredContent extracts the structuredContent object from a
// tools/call response, rejecting errors and tool-reported failures.
func StructuredContent(resp *mcp.JSONRPCResponse) (map[string]any, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: no response", ErrOutputParse)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: tool returned JSON-RPC error %d: %s", ErrOutputParse, resp.Error.Code, resp.Error.Message)
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil || result == nil {
		return nil, fmt.Errorf("%w: missing or invalid result object", ErrOutputParse)
	}

	if isErr, _ := result["isError"].(bool); isErr {
		return nil, fmt.Errorf("%w: tool reported isError=true", ErrOutputParse)
	}

	sc, ok := result["structuredContent"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing structuredContent object", ErrOutputParse)
	}
	return sc, nil
}

// describe flattens a schema validation error into "location: message" pairs.
func describe(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
