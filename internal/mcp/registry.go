// ABOUTME: Registry of named tool sessions in configuration order.
// ABOUTME: Connects sessions fail-fast, aggregates discovery best-effort, and dispatches calls.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDuplicateServer indicates two sessions share a name.
var ErrDuplicateServer = errors.New("duplicate server name")

// RegistryConfig contains configuration options for the Registry.
type RegistryConfig struct {
	Sessions []*Session
	Logger   *slog.Logger
}

// Registry owns the sessions the host talks to.
type Registry struct {
	sessions []*Session
	byName   map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates a registry over the given sessions.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]*Session, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		if _, exists := byName[s.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateServer, s.Name())
		}
		byName[s.Name()] = s
	}

	return &Registry{
		sessions: cfg.Sessions,
		byName:   byName,
		logger:   logger.With("component", "registry"),
	}, nil
}

// Names returns the registered server names in configuration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.sessions))
	for i, s := range r.sessions {
		names[i] = s.Name()
	}
	return names
}

// Session returns the session registered under name.
func (r *Registry) Session(name string) (*Session, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return s, nil
}

// ConnectAll connects every session in order and stops at the first failure.
func (r *Registry) ConnectAll(ctx context.Context) error {
	for _, s := range r.sessions {
		r.logger.Info("connecting", "server", s.Name())
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("connecting %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Discover lists tools on every session concurrently. A failing session is
// recorded in the catalog's Errors and never aborts the aggregate.
func (r *Registry) Discover(ctx context.Context) *Catalog {
	type result struct {
		tools []MCPToolInfo
		err   error
	}
	results := make([]result, len(r.sessions))

	var wg sync.WaitGroup
	for i, s := range r.sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			tools, err := s.ListTools(ctx)
			results[i] = result{tools: tools, err: err}
		}(i, s)
	}
	wg.Wait()

	catalog := NewCatalog()
	for i, s := range r.sessions {
		res := results[i]
		if res.err != nil {
			r.logger.Warn("discovery failed", "server", s.Name(), "error", res.err)
			catalog.SetError(s.Name(), res.err)
			continue
		}
		descriptors := make([]ToolDescriptor, 0, len(res.tools))
		for _, t := range res.tools {
			descriptors = append(descriptors, ToolDescriptor{
				Server:      s.Name(),
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		catalog.Add(s.Name(), descriptors)
	}

	r.logger.Debug("discovery complete", "tools", catalog.Len(), "failed_servers", len(catalog.Errors))
	return catalog
}

// Call invokes one tool on the named server.
func (r *Registry) Call(ctx context.Context, server, tool string, args map[string]any) (*JSONRPCResponse, error) {
	s, err := r.Session(server)
	if err != nil {
		return nil, err
	}

	r.logger.Info("→ calling tool", "server", server, "tool", tool)
	resp, err := s.CallTool(ctx, tool, args)
	if err != nil {
		r.logger.Warn("tool call failed", "server", server, "tool", tool, "error", err)
		return nil, err
	}
	r.logger.Info("  ← tool responded", "server", server, "tool", tool, "is_rpc_error", resp.Error != nil)
	return resp, nil
}

// Status returns each session's state keyed by server name.
func (r *Registry) Status() map[string]State {
	out := make(map[string]State, len(r.sessions))
	for _, s := range r.sessions {
		out[s.Name()] = s.State()
	}
	return out
}

// Ready reports whether every session is ready with an intact stream.
func (r *Registry) Ready() bool {
	for _, s := range r.sessions {
		if !s.Healthy() {
			return false
		}
	}
	return len(r.sessions) > 0
}

// Close closes every session.
func (r *Registry) Close() {
	for _, s := range r.sessions {
		s.Close()
	}
	r.logger.Info("registry closed", "sessions", len(r.sessions))
}
