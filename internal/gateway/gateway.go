// ABOUTME: Gateway orchestrator that wires tool sessions, the pipeline and the HTTP API
// ABOUTME: Manages session connect, trace sinks, health endpoints and shutdown lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/toolgate/internal/allowlist"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/output"
	"github.com/2389/toolgate/internal/pipeline"
	"github.com/2389/toolgate/internal/plan"
	"github.com/2389/toolgate/internal/planner"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/trace"
)

// Gateway owns every long-lived component of a toolgate process.
type Gateway struct {
	config     *config.Config
	registry   *mcp.Registry
	engine     *pipeline.Engine
	httpServer *http.Server
	logger     *slog.Logger

	// traces is nil unless audit.database_path is configured
	traces store.TraceStore

	// files is nil unless audit.trace_dir is configured
	files *trace.FileSink

	// allow is the allow-list loaded at startup
	allow allowlist.Config

	// serverID identifies this gateway instance in traces
	serverID string
}

// Replaced in tests to exercise construction failures.
var (
	openTraceStore = initStore
	newEngine      = pipeline.New
)

// initStore opens the trace database named by config or environment.
// It returns nil when no database is configured.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Audit.DatabasePath
	if envPath := os.Getenv("TOOLGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newRegistry creates one disconnected session per configured server.
func newRegistry(cfg *config.Config, logger *slog.Logger) (*mcp.Registry, error) {
	sessions := make([]*mcp.Session, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		s, err := mcp.NewSession(mcp.SessionConfig{
			Name:             srv.Name,
			URL:              srv.URL,
			Logger:           logger,
			EndpointTimeout:  cfg.Timeouts.Endpoint,
			HandshakeTimeout: cfg.Timeouts.Handshake,
			DiscoveryTimeout: cfg.Timeouts.Discovery,
			CallTimeout:      cfg.Timeouts.Call,
		})
		if err != nil {
			return nil, fmt.Errorf("creating session %s: %w", srv.Name, err)
		}
		sessions = append(sessions, s)
	}
	return mcp.NewRegistry(mcp.RegistryConfig{Sessions: sessions, Logger: logger})
}

// New builds a gateway from configuration. Sessions are created but not
// connected; Connect or Run opens them.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	registry, err := newRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	shortcuts, err := plan.CompileShortcuts(cfg.Shortcuts)
	if err != nil {
		return nil, err
	}

	parser, err := output.NewParser()
	if err != nil {
		return nil, fmt.Errorf("loading output schemas: %w", err)
	}

	plannerCfg := planner.ConfigFrom(cfg.Planner)
	plannerCfg.Logger = logger
	client := planner.NewClient(plannerCfg)

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		logger:   logger.With("component", "gateway"),
		allow:    allowlist.Load(cfg.Allowlist.Path, logger),
		serverID: generateServerID(),
	}

	var sinks []trace.Sink
	if cfg.Audit.TraceDir != "" {
		gw.files = trace.NewFileSink(cfg.Audit.TraceDir)
		sinks = append(sinks, gw.files)
	}
	sqlStore, err := openTraceStore(cfg)
	if err != nil {
		return nil, err
	}
	if sqlStore != nil {
		gw.traces = sqlStore
		sinks = append(sinks, sqlStore)
	}

	gw.engine, err = newEngine(pipeline.Config{
		Tools:     registry,
		Planner:   client,
		Parser:    parser,
		Shortcuts: shortcuts,
		Allowlist: gw.allow,
		Summarize: cfg.Summarize.Enabled,
		PlanOptions: planner.Options{
			MaxTokens:   cfg.Planner.MaxTokens,
			Temperature: cfg.Planner.Temperature,
		},
		SummaryOptions: planner.Options{
			MaxTokens:   cfg.Planner.SummaryMaxTokens,
			Temperature: cfg.Planner.Temperature,
		},
		Sinks:     sinks,
		Component: gw.serverID,
		Logger:    logger,
	})
	if err != nil {
		if sqlStore != nil {
			if closeErr := sqlStore.Close(); closeErr != nil {
				gw.logger.Warn("closing trace store", "error", closeErr)
			}
		}
		return nil, err
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.registerHTTPAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Engine returns the request pipeline for in-process callers such as the REPL.
func (g *Gateway) Engine() *pipeline.Engine {
	return g.engine
}

// Registry returns the tool session registry.
func (g *Gateway) Registry() *mcp.Registry {
	return g.registry
}

// Handler returns the HTTP handler serving health and API routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Connect opens every tool session. A server that cannot be reached fails
// startup.
func (g *Gateway) Connect(ctx context.Context) error {
	if err := g.registry.ConnectAll(ctx); err != nil {
		return err
	}
	g.logger.Info("tool servers connected", "servers", g.registry.Names())
	return nil
}

// startServer serves HTTP in a goroutine, returning the error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run connects the tool sessions, serves the HTTP API and blocks until the
// context is canceled. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Connect(ctx); err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every session and the trace store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.registry.Close()

	if g.traces != nil {
		errs = appendCloseError(errs, "store close", g.traces.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once every tool session is ready.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.registry.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("tool servers not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d servers)", len(g.registry.Names()))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("toolgate-%d", time.Now().UnixNano()%1000000)
}
