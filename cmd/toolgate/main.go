// ABOUTME: Entry point for the toolgate tool host
// ABOUTME: Serves the HTTP API, runs the REPL, or executes one-shot ask/tools/call commands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/plan"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _             _
 | |_ ___   ___ | | __ _  __ _| |_ ___
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
 | || (_) | (_) | | (_| | (_| | ||  __/
  \__\___/ \___/|_|\__, |\__,_|\__\___|
                   |___/
`

// getConfigPath returns the path to the toolgate config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/toolgate.yaml > ~/.config/toolgate/toolgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "toolgate.yaml")
}

func usage() {
	fmt.Println("Usage: toolgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                            Start the HTTP API")
	fmt.Println("  repl                             Interactive shell")
	fmt.Println("  ask \"<question>\"                 Run one question through the pipeline")
	fmt.Println("  tools                            Discover tools and show the allow-list")
	fmt.Println("  call <server> <tool> '<json>'    Call one allowed tool directly")
	fmt.Println("  health                           Check a running server's readiness")
	fmt.Println("  init                             Create a new config file interactively")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "repl":
		err = runREPL(ctx)
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	case "tools":
		err = runTools(ctx)
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "init":
		err = runInit()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and builds the logger it describes.
// Log output goes to stderr so JSON results on stdout stay clean.
func loadConfig() (*config.Config, string, *slog.Logger, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, setupLogger(cfg.Logging, os.Stderr), nil
}

// openGateway builds a gateway and connects its tool sessions without
// serving HTTP.
func openGateway(ctx context.Context) (*gateway.Gateway, error) {
	cfg, _, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	if err := gw.Connect(ctx); err != nil {
		_ = gw.Shutdown(context.Background())
		return nil, fmt.Errorf("connecting tool servers: %w", err)
	}
	return gw, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, logger, err := loadConfig()
	if err != nil {
		return err
	}

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Planner:   %s (%s)\n", cfg.Planner.BaseURL, cfg.Planner.Model)
	for _, srv := range cfg.Servers {
		green.Print("    ▶ ")
		fmt.Printf("Server:    ")
		cyan.Print(srv.Name)
		gray.Printf(" %s\n", srv.URL)
	}
	if cfg.Summarize.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Summaries: ")
		yellow.Println("always")
	}
	fmt.Println()

	logger.Info("starting toolgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"servers", len(cfg.Servers),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runAsk(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: toolgate ask \"<question>\"")
	}

	gw, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	return printJSON(os.Stdout, gw.Engine().Ask(ctx, args[0]))
}

func runTools(ctx context.Context) error {
	gw, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	return printJSON(os.Stdout, gw.Engine().Tools(ctx))
}

func runCall(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: toolgate call <server> <tool> '<json_args>'")
	}
	callArgs, err := parseArgsObject(args[2])
	if err != nil {
		return err
	}

	gw, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	result, err := gw.Engine().CallTyped(ctx, args[0], args[1], callArgs)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func runHealth(ctx context.Context) error {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}

	// Make HTTP request to ready endpoint with context
	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

// printJSON writes v as indented JSON without HTML escaping.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseArgsObject decodes tool arguments, which must be one JSON object.
func parseArgsObject(raw string) (map[string]any, error) {
	args, err := plan.DecodeObject([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON args: %w", err)
	}
	if args == nil {
		return nil, fmt.Errorf("invalid JSON args: args must be a JSON object")
	}
	return args, nil
}
