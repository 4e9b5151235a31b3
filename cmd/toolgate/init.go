// ABOUTME: Interactive config file generator for toolgate
// ABOUTME: Prompts for listen address, tool servers, planner endpoint and audit paths

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/toolgate/internal/config"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr      string
	Servers       []config.ToolServer
	AllowlistPath string
	PlannerURL    string
	PlannerModel  string
	Summarize     bool
	TraceDir      string
	DatabasePath  string
	LogLevel      string
	LogFormat     string
}

// getDataPath returns the path to the toolgate data directory.
// Priority: XDG_DATA_HOME/toolgate > ~/.local/share/toolgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "toolgate")
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("toolgate configuration setup")
	fmt.Println("============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	answers := askInit(reader, filepath.Dir(outputFile), getDataPath())

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(answers)), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  TOOLGATE_CONFIG=%s toolgate serve\n", outputFile)

	return nil
}

// askInit collects answers, offering the local mock services as defaults.
func askInit(reader *bufio.Reader, configDir, dataDir string) initAnswers {
	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Tool Servers ---")
	defaults := []config.ToolServer{
		{Name: "mcp-sharepoint", URL: "http://localhost:5101/sse"},
		{Name: "mcp-servicenow", URL: "http://localhost:5102/sse"},
		{Name: "mcp-policy-kb", URL: "http://localhost:5103/sse"},
	}
	for _, d := range defaults {
		url := prompt(reader, d.Name+" stream URL (\"-\" to skip)", d.URL)
		if url == "-" {
			continue
		}
		a.Servers = append(a.Servers, config.ToolServer{Name: d.Name, URL: url})
	}
	a.AllowlistPath = prompt(reader, "Allow-list file", filepath.Join(configDir, "allowlist.json"))

	fmt.Println("\n--- Planner ---")
	a.PlannerURL = prompt(reader, "Chat completions base URL", config.DefaultPlannerBaseURL)
	a.PlannerModel = prompt(reader, "Model", config.DefaultPlannerModel)
	a.Summarize = isYes(prompt(reader, "Summarize every eligible result?", "no"))

	fmt.Println("\n--- Audit ---")
	a.TraceDir = prompt(reader, "Trace directory (empty to disable)", filepath.Join(dataDir, "traces"))
	a.DatabasePath = prompt(reader, "Trace database (empty to disable)", filepath.Join(dataDir, "traces.db"))

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	return a
}

// renderConfig writes answers as a YAML config file.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# toolgate configuration\n")
	cfg.WriteString("# Generated by toolgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("servers:\n")
	for _, s := range a.Servers {
		cfg.WriteString(fmt.Sprintf("  - name: %q\n", s.Name))
		cfg.WriteString(fmt.Sprintf("    url: %q\n", s.URL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("allowlist:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.AllowlistPath))
	cfg.WriteString("\n")

	cfg.WriteString("planner:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", a.PlannerURL))
	cfg.WriteString(fmt.Sprintf("  model: %q\n", a.PlannerModel))
	cfg.WriteString("  api_key: \"${TOOLGATE_PLANNER_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  max_tokens: %d\n", config.DefaultPlannerMaxTokens))
	cfg.WriteString("  temperature: 0\n")
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("summarize:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.Summarize))
	cfg.WriteString("\n")

	cfg.WriteString("timeouts:\n")
	cfg.WriteString("  endpoint: \"10s\"\n")
	cfg.WriteString("  handshake: \"10s\"\n")
	cfg.WriteString("  discovery: \"10s\"\n")
	cfg.WriteString("  call: \"20s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("audit:\n")
	cfg.WriteString(fmt.Sprintf("  trace_dir: %q\n", a.TraceDir))
	cfg.WriteString(fmt.Sprintf("  database_path: %q\n", a.DatabasePath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
