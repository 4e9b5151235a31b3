// ABOUTME: OpenAI-compatible chat-completions client that returns one JSON object.
// ABOUTME: Requests are rate limited; the reply is decoded leniently only at this boundary.

package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/plan"
)

var (
	// ErrUnavailable indicates the model endpoint could not be reached or answered with an error.
	ErrUnavailable = errors.New("planner unavailable")
	// ErrBadOutput indicates the model reply held no JSON object.
	ErrBadOutput = errors.New("planner output is not a JSON object")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Model             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// ConfigFrom maps the planner section of the host config.
func ConfigFrom(c config.PlannerConfig) Config {
	return Config{
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		APIKey:            c.APIKey,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates a planner client. A zero RequestsPerSecond disables limiting.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultPlannerBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultPlannerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultPlannerTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  cfg.Logger.With("component", "planner"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// ChatJSON sends messages and decodes the assistant reply as a JSON object.
// If the reply is not a bare object, the text between the first '{' and the
// last '}' is tried instead.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, opts Options) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %w", ErrUnavailable, err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (model %s): %w", ErrUnavailable, url, c.model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, url, resp.StatusCode, snippet(data))
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("%w: decoding completion: %w", ErrUnavailable, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", ErrUnavailable)
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	c.logger.Debug("completion received",
		"model", c.model,
		"duration", time.Since(start),
		"chars", len(content),
	)

	return ExtractObject(content)
}

// ExtractObject decodes content as a JSON object, falling back to the first
// balanced brace block when the model wrapped it in prose.
func ExtractObject(content string) (map[string]any, error) {
	if out, err := plan.DecodeObject([]byte(content)); err == nil && out != nil {
		return out, nil
	}

	block, ok := firstObject(content)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadOutput, snippet([]byte(content)))
	}
	out, err := plan.DecodeObject([]byte(block))
	if err != nil || out == nil {
		return nil, fmt.Errorf("%w: %s", ErrBadOutput, snippet([]byte(content)))
	}
	return out, nil
}

// firstObject returns the span from the first '{' to its matching '}'.
// Braces inside JSON strings are not counted.
func firstObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
