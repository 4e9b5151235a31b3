// ABOUTME: Request pipeline sequencing every gate from raw text to one tool result.
// ABOUTME: Each step is traced; the trail is persisted once per request to every sink.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/2389/toolgate/internal/allowlist"
	"github.com/2389/toolgate/internal/grounding"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/output"
	"github.com/2389/toolgate/internal/plan"
	"github.com/2389/toolgate/internal/planner"
	"github.com/2389/toolgate/internal/policy"
	"github.com/2389/toolgate/internal/trace"
)

// Planner produces a JSON object from chat messages.
type Planner interface {
	ChatJSON(ctx context.Context, messages []planner.Message, opts planner.Options) (map[string]any, error)
}

// Tools discovers and invokes remote tools. *mcp.Registry implements it.
type Tools interface {
	Discover(ctx context.Context) *mcp.Catalog
	Call(ctx context.Context, server, tool string, args map[string]any) (*mcp.JSONRPCResponse, error)
}

// Config wires an Engine.
type Config struct {
	Tools   Tools
	Planner Planner
	Parser  *output.Parser
	Policy  *policy.Gate

	Shortcuts []plan.Shortcut
	Allowlist allowlist.Config

	// Summarize enables grounded summaries for every request, not only
	// those that ask for one.
	Summarize      bool
	PlanOptions    planner.Options
	SummaryOptions planner.Options

	Sinks []trace.Sink

	// Component is recorded in every trace's meta.
	Component string
	Logger    *slog.Logger
}

// Engine runs the gate pipeline. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	tools     Tools
	planner   Planner
	parser    *output.Parser
	policy    *policy.Gate
	shortcuts []plan.Shortcut
	allow     allowlist.Config
	summarize bool
	planOpts  planner.Options
	sumOpts   planner.Options
	sinks     []trace.Sink
	component string
	logger    *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Tools == nil {
		return nil, errors.New("pipeline requires tools")
	}
	if cfg.Planner == nil {
		return nil, errors.New("pipeline requires a planner")
	}
	if cfg.Parser == nil {
		p, err := output.NewParser()
		if err != nil {
			return nil, err
		}
		cfg.Parser = p
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.New()
	}
	if cfg.Component == "" {
		cfg.Component = "pipeline"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Allowlist.Mode == "" {
		cfg.Allowlist.Mode = allowlist.ModeDiscovered
	}

	return &Engine{
		tools:     cfg.Tools,
		planner:   cfg.Planner,
		parser:    cfg.Parser,
		policy:    cfg.Policy,
		shortcuts: cfg.Shortcuts,
		allow:     cfg.Allowlist,
		summarize: cfg.Summarize,
		planOpts:  cfg.PlanOptions,
		sumOpts:   cfg.SummaryOptions,
		sinks:     cfg.Sinks,
		component: cfg.Component,
		logger:    cfg.Logger.With("component", "pipeline"),
	}, nil
}

// run carries one request through the gates.
type run struct {
	e     *Engine
	ctx   context.Context
	query string
	rec   *trace.Recorder
}

// Ask runs the full pipeline for one query. Gate rejections and failures
// are reported in the response, never as a Go error.
func (e *Engine) Ask(ctx context.Context, query string) *Response {
	r := &run{
		e:     e,
		ctx:   ctx,
		query: query,
		rec:   trace.NewRecorder(map[string]any{"component": e.component, "query": query}),
	}
	resp := r.execute()
	return e.finish(ctx, r.rec, resp)
}

func (r *run) execute() *Response {
	r.rec.Event("request", map[string]any{"user_query": r.query})

	decision := r.e.policy.Check(r.query)
	r.rec.Event("policy_gate", map[string]any{
		"allowed":  decision.Allowed,
		"reason":   decision.Reason,
		"category": decision.Category,
	})
	if !decision.Allowed {
		return &Response{Type: TypeBlocked, Reason: decision.Reason}
	}

	var (
		obj map[string]any
		cat *mcp.Catalog
	)
	if call, rule, ok := plan.Match(r.e.shortcuts, r.query); ok {
		obj = call.Object()
		r.rec.Event("plan_forced", map[string]any{"rule": rule.Name, "plan": obj})
		cat = r.discover()
	} else {
		cat = r.discover()
		var blocked *Response
		obj, blocked = r.plan(cat)
		if blocked != nil {
			return blocked
		}
	}

	effective := r.allowlist(cat)

	p, err := plan.Validate(obj, cat)
	if err != nil {
		r.rec.Event("plan_validation_failed", map[string]any{"error": err.Error(), "plan": obj})
		return &Response{Type: TypeBlocked, Reason: err.Error(), Plan: obj}
	}

	var call *plan.ToolCall
	switch v := p.(type) {
	case *plan.FinalAnswer:
		answer := strings.TrimSpace(v.Answer)
		r.rec.Event("final_answer", map[string]any{"answer": answer})
		return &Response{Type: TypeFinalAnswer, Answer: answer, NeedsMoreInfo: true, Plan: obj}
	case *plan.ToolCall:
		call = v
	default:
		return &Response{Type: TypeError, Error: fmt.Sprintf("unsupported plan %T", p), Plan: obj}
	}

	r.rec.Event("plan_validated", map[string]any{"server": call.Server, "tool": call.Tool, "args": call.Args})

	if err := effective.Enforce(call.Server, call.Tool); err != nil {
		r.rec.Event("tool_not_allowed", map[string]any{"error": err.Error(), "server": call.Server, "tool": call.Tool})
		return &Response{Type: TypeBlocked, Reason: err.Error(), Plan: obj}
	}

	r.rec.Event("tool_call", map[string]any{"server": call.Server, "tool": call.Tool, "args": call.Args})
	raw, err := r.e.tools.Call(r.ctx, call.Server, call.Tool, call.Args)
	if err != nil {
		r.rec.Event("tool_error", map[string]any{"error": err.Error(), "server": call.Server, "tool": call.Tool})
		return &Response{Type: TypeError, Error: fmt.Sprintf("tool call failed: %v", err), Plan: obj}
	}
	r.rec.Event("tool_result_raw", map[string]any{"raw": raw})

	typed, err := r.e.parser.Parse(call.Server, call.Tool, raw)
	if err != nil {
		r.rec.Event("typed_parse_failed", map[string]any{"error": err.Error()})
		return &Response{Type: TypeToolResult, Plan: obj, Raw: raw, Note: "Typed parsing blocked: " + err.Error()}
	}
	r.rec.Event("typed_payload", map[string]any{"typed": typed})

	resp := &Response{Type: TypeToolResult, Plan: obj, Typed: typed, Raw: raw}
	r.summarizeInto(resp, call.Tool, typed)
	return resp
}

// discover fetches a fresh catalog for this request.
func (r *run) discover() *mcp.Catalog {
	cat := r.e.tools.Discover(r.ctx)
	payload := map[string]any{
		"servers": sortedServers(cat),
		"tools":   cat.ToolNames(),
	}
	if len(cat.Errors) > 0 {
		payload["errors"] = cat.Errors
	}
	r.rec.Event("tools_discovered", payload)
	return cat
}

// plan asks the planner and parses its output strictly.
func (r *run) plan(cat *mcp.Catalog) (map[string]any, *Response) {
	messages := planner.RoutingMessages(r.query, cat, r.e.shortcuts)
	raw, err := r.e.planner.ChatJSON(r.ctx, messages, r.e.planOpts)
	switch {
	case errors.Is(err, planner.ErrBadOutput):
		r.rec.Event("planner_rejected", map[string]any{"error": err.Error()})
		return nil, &Response{Type: TypeBlocked, Reason: "Planner output rejected: " + err.Error()}
	case err != nil:
		r.rec.Event("planner_error", map[string]any{"error": err.Error()})
		return nil, &Response{Type: TypeError, Error: "planner failed: " + err.Error()}
	}
	r.rec.Event("planner_raw", map[string]any{"raw": raw})

	obj, err := plan.ParseStrict(raw)
	if err != nil {
		rawText := truncateText(fmt.Sprint(raw), 400)
		r.rec.Event("planner_rejected", map[string]any{"error": err.Error(), "raw": rawText})
		return nil, &Response{Type: TypeBlocked, Reason: "Planner output rejected: " + err.Error(), Raw: rawText}
	}

	r.rec.Event("planner_plan", map[string]any{"plan": obj})
	return obj, nil
}

// allowlist derives the effective permissions from this request's catalog.
func (r *run) allowlist(cat *mcp.Catalog) allowlist.Set {
	discovered := allowlist.FromCatalog(cat)
	effective := allowlist.Effective(discovered, r.e.allow.Allowed)
	r.rec.Event("allowlist", map[string]any{
		"mode":       string(r.e.allow.Mode),
		"warning":    r.e.allow.Warning,
		"discovered": discovered.Sorted(),
		"effective":  effective.Sorted(),
	})
	return effective
}

// summarizeInto adds a grounded summary to resp when one is wanted and
// possible, or a note explaining why not.
func (r *run) summarizeInto(resp *Response, tool string, typed map[string]any) {
	wants := strings.Contains(strings.ToLower(r.query), "summarize")
	r.rec.Event("summarize_decision", map[string]any{"wants_summary": wants, "enabled": r.e.summarize})
	if !wants && !r.e.summarize {
		return
	}

	if content, _ := typed["content"].(string); content == "NOT_FOUND" {
		r.rec.Event("summary_skipped", map[string]any{"reason": "NOT_FOUND"})
		resp.Note = "Summary skipped: content is NOT_FOUND."
		return
	}
	if strings.HasPrefix(tool, "search_") && !wants {
		r.rec.Event("summary_skipped", map[string]any{"reason": "search_tool_without_explicit_request", "tool": tool})
		resp.Note = "Summary skipped: search results are only summarized when the query asks for it."
		return
	}

	source := grounding.SourceText(typed)
	raw, err := r.e.planner.ChatJSON(r.ctx, planner.SummaryMessages(source), r.e.sumOpts)
	if err != nil {
		r.rec.Event("summary_blocked", map[string]any{"error": err.Error()})
		resp.Note = "Summary blocked (summarizer failed): " + err.Error()
		return
	}

	obj, err := plan.ParseStrict(raw)
	if err != nil {
		r.rec.Event("summary_blocked", map[string]any{"error": err.Error()})
		resp.Note = "Summary blocked (grounding failed): " + err.Error()
		return
	}

	summary, err := grounding.Validate(obj, source)
	if err != nil {
		r.rec.Event("summary_blocked", map[string]any{"error": err.Error()})
		resp.Note = "Summary blocked (grounding failed): " + err.Error()
		return
	}

	r.rec.Event("summary", map[string]any{"summary": summary})
	resp.Type = TypeToolResultWithSummary
	resp.Summary = summary
}

// finish persists the trail once to every sink and stamps the response.
func (e *Engine) finish(ctx context.Context, rec *trace.Recorder, resp *Response) *Response {
	final := *resp
	record := rec.Finish(string(resp.Type), &final)

	resp.TraceID = rec.ID()
	for _, sink := range e.sinks {
		loc, err := sink.Save(context.WithoutCancel(ctx), record)
		if err != nil {
			e.logger.Warn("failed to persist trace", "trace_id", rec.ID(), "error", err)
			continue
		}
		if loc != "" && resp.TracePath == "" {
			resp.TracePath = loc
		}
	}

	e.logger.Info("request completed",
		"trace_id", resp.TraceID,
		"type", resp.Type,
		"plan", describePlan(resp.Plan),
	)
	return resp
}

// CallTyped invokes one tool directly and parses its output. The call must
// pass the same discovery, argument and allow-list checks as a planned call.
func (e *Engine) CallTyped(ctx context.Context, server, tool string, args map[string]any) (*TypedCall, error) {
	if args == nil {
		args = map[string]any{}
	}

	cat := e.tools.Discover(ctx)
	call := &plan.ToolCall{Server: server, Tool: tool, Args: args}
	if _, err := plan.Validate(call.Object(), cat); err != nil {
		return nil, err
	}

	effective := allowlist.Effective(allowlist.FromCatalog(cat), e.allow.Allowed)
	if err := effective.Enforce(server, tool); err != nil {
		return nil, err
	}

	raw, err := e.tools.Call(ctx, server, tool, args)
	if err != nil {
		return nil, err
	}

	typed, err := e.parser.Parse(server, tool, raw)
	if err != nil {
		return &TypedCall{Raw: raw, TypedError: err.Error()}, nil
	}
	return &TypedCall{Raw: raw, Typed: typed}, nil
}

// Tools returns a fresh discovery snapshot and the effective allow-list.
func (e *Engine) Tools(ctx context.Context) *ToolsView {
	cat := e.tools.Discover(ctx)
	effective := allowlist.Effective(allowlist.FromCatalog(cat), e.allow.Allowed)
	return &ToolsView{
		Catalog:   cat,
		Mode:      string(e.allow.Mode),
		Warning:   e.allow.Warning,
		Effective: effective.Sorted(),
	}
}

func sortedServers(cat *mcp.Catalog) []string {
	servers := make([]string, 0, len(cat.Tools))
	for s := range cat.Tools {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	return servers
}

func describePlan(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	if t, _ := obj["type"].(string); t == plan.TypeFinalAnswer {
		return t
	}
	server, _ := obj["server"].(string)
	tool, _ := obj["tool"].(string)
	return server + "." + tool
}

func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
