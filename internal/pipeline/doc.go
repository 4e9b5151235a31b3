// Package pipeline runs a natural-language request through every safety gate
// before at most one tool call.
//
// # Gate Order
//
//	request
//	  -> policy gate            (blocked: no discovery, no planner)
//	  -> identifier shortcut    (plan_forced, planner skipped)
//	     or discovery + planner (strict JSON object only)
//	  -> plan validation        (fresh catalog, closed-world args)
//	  -> allow-list             (effective = discovered ∩ configured)
//	  -> tool call              (exactly one)
//	  -> typed output parse     (schema failure keeps the raw result)
//	  -> grounded summary       (optional, every evidence string verbatim)
//
// Every step appends an event to a trace.Recorder. When the request ends the
// record is handed once to each configured trace.Sink and the response
// carries the trace id plus the first sink location.
//
// Gate rejections are responses, not Go errors. Ask never returns an error.
package pipeline
