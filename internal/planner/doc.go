// Package planner is the language-model collaborator for routing and summaries.
//
// The Client speaks the OpenAI-compatible chat-completions protocol served by
// vLLM and similar runtimes. Replies are expected to be a single JSON object;
// when a model wraps the object in prose, the outermost brace span is decoded
// instead. That leniency lives here only. Everything downstream treats planner
// output as untrusted and parses it strictly.
//
// RoutingMessages and SummaryMessages build the two prompts the pipeline uses.
package planner
