// Package grounding checks that generated summaries only restate tool output.
//
// A summary is a JSON object of the form
//
//	{
//	  "type": "summary",
//	  "bullets": [{"claim": "...", "evidence": "..."}],
//	  "risks": [...],
//	  "recommendations": [...]
//	}
//
// Each evidence string must appear byte-for-byte in the source text produced
// by SourceText from the typed tool result. Paraphrased or invented evidence
// fails Validate, and the caller falls back to the unsummarized result.
package grounding
