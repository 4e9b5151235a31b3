// ABOUTME: Grounded summary validation and the canonical source text it is checked against.
// ABOUTME: Every claim must carry evidence copied verbatim from the tool output.

package grounding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrGrounding indicates a summary is malformed or cites evidence missing from the source.
var ErrGrounding = errors.New("grounding check failed")

// MaxSourceChars bounds the canonical source text handed to the summarizer.
const MaxSourceChars = 8000

// TruncationMarker is appended to source text cut at MaxSourceChars.
const TruncationMarker = "\n...[TRUNCATED]..."

// Sections in the order they are validated.
var Sections = []string{"bullets", "risks", "recommendations"}

// Item is one grounded claim.
type Item struct {
	Claim    string `json:"claim"`
	Evidence string `json:"evidence"`
}

// Summary is a validated grounded summary.
type Summary struct {
	Type            string `json:"type"`
	Bullets         []Item `json:"bullets"`
	Risks           []Item `json:"risks"`
	Recommendations []Item `json:"recommendations"`
}

// Empty reports whether the summary has no claims at all.
func (s *Summary) Empty() bool {
	return len(s.Bullets) == 0 && len(s.Risks) == 0 && len(s.Recommendations) == 0
}

// SourceText renders v as the canonical text summaries are grounded in:
// two-space indented JSON without HTML escaping, cut at MaxSourceChars.
func SourceText(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	var src string
	if err := enc.Encode(v); err != nil {
		src = fmt.Sprint(v)
	} else {
		src = strings.TrimSuffix(buf.String(), "\n")
	}

	if utf8.RuneCountInString(src) > MaxSourceChars {
		src = string([]rune(src)[:MaxSourceChars]) + TruncationMarker
	}
	return src
}

// Validate checks a decoded summary object against source and returns the
// typed summary. The first problem found wraps ErrGrounding and names the
// section and index.
func Validate(summary map[string]any, source string) (*Summary, error) {
	if summary == nil {
		return nil, fmt.Errorf("%w: summary must be a JSON object", ErrGrounding)
	}
	if t, _ := summary["type"].(string); t != "summary" {
		return nil, fmt.Errorf("%w: summary type must be \"summary\"", ErrGrounding)
	}

	out := &Summary{Type: "summary"}
	for _, section := range Sections {
		items, err := validateSection(section, summary[section], source)
		if err != nil {
			return nil, err
		}
		switch section {
		case "bullets":
			out.Bullets = items
		case "risks":
			out.Risks = items
		case "recommendations":
			out.Recommendations = items
		}
	}
	return out, nil
}

func validateSection(section string, raw any, source string) ([]Item, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrGrounding, section)
	}

	items := make([]Item, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrGrounding, section, i)
		}

		claim, _ := obj["claim"].(string)
		if strings.TrimSpace(claim) == "" {
			return nil, fmt.Errorf("%w: %s[%d].claim must be a non-empty string", ErrGrounding, section, i)
		}
		evidence, _ := obj["evidence"].(string)
		if strings.TrimSpace(evidence) == "" {
			return nil, fmt.Errorf("%w: %s[%d].evidence must be a non-empty string", ErrGrounding, section, i)
		}
		if !strings.Contains(source, evidence) {
			return nil, fmt.Errorf("%w: %s[%d] evidence not found verbatim in source", ErrGrounding, section, i)
		}

		items = append(items, Item{Claim: claim, Evidence: evidence})
	}
	return items, nil
}
