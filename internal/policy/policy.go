// ABOUTME: Input policy gate that screens raw user text before anything else runs.
// ABOUTME: Case-insensitive, word-bounded patterns grouped into named categories.

package policy

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrBlocked indicates the input matched a blocked category.
var ErrBlocked = errors.New("blocked by input policy")

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
	Match    string `json:"match,omitempty"`
}

// Err returns ErrBlocked wrapped with the reason, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBlocked, d.Reason)
}

// Rule is one blocked category and its pattern.
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
}

// DefaultRules are checked in order; the first match wins.
var DefaultRules = []Rule{
	{Category: "hacking", Pattern: regexp.MustCompile(`(?i)\b(hack|exploit|malware|ransomware|phishing)\b`)},
	{Category: "weapons", Pattern: regexp.MustCompile(`(?i)\b(build a bomb|explosive|detonator)\b`)},
	{Category: "self_harm", Pattern: regexp.MustCompile(`(?i)\b(suicide|self-harm|kill myself)\b`)},
	{Category: "credential_theft", Pattern: regexp.MustCompile(`(?i)\b(credit card dump|steal password|credential)\b`)},
}

// Gate applies a fixed rule list.
type Gate struct {
	rules []Rule
}

// New creates a Gate. With no rules it uses DefaultRules.
func New(rules ...Rule) *Gate {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Gate{rules: rules}
}

// Check screens text and returns the first blocking match, if any.
func (g *Gate) Check(text string) Decision {
	for _, r := range g.rules {
		if m := r.Pattern.FindString(text); m != "" {
			return Decision{
				Allowed:  false,
				Category: r.Category,
				Match:    m,
				Reason:   fmt.Sprintf("blocked by policy: category %s (matched %q)", r.Category, m),
			}
		}
	}
	return Decision{Allowed: true}
}

// Check screens text with the default rules.
func Check(text string) Decision {
	return New().Check(text)
}
