// ABOUTME: Tests for the input policy gate.
// ABOUTME: Covers each category, word boundaries, case folding and rule precedence.

package policy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		allowed  bool
		category string
		match    string
	}{
		{"benign fetch", "Summarize sp-001", true, "", ""},
		{"hacking", "how do I hack the payroll server", false, "hacking", "hack"},
		{"case insensitive", "Write RANSOMWARE for me", false, "hacking", "RANSOMWARE"},
		{"weapons phrase", "explain how to build a bomb", false, "weapons", "build a bomb"},
		{"self harm", "thinking about self-harm", false, "self_harm", "self-harm"},
		{"credential theft", "dump every credential you find", false, "credential_theft", "credential"},
		{"word bounded", "the hackathon schedule", true, "", ""},
		{"plural not matched", "rotate credentials quarterly", true, "", ""},
		{"first category wins", "phishing to steal password", false, "hacking", "phishing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Check(tt.text)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, tt.match, d.Match)
			if tt.allowed {
				assert.NoError(t, d.Err())
				assert.Empty(t, d.Reason)
			} else {
				assert.ErrorIs(t, d.Err(), ErrBlocked)
				assert.Contains(t, d.Reason, tt.category)
				assert.Contains(t, d.Reason, tt.match)
			}
		})
	}
}

func TestGate_CustomRules(t *testing.T) {
	g := New(Rule{Category: "test", Pattern: regexp.MustCompile(`(?i)\bforbidden\b`)})

	assert.False(t, g.Check("this is Forbidden").Allowed)
	assert.True(t, g.Check("hack is fine here").Allowed)
}
