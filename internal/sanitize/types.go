// Package sanitize runs the detection and transformation pipeline: rule
// matching, overlap resolution, action application, and the reconciliation
// pass over model output.
package sanitize

import (
	"fmt"
	"regexp"

	"github.com/veilgate/veilgate/internal/rules"
)

// Match is one candidate detection before overlap resolution. Byte offsets
// into the input text. Canonical, set for list matches, is the matched
// entry's canonical spelling; a reversed-order mention tokenizes to the same
// id as a forward one because both share it.
type Match struct {
	Start     int
	End       int
	Value     string
	Canonical string
	Rule      *rules.Rule
}

// Event is one resolved, applied transformation. The ordered event list is
// the audit record for a sanitize call.
type Event struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Category string `json:"category"`
	RuleID   string `json:"rule_id"`
	Action   string `json:"action"`
	Mode     string `json:"mode"`
	TokenID  string `json:"token_id,omitempty"`
}

// Result is the outcome of one sanitize call. Encoded counts applied
// enforce-mode transformations; report-only events are recorded but not
// counted.
type Result struct {
	SanitizedText string   `json:"sanitized_text"`
	Events        []Event  `json:"events"`
	Encoded       int      `json:"encoded"`
	Warnings      []string `json:"warnings,omitempty"`
}

// DecodedEvent is one placeholder handled during reconciliation.
type DecodedEvent struct {
	TokenID  string `json:"token_id"`
	Category string `json:"category"`
	Restored bool   `json:"restored"`
	Reason   string `json:"reason,omitempty"`
}

// ReconcileResult is the outcome of one reconcile call. Decoded counts
// successful restorations only; denied and missing cases surface as events
// with Restored=false plus a warning.
type ReconcileResult struct {
	DecodedText string         `json:"decoded_text"`
	Events      []DecodedEvent `json:"events"`
	Decoded     int            `json:"decoded"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// placeholderRe matches the exact lexical shape emitted by the tokenize
// action: a bracketed tag carrying the category and a 10-hex-char opaque id.
var placeholderRe = regexp.MustCompile(`<TKN_([A-Z][A-Z0-9_]*)_([0-9a-f]{10})>`)

// Placeholder renders the tokenize placeholder for a category and token id.
func Placeholder(category, tokenID string) string {
	return fmt.Sprintf("<TKN_%s_%s>", category, tokenID)
}
