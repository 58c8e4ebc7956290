package events

import "time"

// Type classifies a feed event.
type Type string

const (
	// TypeSanitize is emitted after each sanitize call.
	TypeSanitize Type = "sanitize"
	// TypeReconcile is emitted after each reconcile call.
	TypeReconcile Type = "reconcile"
	// TypeRuleset is emitted when a ruleset snapshot is published.
	TypeRuleset Type = "ruleset"
)

// Event is one message on the live feed. Payloads carry counts and category
// metadata only; original values never reach the feed.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// SanitizePayload summarizes one sanitize call.
type SanitizePayload struct {
	Encoded    int      `json:"encoded"`
	Matches    int      `json:"matches"`
	Categories []string `json:"categories"`
	Warnings   int      `json:"warnings"`
}

// ReconcilePayload summarizes one reconcile call.
type ReconcilePayload struct {
	Placeholders int `json:"placeholders"`
	Decoded      int `json:"decoded"`
	Warnings     int `json:"warnings"`
}

// RulesetPayload summarizes a published ruleset snapshot.
type RulesetPayload struct {
	Version   int `json:"version"`
	Rules     int `json:"rules"`
	ListRules int `json:"list_rules"`
}
