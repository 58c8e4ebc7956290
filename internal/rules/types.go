// Package rules compiles the ruleset configuration into immutable snapshots
// used by the sanitization engine. A snapshot is never mutated after
// publication; reloads build a complete candidate and swap it in atomically.
package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Action is the transformation applied to a matched span.
type Action uint8

const (
	// ActionReplace substitutes the span with a fixed category label. Irreversible.
	ActionReplace Action = iota
	// ActionAnagram applies a deterministic class-preserving shuffle. Irreversible.
	ActionAnagram
	// ActionSimpleEncrypt embeds a reversible ENC[...] form inline. No store entry.
	ActionSimpleEncrypt
	// ActionTokenize substitutes a placeholder backed by the token store.
	ActionTokenize
)

// ParseAction parses the configuration spelling of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace":
		return ActionReplace, nil
	case "anagram":
		return ActionAnagram, nil
	case "simple_encrypt":
		return ActionSimpleEncrypt, nil
	case "tokenize", "":
		return ActionTokenize, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) String() string {
	switch a {
	case ActionReplace:
		return "replace"
	case ActionAnagram:
		return "anagram"
	case ActionSimpleEncrypt:
		return "simple_encrypt"
	case ActionTokenize:
		return "tokenize"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Mode controls whether a rule alters text or only reports.
type Mode uint8

const (
	ModeEnforce Mode = iota
	ModeReportOnly
)

// ParseMode parses the configuration spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enforce", "":
		return ModeEnforce, nil
	case "report_only":
		return ModeReportOnly, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeReportOnly {
		return "report_only"
	}
	return "enforce"
}

// Policy controls restoration of a category during reconciliation.
type Policy uint8

const (
	PolicyAlways Policy = iota
	PolicyNever
	PolicyConditional
)

// ParsePolicy parses the configuration spelling of a reconcile policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always", "":
		return PolicyAlways, nil
	case "never":
		return PolicyNever, nil
	case "conditional":
		return PolicyConditional, nil
	default:
		return 0, fmt.Errorf("unknown reconcile policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyNever:
		return "never"
	case PolicyConditional:
		return "conditional"
	}
	return "always"
}

// Rule is one compiled detection rule. Exactly one of Pattern or List is set.
type Rule struct {
	ID            string
	Category      string
	Action        Action
	Mode          Mode
	Priority      int
	CaseSensitive bool
	Replacement   string

	Pattern *regexp.Regexp // regex rules
	List    *List          // list rules
}

// IsList reports whether the rule is backed by a compiled term list.
func (r *Rule) IsList() bool { return r.List != nil }

// Ruleset is an immutable compiled snapshot: ordered rules, reconciliation
// policy, and the global never-reconcile category set.
type Ruleset struct {
	Version         int
	Rules           []*Rule
	NeverReconcile  map[string]struct{}
	ReconcilePolicy map[string]Policy
}

// RuleCount returns total rules and list-backed rules in the snapshot.
func (rs *Ruleset) RuleCount() (total, lists int) {
	for _, r := range rs.Rules {
		if r.IsList() {
			lists++
		}
	}
	return len(rs.Rules), lists
}

// PolicyFor resolves the reconciliation policy for a category. The global
// never-reconcile set takes precedence over per-category policy.
func (rs *Ruleset) PolicyFor(category string) Policy {
	if _, never := rs.NeverReconcile[category]; never {
		return PolicyNever
	}
	if p, ok := rs.ReconcilePolicy[category]; ok {
		return p
	}
	return PolicyAlways
}

// NormalizeCategory canonicalizes a category label: upper-cased with runs of
// non-alphanumerics collapsed to underscores.
func NormalizeCategory(category string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToUpper(strings.TrimSpace(category)) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "GENERIC"
	}
	return out
}
