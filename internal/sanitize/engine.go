package sanitize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/logger"
	"github.com/veilgate/veilgate/internal/rules"
	"github.com/veilgate/veilgate/internal/tokenstore"
)

// Engine is the sanitization core. It is safe for concurrent use: the only
// shared state is the ruleset provider (atomic snapshot reads) and the token
// store (concurrency-safe by contract).
type Engine struct {
	provider *rules.Provider
	store    tokenstore.Store
	secret   string
	budget   time.Duration
	never    map[string]struct{}
	logger   *logger.Logger
}

// New creates a sanitization engine. secret keys the anagram and
// simple_encrypt transforms; budget bounds per-rule matching time.
// neverCategories are denied restoration regardless of ruleset policy.
func New(provider *rules.Provider, store tokenstore.Store, secret string, budget time.Duration, neverCategories []string, log *logger.Logger) *Engine {
	never := make(map[string]struct{}, len(neverCategories))
	for _, c := range neverCategories {
		never[rules.NormalizeCategory(c)] = struct{}{}
	}
	return &Engine{
		provider: provider,
		store:    store,
		secret:   secret,
		budget:   budget,
		never:    never,
		logger:   log,
	}
}

// Sanitize detects sensitive spans in text and applies the configured
// actions. It never fails: per-rule timeouts and token store outages degrade
// to warnings, and the call always returns a usable result.
func (e *Engine) Sanitize(ctx context.Context, sessionID, text string) Result {
	if text == "" {
		return Result{SanitizedText: text}
	}

	snapshot := e.provider.Current()
	candidates, warnings := e.collect(snapshot, text)
	resolved := Resolve(candidates)
	if len(resolved) == 0 {
		return Result{SanitizedText: text, Warnings: warnings}
	}

	var (
		b       strings.Builder
		events  []Event
		encoded int
		cursor  int
	)
	for _, m := range resolved {
		b.WriteString(text[cursor:m.Start])

		replacement, tokenID, warn := e.applyAction(ctx, sessionID, m)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		b.WriteString(replacement)
		cursor = m.End

		events = append(events, Event{
			Start:    m.Start,
			End:      m.End,
			Category: m.Rule.Category,
			RuleID:   m.Rule.ID,
			Action:   m.Rule.Action.String(),
			Mode:     m.Rule.Mode.String(),
			TokenID:  tokenID,
		})
		if m.Rule.Mode == rules.ModeEnforce {
			encoded++
		}
	}
	b.WriteString(text[cursor:])

	e.logger.WithSession(sessionID).Debug("sanitize complete",
		zap.Int("matches", len(resolved)),
		zap.Int("encoded", encoded),
		zap.Int("warnings", len(warnings)),
	)

	return Result{
		SanitizedText: b.String(),
		Events:        events,
		Encoded:       encoded,
		Warnings:      warnings,
	}
}

// collect runs every rule in the snapshot against text under the per-rule
// time budget. A rule that exceeds its budget is skipped with a warning; the
// call carries on with the remaining rules.
func (e *Engine) collect(snapshot *rules.Ruleset, text string) ([]Match, []string) {
	var (
		candidates []Match
		warnings   []string
	)
	for _, rule := range snapshot.Rules {
		matches, ok := e.matchWithBudget(rule, text)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("rule %s: match timeout after %s, rule skipped", rule.ID, e.budget))
			e.logger.Warn("rule match timeout", zap.String("rule", rule.ID), zap.Duration("budget", e.budget))
			continue
		}
		candidates = append(candidates, matches...)
	}
	return candidates, warnings
}

// matchWithBudget runs one rule's matching with a bounded time budget. The
// match runs in its own goroutine; on timeout the result is abandoned. Go's
// regexp engine is linear-time, so an abandoned goroutine finishes on its own
// shortly after; the budget protects the request latency, not the process.
func (e *Engine) matchWithBudget(rule *rules.Rule, text string) ([]Match, bool) {
	if e.budget <= 0 {
		return matchRule(rule, text), true
	}

	done := make(chan []Match, 1)
	go func() {
		done <- matchRule(rule, text)
	}()

	timer := time.NewTimer(e.budget)
	defer timer.Stop()

	select {
	case matches := <-done:
		return matches, true
	case <-timer.C:
		return nil, false
	}
}

// matchRule produces every candidate match for one rule, overlaps included.
func matchRule(rule *rules.Rule, text string) []Match {
	var out []Match
	if rule.IsList() {
		for _, span := range rule.List.Match(text) {
			out = append(out, Match{
				Start:     span.Start,
				End:       span.End,
				Value:     text[span.Start:span.End],
				Canonical: span.Entry,
				Rule:      rule,
			})
		}
		return out
	}
	for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
		out = append(out, Match{Start: loc[0], End: loc[1], Value: text[loc[0]:loc[1]], Rule: rule})
	}
	return out
}
