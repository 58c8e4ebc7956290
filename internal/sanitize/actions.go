package sanitize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/rules"
	"github.com/veilgate/veilgate/internal/secure"
)

// applyAction produces the replacement text for one resolved match. It never
// fails: a token store outage degrades the tokenize action to an irreversible
// replace for that span and returns a warning. Report-only rules record the
// event but leave the text untouched.
func (e *Engine) applyAction(ctx context.Context, sessionID string, m Match) (replacement, tokenID, warning string) {
	if m.Rule.Mode == rules.ModeReportOnly {
		return m.Value, "", ""
	}

	switch m.Rule.Action {
	case rules.ActionReplace:
		return replaceLabel(m.Rule), "", ""

	case rules.ActionAnagram:
		return secure.Anagram(m.Value, e.secret, sessionID, m.Rule.Category), "", ""

	case rules.ActionSimpleEncrypt:
		return secure.SimpleEncrypt(m.Value, e.secret, sessionID), "", ""

	case rules.ActionTokenize:
		value := m.Value
		if m.Canonical != "" {
			value = m.Canonical
		}
		id, created, err := e.store.Put(ctx, sessionID, m.Rule.Category, value)
		if err != nil {
			// One storage outage must not abort the sanitize call. The span
			// still leaves sanitized, just not reversibly.
			e.logger.WithSession(sessionID).Error("token store put failed, degrading to replace",
				zap.String("rule", m.Rule.ID),
				zap.String("category", m.Rule.Category),
				zap.Error(err),
			)
			return replaceLabel(m.Rule), "", fmt.Sprintf("rule %s: tokenize failed (%v), span replaced irreversibly", m.Rule.ID, err)
		}
		if created {
			// Hash, never the value itself: debug logs must stay leak-free.
			e.logger.WithSession(sessionID).Debug("token created",
				zap.String("category", m.Rule.Category),
				zap.String("token_id", id),
				zap.String("value_hash", secure.HashText(value)[:12]),
			)
		}
		return Placeholder(m.Rule.Category, id), id, ""
	}

	// Unreachable with a valid compiled rule; keep the span sanitized anyway.
	return replaceLabel(m.Rule), "", fmt.Sprintf("rule %s: unknown action, span replaced", m.Rule.ID)
}

func replaceLabel(r *rules.Rule) string {
	if r.Replacement != "" {
		return r.Replacement
	}
	return "[" + r.Category + "]"
}
