package sanitize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/rules"
	"github.com/veilgate/veilgate/internal/tokenstore"
)

// Reconcile scans model output for token placeholders and restores originals
// according to per-category policy. The provider is only instructed, never
// guaranteed, to leave placeholders intact, so the scan treats the text as
// untrusted: malformed or truncated fragments are left byte-for-byte
// unchanged and recorded as unresolved, never partially substituted.
// allowConditional opts the caller in to categories with conditional policy.
func (e *Engine) Reconcile(ctx context.Context, sessionID, text string, allowConditional bool) ReconcileResult {
	if text == "" {
		return ReconcileResult{DecodedText: text}
	}

	snapshot := e.provider.Current()
	locs := placeholderRe.FindAllStringSubmatchIndex(text, -1)

	var (
		b        strings.Builder
		events   []DecodedEvent
		warnings []string
		decoded  int
		cursor   int
	)
	wellFormed := make(map[int]struct{}, len(locs))

	type lookup struct {
		value    string
		category string
		err      error
	}
	cache := make(map[string]lookup)

	for _, loc := range locs {
		start, end := loc[0], loc[1]
		category := text[loc[2]:loc[3]]
		tokenID := text[loc[4]:loc[5]]
		wellFormed[start] = struct{}{}

		b.WriteString(text[cursor:start])
		cursor = end

		ev := DecodedEvent{TokenID: tokenID, Category: category}

		if _, deny := e.never[category]; deny {
			ev.Reason = "policy denies restoration"
		} else {
			switch snapshot.PolicyFor(category) {
			case rules.PolicyNever:
				ev.Reason = "policy denies restoration"
			case rules.PolicyConditional:
				if !allowConditional {
					ev.Reason = "conditional restoration not requested"
				}
			case rules.PolicyAlways:
			}
		}

		if ev.Reason != "" {
			b.WriteString(text[start:end])
			warnings = append(warnings, fmt.Sprintf("token %s (%s): %s", tokenID, category, ev.Reason))
			events = append(events, ev)
			continue
		}

		res, hit := cache[tokenID]
		if !hit {
			res.value, res.category, res.err = e.store.Get(ctx, sessionID, tokenID)
			cache[tokenID] = res
		}

		switch {
		case res.err == nil && res.category != category:
			// The model output is untrusted; a placeholder claiming a different
			// category than the mapping was stored under is a forgery attempt or
			// mangling, never a restore. Policy was checked against the claimed
			// category, so a swap must not reach the stored value.
			b.WriteString(text[start:end])
			ev.Reason = "placeholder category does not match stored mapping"
			warnings = append(warnings, fmt.Sprintf("token %s (%s): stored under a different category, left unchanged", tokenID, category))
			e.logger.WithSession(sessionID).Warn("placeholder category mismatch",
				zap.String("token_id", tokenID),
				zap.String("claimed_category", category),
			)
		case res.err == nil:
			b.WriteString(res.value)
			ev.Restored = true
			decoded++
		case errors.Is(res.err, tokenstore.ErrExpired):
			b.WriteString(text[start:end])
			ev.Reason = "mapping expired"
			warnings = append(warnings, fmt.Sprintf("token %s (%s): mapping expired", tokenID, category))
		case errors.Is(res.err, tokenstore.ErrNotFound):
			b.WriteString(text[start:end])
			ev.Reason = "mapping not found"
			warnings = append(warnings, fmt.Sprintf("token %s (%s): mapping not found", tokenID, category))
		default:
			b.WriteString(text[start:end])
			ev.Reason = "store lookup failed"
			warnings = append(warnings, fmt.Sprintf("token %s (%s): store lookup failed: %v", tokenID, category, res.err))
			e.logger.WithSession(sessionID).Error("token store get failed",
				zap.String("token_id", tokenID),
				zap.Error(res.err),
			)
		}
		events = append(events, ev)
	}
	b.WriteString(text[cursor:])

	// Fragments that start like a placeholder but do not parse as one: the
	// provider mangled them. Left unchanged above; recorded here.
	for _, idx := range indexAll(text, "<TKN_") {
		if _, ok := wellFormed[idx]; ok {
			continue
		}
		events = append(events, DecodedEvent{Reason: "malformed placeholder left unchanged"})
		warnings = append(warnings, fmt.Sprintf("malformed placeholder at offset %d left unchanged", idx))
	}

	e.logger.WithSession(sessionID).Debug("reconcile complete",
		zap.Int("placeholders", len(locs)),
		zap.Int("decoded", decoded),
		zap.Int("warnings", len(warnings)),
	)

	return ReconcileResult{
		DecodedText: b.String(),
		Events:      events,
		Decoded:     decoded,
		Warnings:    warnings,
	}
}

func indexAll(text, sub string) []int {
	var out []int
	for offset := 0; ; {
		i := strings.Index(text[offset:], sub)
		if i < 0 {
			return out
		}
		out = append(out, offset+i)
		offset += i + 1
	}
}
