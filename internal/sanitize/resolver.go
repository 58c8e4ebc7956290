package sanitize

import "sort"

// Resolve turns overlapping candidates into a non-overlapping match set.
// Candidates are ranked by (priority desc, span length desc, start asc,
// rule id asc) and accepted greedily when they do not intersect an already
// accepted span. The ordering makes resolution deterministic for identical
// input and ruleset: higher priority wins, longer spans beat fragments at
// equal priority, and the remaining ties break leftmost-first.
// The returned set is sorted by start offset.
func Resolve(candidates []Match) []Match {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]Match, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Rule.Priority != b.Rule.Priority {
			return a.Rule.Priority > b.Rule.Priority
		}
		if al, bl := a.End-a.Start, b.End-b.Start; al != bl {
			return al > bl
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Rule.ID < b.Rule.ID
	})

	var accepted []Match
	for _, cand := range ranked {
		if intersectsAny(accepted, cand) {
			continue
		}
		accepted = append(accepted, cand)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}

func intersectsAny(accepted []Match, cand Match) bool {
	for _, m := range accepted {
		if cand.Start < m.End && m.Start < cand.End {
			return true
		}
	}
	return false
}
