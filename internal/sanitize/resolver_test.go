package sanitize

import (
	"testing"

	"github.com/veilgate/veilgate/internal/rules"
)

func mkRule(id string, priority int) *rules.Rule {
	return &rules.Rule{ID: id, Category: "GENERIC", Priority: priority}
}

func TestResolve(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		if got := Resolve(nil); got != nil {
			t.Errorf("Resolve(nil) = %v", got)
		}
	})

	t.Run("higher priority wins overlap", func(t *testing.T) {
		low := mkRule("low", 10)
		high := mkRule("high", 20)
		out := Resolve([]Match{
			{Start: 0, End: 5, Rule: low},
			{Start: 3, End: 8, Rule: high},
		})
		if len(out) != 1 || out[0].Rule.ID != "high" {
			t.Errorf("resolved = %v", out)
		}
	})

	t.Run("longer span wins at equal priority", func(t *testing.T) {
		a := mkRule("a", 10)
		b := mkRule("b", 10)
		out := Resolve([]Match{
			{Start: 0, End: 4, Rule: a},
			{Start: 0, End: 9, Rule: b},
		})
		if len(out) != 1 || out[0].Rule.ID != "b" {
			t.Errorf("resolved = %v", out)
		}
	})

	t.Run("rule id breaks remaining ties", func(t *testing.T) {
		a := mkRule("aardvark", 10)
		b := mkRule("zebra", 10)
		out := Resolve([]Match{
			{Start: 0, End: 5, Rule: b},
			{Start: 0, End: 5, Rule: a},
		})
		if len(out) != 1 || out[0].Rule.ID != "aardvark" {
			t.Errorf("resolved = %v", out)
		}
	})

	t.Run("non-overlapping matches all survive sorted by start", func(t *testing.T) {
		r := mkRule("r", 10)
		out := Resolve([]Match{
			{Start: 20, End: 25, Rule: r},
			{Start: 0, End: 5, Rule: r},
			{Start: 10, End: 15, Rule: r},
		})
		if len(out) != 3 {
			t.Fatalf("got %d matches, want 3", len(out))
		}
		for i := 1; i < len(out); i++ {
			if out[i].Start < out[i-1].End {
				t.Errorf("output not ordered/disjoint: %v", out)
			}
		}
	})

	t.Run("deterministic regardless of candidate order", func(t *testing.T) {
		low := mkRule("low", 10)
		high := mkRule("high", 20)
		forward := Resolve([]Match{
			{Start: 0, End: 5, Rule: low},
			{Start: 3, End: 8, Rule: high},
			{Start: 7, End: 12, Rule: low},
		})
		backward := Resolve([]Match{
			{Start: 7, End: 12, Rule: low},
			{Start: 3, End: 8, Rule: high},
			{Start: 0, End: 5, Rule: low},
		})
		if len(forward) != len(backward) {
			t.Fatalf("lengths differ: %d vs %d", len(forward), len(backward))
		}
		for i := range forward {
			if forward[i].Start != backward[i].Start || forward[i].Rule.ID != backward[i].Rule.ID {
				t.Errorf("index %d differs: %v vs %v", i, forward[i], backward[i])
			}
		}
	})

	t.Run("adjacent spans do not conflict", func(t *testing.T) {
		r := mkRule("r", 10)
		out := Resolve([]Match{
			{Start: 0, End: 5, Rule: r},
			{Start: 5, End: 10, Rule: r},
		})
		if len(out) != 2 {
			t.Errorf("adjacent spans dropped: %v", out)
		}
	})
}
