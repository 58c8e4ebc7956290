package rules

import (
	"reflect"
	"testing"
)

func TestBuildList(t *testing.T) {
	t.Run("dedup is case insensitive", func(t *testing.T) {
		l := BuildList("names", []string{"John Smith", "john smith", "JOHN SMITH"}, false)
		if l.Len() != 1 {
			t.Errorf("Len() = %d, want 1", l.Len())
		}
		spans := l.Match("met john smith today")
		if len(spans) != 1 {
			t.Fatalf("got %d spans, want 1", len(spans))
		}
	})

	t.Run("blank entries skipped", func(t *testing.T) {
		l := BuildList("names", []string{"", "   ", "---"}, false)
		if spans := l.Match("anything at all"); spans != nil {
			t.Errorf("empty list matched: %v", spans)
		}
	})
}

func TestListMatch(t *testing.T) {
	t.Run("single and multi token", func(t *testing.T) {
		l := BuildList("brands", []string{"Initech", "Acme Corp"}, false)
		text := "Initech bought Acme Corp yesterday"
		spans := l.Match(text)
		if len(spans) != 2 {
			t.Fatalf("got %d spans, want 2: %v", len(spans), spans)
		}
		if got := text[spans[0].Start:spans[0].End]; got != "Initech" {
			t.Errorf("first span = %q", got)
		}
		if got := text[spans[1].Start:spans[1].End]; got != "Acme Corp" {
			t.Errorf("second span = %q", got)
		}
	})

	t.Run("case insensitive with offsets into original text", func(t *testing.T) {
		l := BuildList("brands", []string{"Acme Corp"}, false)
		text := "email ACME CORP support"
		spans := l.Match(text)
		if len(spans) != 1 {
			t.Fatalf("got %d spans, want 1", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "ACME CORP" {
			t.Errorf("span text = %q", got)
		}
	})

	t.Run("reversed order matches the same entry", func(t *testing.T) {
		l := BuildList("names", []string{"John Smith"}, true)
		text := "Contact John Smith or Smith John"
		spans := l.Match(text)
		if len(spans) != 2 {
			t.Fatalf("got %d spans, want 2: %v", len(spans), spans)
		}
		for _, s := range spans {
			if s.Entry != "John Smith" {
				t.Errorf("span %v canonical entry = %q, want %q", s, s.Entry, "John Smith")
			}
		}
	})

	t.Run("reversed order disabled", func(t *testing.T) {
		l := BuildList("names", []string{"John Smith"}, false)
		if spans := l.Match("call Smith John"); len(spans) != 0 {
			t.Errorf("reversed mention matched without the flag: %v", spans)
		}
	})

	t.Run("overlapping entries all reported", func(t *testing.T) {
		l := BuildList("orgs", []string{"Acme", "Acme Corp"}, false)
		text := "about Acme Corp today"
		spans := l.Match(text)
		got := make(map[string]bool)
		for _, s := range spans {
			got[text[s.Start:s.End]] = true
		}
		if !got["Acme"] || !got["Acme Corp"] {
			t.Errorf("expected both overlapping matches, got %v", spans)
		}
	})

	t.Run("punctuation separates tokens", func(t *testing.T) {
		l := BuildList("names", []string{"Jane Doe"}, false)
		text := "sender: Jane.Doe@example.com, signed Jane, Doe"
		spans := l.Match(text)
		if len(spans) != 2 {
			t.Fatalf("got %d spans, want 2: %v", len(spans), spans)
		}
	})

	t.Run("no substring matches inside words", func(t *testing.T) {
		l := BuildList("brands", []string{"Acme"}, false)
		if spans := l.Match("Acmeify the pipeline"); len(spans) != 0 {
			t.Errorf("matched inside a longer word: %v", spans)
		}
	})
}

func TestTokenizeOffsets(t *testing.T) {
	words := tokenizeOffsets("Hello, World-42!")
	var folded []string
	for _, w := range words {
		folded = append(folded, w.folded)
	}
	want := []string{"hello", "world", "42"}
	if !reflect.DeepEqual(folded, want) {
		t.Errorf("tokens = %v, want %v", folded, want)
	}
}
