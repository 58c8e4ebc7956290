package rules

import (
	"strings"
	"unicode"
)

// List is a compiled multi-term search structure. Terms are tokenized and
// case-folded at build time and indexed by token count, so matching is a
// single left-to-right pass over the tokenized input probing each indexed
// phrase length. Immutable once built.
type List struct {
	Name     string
	phrases  map[string]string // normalized phrase -> canonical entry spelling
	lengths  []int             // distinct token counts, ascending
	terms    int               // entries after dedup, before reversal
	reversed bool
}

// Span is one occurrence of a list term in scanned text, in byte offsets.
// Entry is the canonical spelling of the matched list entry, so a
// reversed-order mention resolves to the same entry as a forward one.
type Span struct {
	Start int
	End   int
	Entry string
}

// BuildList compiles raw entries into a List. When reversedOrder is set,
// multi-token entries are additionally indexed in reverse token order, so
// "Jane Doe" and "Doe Jane" match as the same entry.
func BuildList(name string, entries []string, reversedOrder bool) *List {
	l := &List{
		Name:     name,
		phrases:  make(map[string]string, len(entries)),
		reversed: reversedOrder,
	}

	lengthSet := make(map[int]struct{})
	add := func(tokens []string, canonical string) bool {
		key := strings.Join(tokens, " ")
		if _, dup := l.phrases[key]; dup {
			return false
		}
		l.phrases[key] = canonical
		lengthSet[len(tokens)] = struct{}{}
		return true
	}

	for _, entry := range entries {
		tokens := foldTokens(entry)
		if len(tokens) == 0 {
			continue
		}
		canonical := strings.TrimSpace(entry)
		if add(tokens, canonical) {
			l.terms++
		}
		if reversedOrder && len(tokens) > 1 {
			rev := make([]string, len(tokens))
			for i, t := range tokens {
				rev[len(tokens)-1-i] = t
			}
			add(rev, canonical)
		}
	}

	for n := range lengthSet {
		l.lengths = append(l.lengths, n)
	}
	for i := 1; i < len(l.lengths); i++ {
		for j := i; j > 0 && l.lengths[j] < l.lengths[j-1]; j-- {
			l.lengths[j], l.lengths[j-1] = l.lengths[j-1], l.lengths[j]
		}
	}

	return l
}

// Len returns the number of distinct entries compiled into the list.
func (l *List) Len() int { return l.terms }

// Match returns every occurrence of a list entry in text, including
// overlapping occurrences where entries are substrings of one another.
// Overlap resolution is the resolver's job, not the matcher's.
func (l *List) Match(text string) []Span {
	if len(l.phrases) == 0 {
		return nil
	}

	words := tokenizeOffsets(text)
	var out []Span
	for i := range words {
		for _, n := range l.lengths {
			if i+n > len(words) {
				break
			}
			key := joinWords(words[i : i+n])
			if canonical, ok := l.phrases[key]; ok {
				out = append(out, Span{Start: words[i].start, End: words[i+n-1].end, Entry: canonical})
			}
		}
	}
	return out
}

type word struct {
	folded string
	start  int
	end    int
}

// tokenizeOffsets splits text into maximal letter/digit runs with byte offsets.
func tokenizeOffsets(text string) []word {
	var words []word
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, word{folded: strings.ToLower(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, word{folded: strings.ToLower(text[start:]), start: start, end: len(text)})
	}
	return words
}

func joinWords(ws []word) string {
	if len(ws) == 1 {
		return ws[0].folded
	}
	var b strings.Builder
	for i, w := range ws {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w.folded)
	}
	return b.String()
}

// foldTokens normalizes a list entry: case-folded letter/digit runs.
func foldTokens(entry string) []string {
	words := tokenizeOffsets(entry)
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.folded
	}
	return out
}
