package moderation

import (
	"iter"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxWindow is the largest number of consecutive tokens combined into a single
// candidate span. Multi-word rules longer than this can never match.
const MaxWindow = 3

// elongationRun is the run length at which repeated characters are treated as
// elongation ("sooooo") and collapsed to two.
const elongationRun = 3

// Span is a candidate produced by the scanner: a single token or a window of
// up to MaxWindow consecutive tokens. Start and End are rune offsets into the
// scanned text, End exclusive.
type Span struct {
	Text      string // original substring, separators included
	Plain     string // NFKC + lowercase tokens joined by a single space
	Norm      string // Plain with accents, leetspeak and elongation folded
	Start     int
	End       int
	Tokens    int
	Elongated bool
}

// Obfuscated reports whether matching the span required folding beyond case.
func (s Span) Obfuscated() bool {
	return s.Plain != s.Norm
}

type token struct {
	start, end int
	plain      string
	norm       string
	elongated  bool
}

// leetFolds maps common character substitutions back to the letter they
// stand in for.
var leetFolds = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
	'7': 't', '+': 't',
	'8': 'b',
	'9': 'g',
}

// Scan walks text and yields every token followed by the windows of two and
// three tokens starting at it. The sequence is deterministic: ranging over it
// twice yields the same spans in the same order.
func Scan(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		runes := []rune(text)
		toks := tokenize(runes)
		for i := range toks {
			for k := 1; k <= MaxWindow && i+k <= len(toks); k++ {
				if !yield(newSpan(runes, toks[i:i+k])) {
					return
				}
			}
		}
	}
}

func newSpan(runes []rune, toks []token) Span {
	first, last := toks[0], toks[len(toks)-1]
	s := Span{
		Text:   string(runes[first.start:last.end]),
		Start:  first.start,
		End:    last.end,
		Tokens: len(toks),
	}
	if len(toks) == 1 {
		s.Plain, s.Norm, s.Elongated = first.plain, first.norm, first.elongated
		return s
	}

	var plain, folded strings.Builder
	for i, t := range toks {
		if i > 0 {
			plain.WriteByte(' ')
			folded.WriteByte(' ')
		}
		plain.WriteString(t.plain)
		folded.WriteString(t.norm)
		s.Elongated = s.Elongated || t.elongated
	}
	s.Plain, s.Norm = plain.String(), folded.String()
	return s
}

// tokenize splits runes into tokens. A token is a maximal run of letters,
// digits, marks, obfuscation symbols and interior apostrophes. Trailing '!' is
// treated as sentence punctuation when the token contains a letter, and runs
// without any letter or digit are dropped.
func tokenize(runes []rune) []token {
	var toks []token
	i := 0
	for i < len(runes) {
		if !isTokenRune(runes, i) {
			i++
			continue
		}
		start := i
		for i < len(runes) && isTokenRune(runes, i) {
			i++
		}
		end := i

		hasLetter, hasDigit := false, false
		for _, r := range runes[start:end] {
			hasLetter = hasLetter || unicode.IsLetter(r)
			hasDigit = hasDigit || unicode.IsDigit(r)
		}
		if hasLetter {
			for end > start && runes[end-1] == '!' {
				end--
			}
		}
		if !hasLetter && !hasDigit {
			continue
		}

		raw := string(runes[start:end])
		plain, folded, elongated := normalizeToken(raw, hasLetter)
		toks = append(toks, token{start: start, end: end, plain: plain, norm: folded, elongated: elongated})
	}
	return toks
}

func isTokenRune(runes []rune, i int) bool {
	r := runes[i]
	if isWordRune(r) {
		return true
	}
	switch r {
	case '@', '$', '!', '|', '+':
		return true
	case '\'', '’':
		return i > 0 && i+1 < len(runes) && isWordRune(runes[i-1]) && unicode.IsLetter(runes[i+1])
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// normalizeToken returns the plain (NFKC, lowercase) and fully folded forms of
// a raw token. Leetspeak folding only applies to tokens that contain a letter
// so that plain numbers stay numbers.
func normalizeToken(raw string, hasLetter bool) (plain, folded string, elongated bool) {
	plain = strings.ToLower(norm.NFKC.String(raw))
	plain = strings.ReplaceAll(plain, "’", "'")

	var b strings.Builder
	b.Grow(len(plain))
	for _, r := range norm.NFD.String(plain) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if hasLetter {
			if f, ok := leetFolds[r]; ok {
				r = f
			}
		}
		b.WriteRune(r)
	}
	folded, elongated = collapseElongation(b.String())
	return plain, folded, elongated
}

// collapseElongation shortens every run of elongationRun or more identical
// runes to two.
func collapseElongation(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	collapsed := false
	prev, run := rune(-1), 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= elongationRun {
			collapsed = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), collapsed
}

// squeeze collapses every run of identical runes to one. It is only used to
// match elongated tokens against the squeezed term index.
func squeeze(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(-1)
	for _, r := range s {
		if r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// stretches reports whether token is term with some of its letters repeated:
// both have the same runs of identical runes in the same order, and no run in
// token is shorter than its counterpart in term. "fuuck" stretches "fuck";
// "aas" does not stretch "ass".
func stretches(token, term string) bool {
	a, b := runs(token), runs(term)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].r != b[i].r || a[i].n < b[i].n {
			return false
		}
	}
	return true
}

type runeRun struct {
	r rune
	n int
}

func runs(s string) []runeRun {
	var out []runeRun
	for _, r := range s {
		if k := len(out) - 1; k >= 0 && out[k].r == r {
			out[k].n++
			continue
		}
		out = append(out, runeRun{r: r, n: 1})
	}
	return out
}
