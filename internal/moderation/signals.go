package moderation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Compiled regex patterns for whole-text signals. These are compiled once at
// package init and are safe for concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains on
	// common TLDs. The bare-domain variant requires a trailing "/" to avoid
	// false positives on version strings like "v2.0" or decimals like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches phone numbers such as +1-555-123-4567,
	// (555) 123-4567 and 555.123.4567. It is anchored to whitespace or string
	// boundaries so short numbers like "100" never match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	charFloodThreshold = 5 // consecutive identical characters
	wordFloodThreshold = 3 // consecutive identical words
	shoutThreshold     = 4 // consecutive all-caps words

	urlConfidence       = 0.6
	phoneConfidence     = 0.5
	charFloodConfidence = 0.3
	wordFloodConfidence = 0.45
	shoutConfidence     = 0.35
)

// signals is the ordered list of whole-text detectors run by MatchText.
// Unlike rules they look at raw text, not scanned spans.
var signals = []func(text string) []Match{
	findURLs,
	findPhones,
	findCharFloods,
	findWordFloods,
	findShouting,
}

// MatchText runs the whole-text signal detectors (links, phone numbers,
// flooding and shouting) and returns their located matches.
func (m *Matcher) MatchText(text string) []Match {
	var out []Match
	for _, find := range signals {
		out = append(out, find(text)...)
	}
	return out
}

func findURLs(text string) []Match {
	var out []Match
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		out = append(out, regexMatch(text, loc[0], word, strings.ToLower(word), Spam, urlConfidence, "signal:url"))
	}
	return out
}

func findPhones(text string) []Match {
	var out []Match
	for pos := 0; pos < len(text); {
		loc := phonePattern.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		// The pattern consumes the surrounding whitespace.
		for start < end && isASCIISpace(text[start]) {
			start++
		}
		for end > start && isASCIISpace(text[end-1]) {
			end--
		}
		word := text[start:end]
		out = append(out, regexMatch(text, start, word, digitsOnly(word), Spam, phoneConfidence, "signal:phone"))
		// Resume on the trailing separator so it can also lead the next number.
		pos = end
	}
	return out
}

func regexMatch(text string, byteStart int, word, key string, c Category, conf float64, rule string) Match {
	start := utf8.RuneCountInString(text[:byteStart])
	return Match{
		Word:       word,
		Key:        key,
		Start:      start,
		End:        start + utf8.RuneCountInString(word),
		Category:   c,
		Confidence: conf,
		Rule:       rule,
	}
}

// findCharFloods flags every whitespace-delimited chunk containing a run of
// charFloodThreshold or more identical characters. Go's RE2 has no
// backreferences, so this is a linear scan.
func findCharFloods(text string) []Match {
	var out []Match
	for _, f := range fields(text) {
		count := 1
		prev := rune(-1)
		for _, r := range f.text {
			if r == prev {
				count++
				if count >= charFloodThreshold {
					break
				}
			} else {
				count = 1
				prev = r
			}
		}
		if count < charFloodThreshold {
			continue
		}
		out = append(out, Match{
			Word:       f.text,
			Key:        squeeze(strings.ToLower(f.text)),
			Start:      f.start,
			End:        f.end,
			Category:   Spam,
			Confidence: charFloodConfidence,
			Rule:       "signal:char_flood",
		})
	}
	return out
}

// findWordFloods flags runs of wordFloodThreshold or more identical words
// (case-insensitive). Words are delimited by whitespace.
func findWordFloods(text string) []Match {
	words := fields(text)
	if len(words) < wordFloodThreshold {
		return nil
	}

	var out []Match
	i := 0
	for i < len(words) {
		lower := strings.ToLower(words[i].text)
		j := i + 1
		for j < len(words) && strings.ToLower(words[j].text) == lower {
			j++
		}
		if j-i >= wordFloodThreshold {
			out = append(out, spanMatch(text, words[i], words[j-1], lower, Spam, wordFloodConfidence, "signal:word_flood"))
		}
		i = j
	}
	return out
}

// findShouting flags runs of shoutThreshold or more consecutive words written
// entirely in capitals.
func findShouting(text string) []Match {
	words := fields(text)
	var out []Match
	i := 0
	for i < len(words) {
		if !isShouted(words[i].text) {
			i++
			continue
		}
		j := i + 1
		for j < len(words) && isShouted(words[j].text) {
			j++
		}
		if j-i >= shoutThreshold {
			m := spanMatch(text, words[i], words[j-1], "", EmotionalContent, shoutConfidence, "signal:shouting")
			m.Key = strings.ToLower(m.Word)
			out = append(out, m)
		}
		i = j
	}
	return out
}

// isShouted reports whether w has at least two letters and none of them are
// lowercase.
func isShouted(w string) bool {
	letters := 0
	for _, r := range w {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 2
}

func spanMatch(text string, first, last field, key string, c Category, conf float64, rule string) Match {
	runes := []rune(text)
	return Match{
		Word:       string(runes[first.start:last.end]),
		Key:        key,
		Start:      first.start,
		End:        last.end,
		Category:   c,
		Confidence: conf,
		Rule:       rule,
	}
}

// field is a whitespace-delimited chunk of text with rune offsets.
type field struct {
	text       string
	start, end int
}

func fields(text string) []field {
	var out []field
	start := -1
	pos := 0
	byteStart := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, field{text: text[byteStart:i], start: start, end: pos})
				start = -1
			}
		} else if start < 0 {
			start = pos
			byteStart = i
		}
		pos++
	}
	if start >= 0 {
		out = append(out, field{text: text[byteStart:], start: start, end: pos})
	}
	return out
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
