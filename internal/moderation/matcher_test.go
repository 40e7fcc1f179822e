package moderation

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustDefault(t *testing.T) *Ruleset {
	t.Helper()
	rs, err := DefaultRuleset()
	if err != nil {
		t.Fatalf("DefaultRuleset: %v", err)
	}
	return rs
}

// matchAll runs the matcher over every span of text.
func matchAll(m *Matcher, text string) []Match {
	var out []Match
	for s := range Scan(text) {
		out = append(out, m.Match(s)...)
	}
	return out
}

func findMatch(matches []Match, c Category, rule string) (Match, bool) {
	for _, m := range matches {
		if m.Category == c && m.Rule == rule {
			return m, true
		}
	}
	return Match{}, false
}

func TestMatch_ExactTerm(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	tests := []struct {
		name  string
		input string
		cat   Category
		rule  string
		conf  float64
	}{
		{"single word", "shit", Profanity, "term:shit", 0.9},
		{"upper case", "SHIT", Profanity, "term:shit", 0.9},
		{"in sentence", "well that is shit", Profanity, "term:shit", 0.9},
		{"phrase", "you should kill yourself now", Threat, "term:kill yourself", 0.9},
		{"phrase with symbol", "100% free money", Spam, "term:100% free", 0.55},
		{"apostrophe phrase", "you're dead", Threat, "term:you're dead", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := findMatch(matchAll(m, tt.input), tt.cat, tt.rule)
			if !ok {
				t.Fatalf("no %s match for %q", tt.rule, tt.input)
			}
			if got.Confidence != tt.conf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.conf)
			}
			if got.Obfuscated {
				t.Error("exact hit reported as obfuscated")
			}
		})
	}
}

func TestMatch_ObfuscatedTerm(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	tests := []struct {
		name  string
		input string
		word  string
	}{
		{"digit for i", "sh1t", "sh1t"},
		{"dollar and bang", "$h!t", "$h!t"},
		{"accent", "shït", "shït"},
		{"elongated", "shiiiit", "shiiiit"},
		{"punctuated", "this is sh1t!", "sh1t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := findMatch(matchAll(m, tt.input), Profanity, "term:shit")
			if !ok {
				t.Fatalf("no match for %q", tt.input)
			}
			if !got.Obfuscated {
				t.Error("variant hit not marked obfuscated")
			}
			if want := 0.9 * 0.8; !approxEqual(got.Confidence, want) {
				t.Errorf("confidence = %v, want %v", got.Confidence, want)
			}
			if got.Word != tt.word {
				t.Errorf("word = %q, want %q", got.Word, tt.word)
			}
			if got.Key != "shit" {
				t.Errorf("key = %q, want shit", got.Key)
			}
		})
	}
}

func TestMatch_ElongationKeepsLetterCounts(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	for _, text := range []string{"aaas", "aaaas de piques"} {
		if got, ok := findMatch(matchAll(m, text), Profanity, "term:ass"); ok {
			t.Errorf("%q matched term:ass: %+v", text, got)
		}
	}
	for _, text := range []string{"asssss", "aaasss"} {
		if _, ok := findMatch(matchAll(m, text), Profanity, "term:ass"); !ok {
			t.Errorf("%q did not match term:ass", text)
		}
	}
}

func TestMatch_MultipleCategories(t *testing.T) {
	m := NewMatcher(mustDefault(t))
	matches := matchAll(m, "cunt")

	if _, ok := findMatch(matches, Profanity, "term:cunt"); !ok {
		t.Error("missing profanity match")
	}
	if _, ok := findMatch(matches, Offensive, "term:cunt"); !ok {
		t.Error("missing offensive match")
	}
}

func TestMatch_NoMatch(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	for _, text := range []string{"have a nice day", "badwording is fine", "kill and yourself", "class assignment"} {
		if got := matchAll(m, text); len(got) != 0 {
			t.Errorf("matchAll(%q) = %+v, want none", text, got)
		}
	}
}

func TestMatch_Patterns(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	tests := []struct {
		name  string
		input string
		cat   Category
		rule  string
		conf  float64
	}{
		{"bare verb target", "kill you", Threat, "pattern:threat.violent_verb_target", 0.85},
		{"boosted intent", "i'll kill you", Threat, "pattern:threat.violent_verb_target", 0.95},
		{"harm", "gonna hurt you", Threat, "pattern:threat.harm_verb_target", 0.7},
		{"insult", "you are stupid", PersonalAttack, "pattern:personal_attack.you_are_insult", 0.75},
		{"boosted insult", "you're so pathetic", PersonalAttack, "pattern:personal_attack.you_are_insult", 0.85},
		{"go to hell", "go to hell", Offensive, "pattern:offensive.go_to_hell", 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := findMatch(matchAll(m, tt.input), tt.cat, tt.rule)
			if !ok {
				t.Fatalf("no %s match for %q", tt.rule, tt.input)
			}
			if !approxEqual(got.Confidence, tt.conf) {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.conf)
			}
		})
	}
}

func TestMatch_ObfuscatedPattern(t *testing.T) {
	m := NewMatcher(mustDefault(t))

	got, ok := findMatch(matchAll(m, "k1ll you"), Threat, "pattern:threat.violent_verb_target")
	if !ok {
		t.Fatal("obfuscated window did not match")
	}
	if !got.Obfuscated {
		t.Error("match not marked obfuscated")
	}
	if want := 0.85 * 0.8; !approxEqual(got.Confidence, want) {
		t.Errorf("confidence = %v, want %v", got.Confidence, want)
	}
}
