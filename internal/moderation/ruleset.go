package moderation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
)

//go:embed rules/default.json
var defaultRulesJSON []byte

// TermRule fires when a candidate span's normalized text equals Term's
// normalized form. Multi-word terms match windows of the same token count.
type TermRule struct {
	Term     string
	Category Category
	Weight   float64

	key   string // normalized form, used as the flag grouping key
	plain string // NFKC + lowercase form; equality means an exact hit
}

// PatternRule fires when its expression matches a whole normalized window.
// Confidence is Weight plus Boost for every distinct boost term present in
// the window, clamped to [0,1].
type PatternRule struct {
	Name       string
	Category   Category
	Weight     float64
	Boost      float64
	BoostTerms []string

	re *regexp.Regexp
}

// confidence applies the rule's combination function to a matched window.
func (p *PatternRule) confidence(window string) float64 {
	if p.Boost == 0 || len(p.BoostTerms) == 0 {
		return clamp01(p.Weight)
	}
	n := 0
	for _, bt := range p.BoostTerms {
		if containsPhrase(window, bt) {
			n++
		}
	}
	return clamp01(p.Weight + p.Boost*float64(n))
}

// Ruleset is the immutable, versioned rule table shared by every analysis.
// Nothing mutates a Ruleset after LoadRuleset returns.
type Ruleset struct {
	Version            string
	ObfuscationPenalty float64

	weights  [numCategories]float64
	terms    map[string][]TermRule
	squeezed map[string][]TermRule
	patterns []*PatternRule
	numTerms int
}

// CategoryWeight returns the toxicity weight of c.
func (rs *Ruleset) CategoryWeight(c Category) float64 {
	if !c.Valid() {
		return 0
	}
	return rs.weights[c]
}

// NumTerms returns the number of term rules, across all categories.
func (rs *Ruleset) NumTerms() int { return rs.numTerms }

// NumPatterns returns the number of pattern rules.
func (rs *Ruleset) NumPatterns() int { return len(rs.patterns) }

// ruleFile is the on-disk JSON layout of a ruleset.
type ruleFile struct {
	Version            string             `json:"version"`
	ObfuscationPenalty float64            `json:"obfuscation_penalty"`
	CategoryWeights    map[string]float64 `json:"category_weights,omitempty"`
	Terms              []termGroup        `json:"terms"`
	Patterns           []patternEntry     `json:"patterns"`
}

type termGroup struct {
	Category string   `json:"category"`
	Weight   float64  `json:"weight"`
	Words    []string `json:"words"`
}

type patternEntry struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Pattern    string   `json:"pattern"`
	Weight     float64  `json:"weight"`
	Boost      float64  `json:"boost,omitempty"`
	BoostTerms []string `json:"boost_terms,omitempty"`
}

var loadDefault = sync.OnceValues(func() (*Ruleset, error) {
	return LoadRuleset(bytes.NewReader(defaultRulesJSON))
})

// DefaultRuleset returns the embedded ruleset. It is parsed once per process
// and the same pointer is returned to every caller.
func DefaultRuleset() (*Ruleset, error) {
	return loadDefault()
}

// LoadRulesetFile reads and validates a JSON ruleset from path.
func LoadRulesetFile(path string) (*Ruleset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InvalidRulesetError{Field: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()
	return LoadRuleset(f)
}

// LoadRuleset parses and validates a JSON ruleset. Every failure is reported
// as an *InvalidRulesetError.
func LoadRuleset(r io.Reader) (*Ruleset, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var rf ruleFile
	if err := dec.Decode(&rf); err != nil {
		return nil, &InvalidRulesetError{Reason: "malformed JSON", Err: err}
	}
	return compileRuleset(&rf)
}

func compileRuleset(rf *ruleFile) (*Ruleset, error) {
	if strings.TrimSpace(rf.Version) == "" {
		return nil, &InvalidRulesetError{Field: "version", Reason: "must not be empty"}
	}
	if rf.ObfuscationPenalty <= 0 || rf.ObfuscationPenalty >= 1 {
		return nil, &InvalidRulesetError{
			Field:  "obfuscation_penalty",
			Reason: fmt.Sprintf("%v is outside (0,1)", rf.ObfuscationPenalty),
		}
	}

	rs := &Ruleset{
		Version:            rf.Version,
		ObfuscationPenalty: rf.ObfuscationPenalty,
		weights:            defaultCategoryWeights,
		terms:              make(map[string][]TermRule),
		squeezed:           make(map[string][]TermRule),
	}

	for name, w := range rf.CategoryWeights {
		field := "category_weights." + name
		c, err := ParseCategory(name)
		if err != nil {
			return nil, &InvalidRulesetError{Field: field, Err: err}
		}
		if err := checkWeight(field, w); err != nil {
			return nil, err
		}
		rs.weights[c] = w
	}

	for gi, g := range rf.Terms {
		field := fmt.Sprintf("terms[%d]", gi)
		c, err := ParseCategory(g.Category)
		if err != nil {
			return nil, &InvalidRulesetError{Field: field + ".category", Err: err}
		}
		if err := checkWeight(field+".weight", g.Weight); err != nil {
			return nil, err
		}
		for wi, word := range g.Words {
			wfield := fmt.Sprintf("%s.words[%d]", field, wi)
			plain, key, n := normalizePhrase(word)
			if n == 0 {
				return nil, &InvalidRulesetError{Field: wfield, Reason: "term has no letters or digits"}
			}
			if n > MaxWindow {
				return nil, &InvalidRulesetError{
					Field:  wfield,
					Reason: fmt.Sprintf("%q spans %d words, at most %d can match", word, n, MaxWindow),
				}
			}
			rule := TermRule{Term: word, Category: c, Weight: g.Weight, key: key, plain: plain}
			rs.terms[key] = append(rs.terms[key], rule)
			sq := squeeze(key)
			rs.squeezed[sq] = append(rs.squeezed[sq], rule)
			rs.numTerms++
		}
	}

	seen := make(map[string]bool, len(rf.Patterns))
	for pi, p := range rf.Patterns {
		field := fmt.Sprintf("patterns[%d]", pi)
		if p.Name == "" {
			return nil, &InvalidRulesetError{Field: field + ".name", Reason: "must not be empty"}
		}
		if seen[p.Name] {
			return nil, &InvalidRulesetError{Field: field + ".name", Reason: fmt.Sprintf("duplicate pattern %q", p.Name)}
		}
		seen[p.Name] = true

		c, err := ParseCategory(p.Category)
		if err != nil {
			return nil, &InvalidRulesetError{Field: field + ".category", Err: err}
		}
		if err := checkWeight(field+".weight", p.Weight); err != nil {
			return nil, err
		}
		if err := checkWeight(field+".boost", p.Boost); err != nil {
			return nil, err
		}
		// Patterns always cover the whole window, written anchors or not.
		re, err := regexp.Compile(`^(?:` + p.Pattern + `)$`)
		if err != nil {
			return nil, &InvalidRulesetError{Field: field + ".pattern", Err: err}
		}

		boostTerms := make([]string, 0, len(p.BoostTerms))
		for _, bt := range p.BoostTerms {
			if _, key, n := normalizePhrase(bt); n > 0 {
				boostTerms = append(boostTerms, key)
			}
		}
		rs.patterns = append(rs.patterns, &PatternRule{
			Name:       p.Name,
			Category:   c,
			Weight:     p.Weight,
			Boost:      p.Boost,
			BoostTerms: boostTerms,
			re:         re,
		})
	}

	return rs, nil
}

func checkWeight(field string, w float64) error {
	if w < 0 || w > 1 {
		return &InvalidRulesetError{Field: field, Reason: fmt.Sprintf("%v is outside [0,1]", w)}
	}
	return nil
}

// normalizePhrase runs a rule term through the same tokenizer as scanned text
// and returns its plain and folded forms plus the token count.
func normalizePhrase(s string) (plain, key string, n int) {
	toks := tokenize([]rune(s))
	if len(toks) == 0 {
		return "", "", 0
	}
	span := newSpan([]rune(s), toks)
	return span.Plain, span.Norm, len(toks)
}

// containsPhrase reports whether phrase occurs in window on token boundaries.
func containsPhrase(window, phrase string) bool {
	padded := " " + window + " "
	return strings.Contains(padded, " "+phrase+" ")
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
