package moderation

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

// DefaultContextWidth is the number of runes kept on each side of a flagged
// word in Flag.Context.
const DefaultContextWidth = 40

// repeatDecay discounts the k-th flag of a category (by descending
// confidence) by repeatDecay^k, so distinct categories compound faster than
// repeated hits of one category.
const repeatDecay = 0.5

// Flag is one reported instance of problematic content.
type Flag struct {
	Word       string   `json:"word"`
	Type       Category `json:"type"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Context    string   `json:"context,omitempty"`
}

// Result is the verdict for one analyzed text. Text is the input, byte for
// byte. Flags is never nil.
type Result struct {
	Text            string  `json:"text"`
	Flags           []Flag  `json:"flags"`
	OverallToxicity float64 `json:"overallToxicity"`
}

// Risk returns the risk level of the overall toxicity score.
func (r *Result) Risk() RiskLevel {
	return RiskLevelFor(r.OverallToxicity)
}

// RiskLevel buckets a toxicity score for display.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelFor maps a score in [0,1] to its risk level.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskHigh
	case score >= 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Label is the human-readable form, e.g. "High Risk".
func (l RiskLevel) Label() string {
	switch l {
	case RiskHigh:
		return "High Risk"
	case RiskMedium:
		return "Medium Risk"
	default:
		return "Low Risk"
	}
}

type groupKey struct {
	key      string
	category Category
}

type group struct {
	best  Match
	first int
}

type rankedFlag struct {
	Flag
	first int
}

// Aggregate folds matches into deduplicated, ordered flags and computes the
// overall toxicity.
func Aggregate(text string, matches []Match, rules *Ruleset, contextWidth int) *Result {
	res := &Result{Text: text, Flags: []Flag{}}
	if len(matches) == 0 {
		return res
	}

	groups := make(map[groupKey]*group)
	var order []groupKey
	for _, m := range dropNested(matches) {
		m.Confidence = clamp01(m.Confidence)
		k := groupKey{key: m.Key, category: m.Category}
		g, ok := groups[k]
		if !ok {
			groups[k] = &group{best: m, first: m.Start}
			order = append(order, k)
			continue
		}
		if m.Confidence > g.best.Confidence || (m.Confidence == g.best.Confidence && m.Start < g.best.Start) {
			g.best = m
		}
		g.first = min(g.first, m.Start)
	}

	var runes []rune
	if contextWidth > 0 {
		runes = []rune(text)
	}

	// Distinct keys can still surface the same original word; merge those so
	// (word, type) stays unique.
	byWord := make(map[groupKey]int)
	var ranked []rankedFlag
	for _, k := range order {
		g := groups[k]
		wk := groupKey{key: g.best.Word, category: g.best.Category}
		if i, ok := byWord[wk]; ok {
			ranked[i].Confidence = max(ranked[i].Confidence, g.best.Confidence)
			ranked[i].first = min(ranked[i].first, g.first)
			continue
		}
		byWord[wk] = len(ranked)
		ranked = append(ranked, rankedFlag{
			Flag: Flag{
				Word:       g.best.Word,
				Type:       g.best.Category,
				Reason:     g.best.Category.Reason(),
				Confidence: g.best.Confidence,
				Context:    contextAround(runes, g.best.Start, g.best.End, contextWidth),
			},
			first: g.first,
		})
	}

	slices.SortFunc(ranked, func(a, b rankedFlag) int {
		return cmp.Or(
			cmp.Compare(a.first, b.first),
			cmp.Compare(a.Type, b.Type),
			strings.Compare(a.Word, b.Word),
		)
	})

	res.Flags = make([]Flag, len(ranked))
	for i, rf := range ranked {
		res.Flags[i] = rf.Flag
	}
	// Scored per group rather than per merged flag, so a late match that
	// renames a group can never remove evidence from the score.
	evidence := make([]Flag, 0, len(order))
	for _, k := range order {
		g := groups[k]
		evidence = append(evidence, Flag{Type: g.best.Category, Confidence: g.best.Confidence})
	}
	res.OverallToxicity = overallToxicity(evidence, &rules.weights)
	return res
}

// dropNested removes term and pattern matches that nest with a stronger
// match of the same category, so "i'll kill you" is not also reported as
// "kill you". Confidence decides; on a tie the longer span wins, then the
// earlier match. Signal matches are never dropped.
func dropNested(matches []Match) []Match {
	idx := make([]int, 0, len(matches))
	for i, m := range matches {
		if !strings.HasPrefix(m.Rule, "signal:") {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Or(
			cmp.Compare(matches[a].Start, matches[b].Start),
			cmp.Compare(matches[b].End, matches[a].End),
		)
	})

	dropped := make([]bool, len(matches))
	nested := false
	for x, i := range idx {
		outer := matches[i]
		for _, j := range idx[x+1:] {
			inner := matches[j]
			if inner.Start >= outer.End {
				break
			}
			if inner.Category != outer.Category || inner.End > outer.End {
				continue
			}
			if clamp01(inner.Confidence) > clamp01(outer.Confidence) {
				dropped[i] = true
			} else {
				dropped[j] = true
			}
			nested = true
		}
	}
	if !nested {
		return matches
	}

	kept := make([]Match, 0, len(matches))
	for i, m := range matches {
		if !dropped[i] {
			kept = append(kept, m)
		}
	}
	return kept
}

// overallToxicity combines flag confidences as a probabilistic OR:
// 1 − Π(1 − c·w·repeatDecay^k). Categories are visited in declaration order
// and confidences in descending order so the float result is deterministic.
func overallToxicity(flags []Flag, weights *[numCategories]float64) float64 {
	if len(flags) == 0 {
		return 0
	}
	var byCategory [numCategories][]float64
	for _, f := range flags {
		byCategory[f.Type] = append(byCategory[f.Type], f.Confidence)
	}

	remaining := 1.0
	for c, confs := range byCategory {
		slices.SortFunc(confs, func(a, b float64) int { return cmp.Compare(b, a) })
		for k, conf := range confs {
			remaining *= 1 - clamp01(conf*weights[c]*math.Pow(repeatDecay, float64(k)))
		}
	}
	return clamp01(1 - remaining)
}

// contextAround returns up to width runes either side of [start,end), clipped
// to the text and trimmed of surrounding whitespace.
func contextAround(runes []rune, start, end, width int) string {
	if width <= 0 || len(runes) == 0 {
		return ""
	}
	from := max(0, start-width)
	to := min(len(runes), end+width)
	return strings.TrimSpace(string(runes[from:to]))
}
