package moderation

// Match is a rule that fired against one span of the input. Matches only live
// for the duration of a single analysis.
type Match struct {
	Word       string // original substring
	Key        string // normalized grouping key
	Start      int    // rune offset
	End        int    // rune offset, exclusive
	Category   Category
	Confidence float64
	Rule       string
	Obfuscated bool
}

// Matcher evaluates candidate spans against a Ruleset.
type Matcher struct {
	rules *Ruleset
}

// NewMatcher returns a Matcher reading from rules.
func NewMatcher(rules *Ruleset) *Matcher {
	return &Matcher{rules: rules}
}

// Match returns every rule hit for span, possibly in several categories. Most
// spans match nothing and yield a nil slice.
func (m *Matcher) Match(span Span) []Match {
	var out []Match
	out = m.matchTerms(span, out)
	out = m.matchPatterns(span, out)
	return out
}

func (m *Matcher) matchTerms(span Span, out []Match) []Match {
	rules := m.rules.terms[span.Norm]
	viaSqueeze := false
	if len(rules) == 0 && span.Elongated {
		rules = m.rules.squeezed[squeeze(span.Norm)]
		viaSqueeze = true
	}
	for _, r := range rules {
		if viaSqueeze && !stretches(span.Norm, r.key) {
			continue
		}
		exact := !viaSqueeze && span.Plain == r.plain
		conf := r.Weight
		if !exact {
			conf *= m.rules.ObfuscationPenalty
		}
		out = append(out, Match{
			Word:       span.Text,
			Key:        r.key,
			Start:      span.Start,
			End:        span.End,
			Category:   r.Category,
			Confidence: clamp01(conf),
			Rule:       "term:" + r.Term,
			Obfuscated: !exact,
		})
	}
	return out
}

func (m *Matcher) matchPatterns(span Span, out []Match) []Match {
	for _, p := range m.rules.patterns {
		var conf float64
		obfuscated := false
		switch {
		case p.re.MatchString(span.Plain):
			conf = p.confidence(span.Plain)
		case span.Obfuscated() && p.re.MatchString(span.Norm):
			conf = p.confidence(span.Norm) * m.rules.ObfuscationPenalty
			obfuscated = true
		default:
			continue
		}
		out = append(out, Match{
			Word:       span.Text,
			Key:        span.Norm,
			Start:      span.Start,
			End:        span.End,
			Category:   p.Category,
			Confidence: clamp01(conf),
			Rule:       "pattern:" + p.Name,
			Obfuscated: obfuscated,
		})
	}
	return out
}
