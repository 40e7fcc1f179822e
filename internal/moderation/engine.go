package moderation

import (
	"strconv"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxLength is the longest input, in runes, Analyze accepts by default.
const DefaultMaxLength = 10000

// minShardSpans is the smallest number of spans handed to one worker. Shorter
// inputs are matched serially.
const minShardSpans = 512

// Engine runs the scan, match and aggregate pipeline over a fixed Ruleset.
type Engine struct {
	rules        *Ruleset
	matcher      *Matcher
	maxLength    int
	contextWidth int
	workers      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxLength sets the input bound in runes. Values below 1 are ignored.
func WithMaxLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLength = n
		}
	}
}

// WithContextWidth sets how many runes of surrounding text each flag carries
// on either side. Zero disables context.
func WithContextWidth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.contextWidth = n
		}
	}
}

// WithWorkers shards span matching across n goroutines for long inputs. The
// result is identical to serial matching.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New returns an Engine for rules.
func New(rules *Ruleset, opts ...Option) *Engine {
	e := &Engine{
		rules:        rules,
		matcher:      NewMatcher(rules),
		maxLength:    DefaultMaxLength,
		contextWidth: DefaultContextWidth,
		workers:      1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ruleset returns the rules the engine was built with.
func (e *Engine) Ruleset() *Ruleset { return e.rules }

// MaxLength returns the input bound in runes.
func (e *Engine) MaxLength() int { return e.maxLength }

// ContextWidth returns how many runes of context each flag carries per side.
func (e *Engine) ContextWidth() int { return e.contextWidth }

// Scope identifies every setting a Result depends on besides the text:
// ruleset version, input bound and context width. Results computed under
// different scopes must not be shared.
func (e *Engine) Scope() string {
	return e.rules.Version + ":" + strconv.Itoa(e.maxLength) + ":" + strconv.Itoa(e.contextWidth)
}

// CheckLength returns *TextTooLongError when text exceeds the input bound.
func (e *Engine) CheckLength(text string) error {
	if n := utf8.RuneCountInString(text); n > e.maxLength {
		return &TextTooLongError{Length: n, Max: e.maxLength}
	}
	return nil
}

// Analyze classifies text. It fails only with *TextTooLongError; empty and
// clean inputs produce a Result with no flags and zero toxicity.
func (e *Engine) Analyze(text string) (*Result, error) {
	if err := e.CheckLength(text); err != nil {
		return nil, err
	}

	matches := e.matchSpans(text)
	matches = append(matches, e.matcher.MatchText(text)...)
	return Aggregate(text, matches, e.rules, e.contextWidth), nil
}

func (e *Engine) matchSpans(text string) []Match {
	if e.workers <= 1 {
		var out []Match
		for span := range Scan(text) {
			out = append(out, e.matcher.Match(span)...)
		}
		return out
	}

	var spans []Span
	for span := range Scan(text) {
		spans = append(spans, span)
	}
	shards := min(e.workers, len(spans)/minShardSpans)
	if shards <= 1 {
		var out []Match
		for _, span := range spans {
			out = append(out, e.matcher.Match(span)...)
		}
		return out
	}

	results := make([][]Match, shards)
	size := (len(spans) + shards - 1) / shards
	var g errgroup.Group
	for i := range shards {
		lo := i * size
		hi := min(lo+size, len(spans))
		g.Go(func() error {
			var out []Match
			for _, span := range spans[lo:hi] {
				out = append(out, e.matcher.Match(span)...)
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait() // shards never fail

	var out []Match
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
