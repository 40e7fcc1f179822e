package moderation

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrTextTooLong    = errors.New("moderation: text too long")
	ErrInvalidRuleset = errors.New("moderation: invalid ruleset")
)

// TextTooLongError is returned by Engine.Analyze when the input exceeds the
// supported length. Length and Max are counted in runes.
type TextTooLongError struct {
	Length int
	Max    int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("moderation: text is %d characters, maximum is %d", e.Length, e.Max)
}

func (e *TextTooLongError) Is(target error) bool {
	return target == ErrTextTooLong
}

// InvalidRulesetError reports a ruleset that failed to parse or validate. It
// only occurs while loading, never during analysis.
type InvalidRulesetError struct {
	Field  string // offending location, e.g. "terms[2].words[0]"
	Reason string
	Err    error // underlying parse error, if any
}

func (e *InvalidRulesetError) Error() string {
	msg := "moderation: invalid ruleset"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidRulesetError) Unwrap() error {
	return e.Err
}

func (e *InvalidRulesetError) Is(target error) bool {
	return target == ErrInvalidRuleset
}
