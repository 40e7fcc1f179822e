package analysis

import (
	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/moderation"
)

// LoadRules returns the ruleset at path, or the embedded default when path
// is empty.
func LoadRules(path string) (*moderation.Ruleset, error) {
	if path == "" {
		return moderation.DefaultRuleset()
	}
	return moderation.LoadRulesetFile(path)
}

// NewEngine builds the engine described by cfg.
func NewEngine(cfg *config.Config) (*moderation.Engine, error) {
	rules, err := LoadRules(cfg.RulesetPath)
	if err != nil {
		return nil, err
	}
	return moderation.New(rules,
		moderation.WithMaxLength(cfg.MaxTextLength),
		moderation.WithContextWidth(cfg.ContextWidth),
		moderation.WithWorkers(cfg.MatchWorkers),
	), nil
}
