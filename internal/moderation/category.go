package moderation

import (
	"encoding/json"
	"fmt"
)

// Category is one of the fixed moderation classes a flag can belong to. The
// numeric order is the declaration order used to break ordering ties.
type Category uint8

const (
	Offensive Category = iota
	Spam
	Inappropriate
	HateSpeech
	Profanity
	Threat
	PersonalAttack
	EmotionalContent

	numCategories = int(EmotionalContent) + 1
)

var categoryNames = [numCategories]string{
	Offensive:        "offensive",
	Spam:             "spam",
	Inappropriate:    "inappropriate",
	HateSpeech:       "hate_speech",
	Profanity:        "profanity",
	Threat:           "threat",
	PersonalAttack:   "personal_attack",
	EmotionalContent: "emotional_content",
}

// categoryReasons holds the human-readable reason attached to every flag of a
// category.
var categoryReasons = [numCategories]string{
	Offensive:        "Offensive or derogatory language",
	Spam:             "Promotional or spam-like content",
	Inappropriate:    "Sexually explicit or inappropriate content",
	HateSpeech:       "Hateful language targeting a protected group",
	Profanity:        "Detected explicit profanity",
	Threat:           "Threatening or violent language",
	PersonalAttack:   "Insult directed at a person",
	EmotionalContent: "Strongly emotional or distressing language",
}

// defaultCategoryWeights scales each flag's contribution to the overall
// toxicity. Severe categories pull the score up faster than mild ones.
var defaultCategoryWeights = [numCategories]float64{
	Offensive:        0.8,
	Spam:             0.5,
	Inappropriate:    0.75,
	HateSpeech:       1.0,
	Profanity:        0.7,
	Threat:           1.0,
	PersonalAttack:   0.85,
	EmotionalContent: 0.4,
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// ParseCategory converts a snake_case category name into a Category.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("moderation: unknown category %q", s)
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return int(c) < numCategories
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// Reason returns the fixed reason template for the category.
func (c Category) Reason() string {
	if !c.Valid() {
		return ""
	}
	return categoryReasons[c]
}

// MarshalJSON encodes the category as its snake_case name.
func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("moderation: cannot marshal %s", c)
	}
	return json.Marshal(categoryNames[c])
}

// UnmarshalJSON decodes a snake_case category name.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("moderation: category must be a string: %w", err)
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
