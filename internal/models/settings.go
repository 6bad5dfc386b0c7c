package models

import "strings"

// Theme selects the presentation palette.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Settings controls how completion requests are built.
type Settings struct {
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	SystemInstructions string  `json:"system_instructions"`
	Theme              Theme   `json:"theme"`
}

// DefaultSettings returns the settings used before anything was persisted.
func DefaultSettings() Settings {
	return Settings{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Theme:       ThemeLight,
	}
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return &ValidationError{Field: "model", Reason: "model is required"}
	}
	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return &ValidationError{Field: "temperature", Reason: "temperature must be between 0 and 2"}
	}
	if s.MaxTokens <= 0 {
		return &ValidationError{Field: "max_tokens", Reason: "max tokens must be positive"}
	}
	switch s.Theme {
	case ThemeLight, ThemeDark:
	default:
		return &ValidationError{Field: "theme", Reason: "theme must be light or dark"}
	}
	return nil
}
