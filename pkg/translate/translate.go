// Package translate provides the enrichment step of the relay: translating
// signal text before it is published. Translation is best-effort; callers
// publish the original content when it fails.
package translate

import (
	"context"
	"fmt"
	"strings"
)

// Translator converts text into the configured target language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Passthrough returns text unchanged.
type Passthrough struct{}

// Translate implements Translator.
func (Passthrough) Translate(_ context.Context, text string) (string, error) { return text, nil }

// Config selects and configures a translation provider.
type Config struct {
	Provider       string // none, openai, moonshot, anthropic
	APIKey         string
	APIBase        string
	Model          string
	TargetLanguage string
	MaxTokens      int64
}

// DefaultTargetLanguage is used when Config.TargetLanguage is empty.
const DefaultTargetLanguage = "English"

// instructions is the system prompt shared by the LLM-backed translators.
func instructions(lang string) string {
	if lang == "" {
		lang = DefaultTargetLanguage
	}
	return fmt.Sprintf("Translate the user's trading signal into %s. "+
		"Keep tickers, numbers, prices, emoji and line breaks exactly as they are. "+
		"Reply with the translation only.", lang)
}

// New creates the configured translator.
func New(cfg Config) (Translator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none", "passthrough":
		return Passthrough{}, nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "moonshot":
		if cfg.APIBase == "" {
			cfg.APIBase = MoonshotAPIBase
		}
		if cfg.Model == "" {
			cfg.Model = MoonshotDefaultModel
		}
		return NewOpenAI(cfg), nil
	case "anthropic", "claude":
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Provider)
	}
}
