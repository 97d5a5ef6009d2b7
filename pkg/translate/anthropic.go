package translate

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const AnthropicDefaultModel = "claude-3-5-haiku-latest"

// AnthropicTranslator translates with a Claude model.
type AnthropicTranslator struct {
	client    anthropic.Client
	model     string
	prompt    string
	maxTokens int64
}

// NewAnthropic creates an Anthropic translator.
func NewAnthropic(cfg Config) *AnthropicTranslator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	model := cfg.Model
	if model == "" {
		model = AnthropicDefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicTranslator{
		client:    anthropic.NewClient(opts...),
		model:     model,
		prompt:    instructions(cfg.TargetLanguage),
		maxTokens: maxTokens,
	}
}

// Model returns the configured model name.
func (t *AnthropicTranslator) Model() string { return t.model }

// Translate implements Translator.
func (t *AnthropicTranslator) Translate(ctx context.Context, text string) (string, error) {
	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: t.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: t.prompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("anthropic: empty translation")
	}
	return out, nil
}
