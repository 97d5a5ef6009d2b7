package translate

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIDefaultModel = "gpt-4o-mini"

	// Moonshot serves an OpenAI-compatible API.
	MoonshotAPIBase      = "https://api.moonshot.cn/v1"
	MoonshotDefaultModel = "moonshot-v1-32k"
)

// OpenAITranslator translates with a chat completion model. It also serves
// OpenAI-compatible providers through a custom API base.
type OpenAITranslator struct {
	client openai.Client
	model  string
	prompt string
}

// NewOpenAI creates an OpenAI-compatible translator.
func NewOpenAI(cfg Config) *OpenAITranslator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	model := cfg.Model
	if model == "" {
		model = OpenAIDefaultModel
	}
	return &OpenAITranslator{
		client: openai.NewClient(opts...),
		model:  model,
		prompt: instructions(cfg.TargetLanguage),
	}
}

// Model returns the configured model name.
func (t *OpenAITranslator) Model() string { return t.model }

// Translate implements Translator.
func (t *OpenAITranslator) Translate(ctx context.Context, text string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(t.prompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("openai: empty translation")
	}
	return out, nil
}
