package translate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviders(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantType  interface{}
		wantModel string
		wantErr   bool
	}{
		{name: "default is passthrough", cfg: Config{}, wantType: Passthrough{}},
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "sk-test"}, wantType: &OpenAITranslator{}, wantModel: OpenAIDefaultModel},
		{name: "moonshot uses openai client", cfg: Config{Provider: "moonshot", APIKey: "sk-test"}, wantType: &OpenAITranslator{}, wantModel: MoonshotDefaultModel},
		{name: "anthropic", cfg: Config{Provider: "Anthropic", APIKey: "sk-ant"}, wantType: &AnthropicTranslator{}, wantModel: AnthropicDefaultModel},
		{name: "custom model", cfg: Config{Provider: "openai", Model: "gpt-4.1"}, wantType: &OpenAITranslator{}, wantModel: "gpt-4.1"},
		{name: "unknown", cfg: Config{Provider: "babelfish"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, tr)
			if m, ok := tr.(interface{ Model() string }); ok {
				assert.Equal(t, tt.wantModel, m.Model())
			}
		})
	}
}

func TestPassthrough(t *testing.T) {
	out, err := Passthrough{}.Translate(context.Background(), "#signal BTC")
	require.NoError(t, err)
	assert.Equal(t, "#signal BTC", out)
}

func TestInstructionsMentionLanguage(t *testing.T) {
	assert.Contains(t, instructions("Russian"), "Russian")
	assert.Contains(t, instructions(""), DefaultTargetLanguage)
}

func TestOpenAITranslate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  #signal BTC long  "}}]
		}`)
	}))
	defer srv.Close()

	tr := NewOpenAI(Config{APIKey: "sk-test", APIBase: srv.URL, TargetLanguage: "English"})
	out, err := tr.Translate(context.Background(), "#signal BTC лонг")
	require.NoError(t, err)
	assert.Equal(t, "#signal BTC long", out)

	assert.Equal(t, OpenAIDefaultModel, got["model"])
	msgs, ok := got["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", msgs[1].(map[string]interface{})["role"])
}

func TestOpenAITranslateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	tr := NewOpenAI(Config{APIKey: "sk-test", APIBase: srv.URL})
	_, err := tr.Translate(context.Background(), "hi")
	assert.Error(t, err)
}

func TestAnthropicTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "ETH short 3100"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	tr := NewAnthropic(Config{APIKey: "sk-ant", APIBase: srv.URL})
	out, err := tr.Translate(context.Background(), "ETH шорт 3100")
	require.NoError(t, err)
	assert.Equal(t, "ETH short 3100", out)
}
