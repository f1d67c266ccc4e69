package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, llm.StripCodeFence("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[1]`, llm.StripCodeFence("```\n[1]\n```"))
	assert.Equal(t, `plain`, llm.StripCodeFence("  plain "))
}

func TestNewOpenAICompleter_RequiresKey(t *testing.T) {
	_, err := llm.NewOpenAICompleter(&config.LLMConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestOpenAICompleter_Complete(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"  hello  "},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`))
	}))
	defer server.Close()

	completer, err := llm.NewOpenAICompleter(&config.LLMConfig{
		APIKey:  "test",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 5,
	}, zap.NewNop())
	require.NoError(t, err)

	out, err := completer.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "test-model", gotModel)
}

func TestOpenAICompleter_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	completer, err := llm.NewOpenAICompleter(&config.LLMConfig{APIKey: "test", BaseURL: server.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, err = completer.Complete(context.Background(), llm.Prompt{User: "u"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}
