package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campusbot/config"
)

type slowLLM struct{ delay time.Duration }

func (s slowLLM) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "late answer", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s slowLLM) ModelName() string { return "slow" }

func TestTimeout_CancelsSlowModel(t *testing.T) {
	m := WithTimeout(slowLLM{delay: time.Second}, 10*time.Millisecond, zaptest.NewLogger(t))

	_, err := m.Generate(context.Background(), "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "slow", m.ModelName())
}

func TestTimeout_PassesThrough(t *testing.T) {
	m := WithTimeout(slowLLM{}, time.Second, nil)

	text, err := m.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "late answer", text)
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestOpenAI_Generate(t *testing.T) {
	srv := chatServer(t, "  Paris is the capital of France.\n")
	defer srv.Close()

	m := NewOllama("llama3", srv.URL)
	text, err := m.Generate(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", text)
	assert.Equal(t, "llama3", m.ModelName())
}

func TestOpenAI_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, "   ")
	defer srv.Close()

	_, err := NewOllama("llama3", srv.URL).Generate(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	cfg.LLM.Provider = "none"
	m, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "mistral"
	m, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "mistral", m.ModelName())

	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKeyEnv = "CAMPUSBOT_TEST_GEMINI_KEY"
	t.Setenv("CAMPUSBOT_TEST_GEMINI_KEY", "")
	_, err = New(ctx, cfg, nil)
	assert.Error(t, err)

	cfg.LLM.Provider = "markov"
	_, err = New(ctx, cfg, nil)
	assert.Error(t, err)
}
