package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sqlcoder", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Write([]byte(`{"model": "sqlcoder", "message": {"role": "assistant", "content": "SELECT 1"}, "done": true, "done_reason": "stop", "prompt_eval_count": 30, "eval_count": 5}`))
	}))
	defer srv.Close()

	p := ollama.NewProvider(srv.URL+"/", "sqlcoder")
	assert.False(t, p.SupportsFunctions())

	out, err := p.Generate(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "write sql"},
		{Role: domain.RoleUser, Content: "one"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out.Content)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 35, out.Usage.TotalTokens)
}

func TestProvider_NotConfigured(t *testing.T) {
	assert.False(t, ollama.NewProvider("", "").IsConfigured())
}
