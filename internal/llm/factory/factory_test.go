package factory_test

import (
	"testing"

	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/llm/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := config.LLMConfig{
		OpenAI:   config.OpenAIConfig{APIKey: "sk-openai"},
		DeepSeek: config.DeepSeekConfig{APIKey: "sk-deepseek"},
		Ollama:   config.OllamaConfig{Host: "http://localhost:11434"},
	}

	for _, name := range factory.Names {
		p, err := factory.New(name, cfg, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}

	_, err := factory.New("watson", cfg, nil)
	assert.Error(t, err)
}

func TestNew_Overrides(t *testing.T) {
	p, err := factory.New("anthropic", config.LLMConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, p.IsConfigured())

	p, err = factory.New("anthropic", config.LLMConfig{}, map[string]any{"api_key": "sk-ant", "model": "claude-3-5-haiku-20241022"})
	require.NoError(t, err)
	assert.True(t, p.IsConfigured())
	assert.Equal(t, "claude-3-5-haiku-20241022", p.ModelInfo().Model)
}

func TestRegisterAll(t *testing.T) {
	router := llm.NewRouter("deepseek")
	require.NoError(t, factory.RegisterAll(router, config.LLMConfig{
		DeepSeek: config.DeepSeekConfig{APIKey: "sk-deepseek"},
		Gemini:   config.GeminiConfig{APIKey: "g-key"},
	}))

	assert.Equal(t, []string{"deepseek", "gemini"}, router.ListProviders())

	p, err := router.GetProvider("")
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
	assert.True(t, p.SupportsFunctions())

	_, err = router.GetProvider("openai")
	assert.Error(t, err)

	p, err = router.GetProviderWithConfig("openai", map[string]any{"api_key": "sk-user"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	infos := router.GetProvidersInfo()
	require.Len(t, infos, len(factory.Names))
	assert.Equal(t, "anthropic", infos[0].Name)
}
