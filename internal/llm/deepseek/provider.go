package deepseek

import (
	"github.com/Rrens/insights-gateway/internal/llm/openai"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// NewProvider creates a DeepSeek provider. DeepSeek serves the OpenAI chat
// completions API, including function tools.
func NewProvider(apiKey, defaultModel, baseURL string) *openai.Provider {
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openai.NewCompatible("deepseek", baseURL, apiKey, defaultModel, []string{
		"deepseek-chat",
		"deepseek-reasoner",
	})
}
