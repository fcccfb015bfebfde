// Package factory builds LLM backends by provider name.
package factory

import (
	"fmt"

	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/llm/anthropic"
	"github.com/Rrens/insights-gateway/internal/llm/deepseek"
	"github.com/Rrens/insights-gateway/internal/llm/gemini"
	"github.com/Rrens/insights-gateway/internal/llm/ollama"
	"github.com/Rrens/insights-gateway/internal/llm/openai"
)

// Names lists the providers New knows how to build
var Names = []string{"openai", "anthropic", "deepseek", "ollama", "gemini"}

// New builds the named provider from configuration. Credentials come from
// the config, which binds them to OPENAI_API_KEY, ANTHROPIC_API_KEY,
// DEEPSEEK_API_KEY, GEMINI_API_KEY and OLLAMA_HOST. Overrides may replace
// api_key, model, host or base_url.
func New(name string, cfg config.LLMConfig, overrides map[string]any) (llm.Provider, error) {
	str := func(key, fallback string) string {
		if v, ok := overrides[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}

	switch name {
	case "openai":
		return openai.NewProvider(str("api_key", cfg.OpenAI.APIKey), str("model", cfg.OpenAI.Model), str("base_url", cfg.OpenAI.BaseURL)), nil
	case "anthropic":
		return anthropic.NewProvider(str("api_key", cfg.Anthropic.APIKey), str("model", cfg.Anthropic.Model), str("base_url", cfg.Anthropic.BaseURL)), nil
	case "deepseek":
		return deepseek.NewProvider(str("api_key", cfg.DeepSeek.APIKey), str("model", cfg.DeepSeek.Model), str("base_url", cfg.DeepSeek.BaseURL)), nil
	case "ollama":
		return ollama.NewProvider(str("host", cfg.Ollama.Host), str("model", cfg.Ollama.DefaultModel)), nil
	case "gemini":
		return gemini.NewProvider(str("api_key", cfg.Gemini.APIKey), str("model", cfg.Gemini.Model)), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", name)
}

// RegisterAll registers every provider and its factory on the router
func RegisterAll(router *llm.Router, cfg config.LLMConfig) error {
	for _, name := range Names {
		p, err := New(name, cfg, nil)
		if err != nil {
			return err
		}
		router.RegisterProvider(p)

		name := name
		router.RegisterFactory(name, func(overrides map[string]any) (llm.Provider, error) {
			return New(name, cfg, overrides)
		})
	}
	return nil
}
