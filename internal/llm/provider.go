package llm

import (
	"context"

	"github.com/Rrens/insights-gateway/internal/domain"
)

// ToolParameter is one argument of a tool the model may call
type ToolParameter struct {
	Name        string
	Type        string // string, integer, number, boolean, array
	Description string
	Required    bool
	ItemType    string // element type when Type is array
}

// ToolDefinition describes a function offered to the model
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// JSONSchema renders the parameters as a JSON schema object
func (d ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			item := p.ItemType
			if item == "" {
				item = "string"
			}
			prop["items"] = map[string]any{"type": item}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Usage is the token accounting of one completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion contains one model turn
type Completion struct {
	Content      string
	ToolCalls    []domain.ToolCall
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// ModelInfo describes the model behind a provider
type ModelInfo struct {
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Models            []string `json:"models"`
	SupportsFunctions bool     `json:"supports_functions"`
	SupportsVision    bool     `json:"supports_vision"`
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// Generate runs one chat completion. tools may be nil; providers that
	// do not support functions ignore them.
	Generate(ctx context.Context, messages []domain.Message, tools []ToolDefinition) (*Completion, error)

	// CountTokens returns the number of tokens text occupies for this model
	CountTokens(ctx context.Context, text string) (int, error)

	SupportsFunctions() bool
	SupportsVision() bool
	ModelInfo() ModelInfo

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool
}

// ProviderFactory creates a provider instance from per-request overrides
// such as api_key, model or host.
type ProviderFactory func(overrides map[string]any) (Provider, error)
