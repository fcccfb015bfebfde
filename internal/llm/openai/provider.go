package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxRetries     = 2
)

// Provider implements llm.Provider for OpenAI and any service exposing the
// OpenAI chat completions API.
type Provider struct {
	name         string
	apiKey       string
	defaultModel string
	models       []string
	baseURL      string
	vision       bool
	client       *http.Client
}

// NewProvider creates a new OpenAI provider
func NewProvider(apiKey, defaultModel, baseURL string) *Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		name:         "openai",
		apiKey:       apiKey,
		defaultModel: defaultModel,
		models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4.1", "gpt-4.1-mini"},
		baseURL:      strings.TrimRight(baseURL, "/"),
		vision:       strings.HasPrefix(defaultModel, "gpt-4o") || strings.HasPrefix(defaultModel, "gpt-4.1") || defaultModel == "gpt-4-turbo",
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

// NewCompatible creates a provider for an OpenAI-compatible endpoint
func NewCompatible(name, baseURL, apiKey, defaultModel string, models []string) *Provider {
	return &Provider{
		name:         name,
		apiKey:       apiKey,
		defaultModel: defaultModel,
		models:       models,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) SupportsFunctions() bool { return true }
func (p *Provider) SupportsVision() bool    { return p.vision }

func (p *Provider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Provider:          p.name,
		Model:             p.defaultModel,
		Models:            p.models,
		SupportsFunctions: true,
		SupportsVision:    p.vision,
	}
}

// CountTokens estimates tokens; the chat completions API has no tokenizer endpoint
func (p *Provider) CountTokens(_ context.Context, text string) (int, error) {
	return llm.EstimateTokens(text), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate runs a chat completion, offering tools when given
func (p *Provider) Generate(ctx context.Context, messages []domain.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	chatReq := chatRequest{
		Model:       p.defaultModel,
		Messages:    toChatMessages(messages),
		Tools:       toChatTools(tools),
		Temperature: 0,
		MaxTokens:   2048,
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	chatResp, err := p.do(ctx, body)
	if err != nil {
		return nil, err
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.name)
	}

	choice := chatResp.Choices[0]
	calls, err := fromChatToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	model := chatResp.Model
	if model == "" {
		model = p.defaultModel
	}

	return &llm.Completion{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// do posts the request, retrying rate-limited and server-side failures
func (p *Provider) do(ctx context.Context, body []byte) (*chatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(raw)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(raw, &chatResp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if chatResp.Error != nil {
			return nil, fmt.Errorf("%s error: %s", p.name, chatResp.Error.Message)
		}
		return &chatResp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func toChatMessages(messages []domain.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == domain.RoleTool {
			cm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			call := chatToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out = append(out, cm)
	}
	return out
}

func toChatTools(tools []llm.ToolDefinition) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, len(tools))
	for i, t := range tools {
		out[i] = chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		}
	}
	return out
}

func fromChatToolCalls(calls []chatToolCall) ([]domain.ToolCall, error) {
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Type != "" && c.Type != "function" {
			continue
		}
		args := map[string]any{}
		if strings.TrimSpace(c.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to unmarshal arguments for tool %s: %w", c.Function.Name, err)
			}
		}
		out = append(out, domain.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: args})
	}
	return out, nil
}
