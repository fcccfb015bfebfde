package anthropic

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

// Provider implements llm.Provider for Anthropic
type Provider struct {
	apiKey       string
	defaultModel string
	client       *http.Client
	baseURL      string
}

// NewProvider creates a new Anthropic provider
func NewProvider(apiKey, defaultModel, baseURL string) *Provider {
	if defaultModel == "" {
		defaultModel = "claude-3-5-sonnet-20241022"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) SupportsFunctions() bool { return true }
func (p *Provider) SupportsVision() bool    { return true }

func (p *Provider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Provider: "anthropic",
		Model:    p.defaultModel,
		Models: []string{
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
		},
		SupportsFunctions: true,
		SupportsVision:    true,
	}
}

// CountTokens estimates tokens from text length
func (p *Provider) CountTokens(_ context.Context, text string) (int, error) {
	return llm.EstimateTokens(text), nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate runs one messages API call
func (p *Provider) Generate(ctx context.Context, messages []domain.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	system, converted := toMessages(messages)
	req := messagesRequest{
		Model:     p.defaultModel,
		MaxTokens: 2048,
		System:    system,
		Messages:  converted,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, tool{Name: t.Name, Description: t.Description, InputSchema: t.JSONSchema()})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(out.Content) == 0 {
		return nil, fmt.Errorf("no response from Anthropic")
	}

	completion := &llm.Completion{
		FinishReason: out.StopReason,
		Model:        out.Model,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: llm.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}
	if completion.Model == "" {
		completion.Model = p.defaultModel
	}

	var text strings.Builder
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, _ := block.Input.(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			completion.ToolCalls = append(completion.ToolCalls, domain.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	completion.Content = text.String()

	return completion, nil
}

// toMessages splits out the system prompt and folds tool results into user
// turns, which is how the messages API represents them.
func toMessages(messages []domain.Message) (string, []message) {
	var system []string
	var out []message

	appendBlock := func(role string, block contentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			return
		}
		out = append(out, message{Role: role, Content: []contentBlock{block}})
	}

	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleTool:
			appendBlock("user", contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
		case domain.RoleAssistant:
			if m.Content != "" {
				appendBlock("assistant", contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				appendBlock("assistant", contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
		default:
			appendBlock("user", contentBlock{Type: "text", Text: m.Content})
		}
	}
	return strings.Join(system, "\n\n"), out
}
