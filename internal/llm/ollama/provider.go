package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
)

// Provider implements llm.Provider for Ollama
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(host, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "llama3"
	}
	return &Provider{
		host:         strings.TrimRight(host, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// IsConfigured checks if the host is set
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

// SupportsFunctions is false: tool support varies per local model, so the
// agent uses single-shot SQL generation against Ollama.
func (p *Provider) SupportsFunctions() bool { return false }
func (p *Provider) SupportsVision() bool    { return false }

func (p *Provider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Provider: "ollama",
		Model:    p.defaultModel,
		Models: []string{
			"llama3",
			"llama3.1",
			"llama3.2",
			"codellama",
			"sqlcoder",
			"mistral",
			"qwen2",
		},
	}
}

// CountTokens estimates tokens from text length
func (p *Provider) CountTokens(_ context.Context, text string) (int, error) {
	return llm.EstimateTokens(text), nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Generate runs a non-streaming /api/chat call. Tools are ignored.
func (p *Provider) Generate(ctx context.Context, messages []domain.Message, _ []llm.ToolDefinition) (*llm.Completion, error) {
	req := chatRequest{
		Model:  p.defaultModel,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.0,
			"num_predict": 4096,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	model := out.Model
	if model == "" {
		model = p.defaultModel
	}

	return &llm.Completion{
		Content:      out.Message.Content,
		FinishReason: out.DoneReason,
		Model:        model,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}
