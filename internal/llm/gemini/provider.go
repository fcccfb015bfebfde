package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Provider struct {
	apiKey string
	model  string
}

func NewProvider(apiKey, model string) *Provider {
	return &Provider{
		apiKey: apiKey,
		model:  model,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) defaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) SupportsFunctions() bool { return true }
func (p *Provider) SupportsVision() bool    { return true }

func (p *Provider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Provider: "gemini",
		Model:    p.defaultModel(),
		Models: []string{
			"gemini-2.5-flash",
			"gemini-2.5-pro",
			"gemini-1.5-flash",
			"gemini-1.5-pro",
		},
		SupportsFunctions: true,
		SupportsVision:    true,
	}
}

func (p *Provider) client(ctx context.Context) (*genai.Client, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// CountTokens uses the model's tokenizer
func (p *Provider) CountTokens(ctx context.Context, text string) (int, error) {
	client, err := p.client(ctx)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	resp, err := client.GenerativeModel(p.defaultModel()).CountTokens(ctx, genai.Text(text))
	if err != nil {
		return 0, fmt.Errorf("gemini count tokens error: %w", err)
	}
	return int(resp.TotalTokens), nil
}

// Generate replays the conversation as a chat session and sends its last turn
func (p *Provider) Generate(ctx context.Context, messages []domain.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	system, contents := toContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user content to send")
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	model := client.GenerativeModel(p.defaultModel())
	model.SetTemperature(0)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(tools)}}
	}

	cs := model.StartChat()
	last := contents[len(contents)-1]
	cs.History = contents[:len(contents)-1]

	start := time.Now()
	resp, err := cs.SendMessage(ctx, last.Parts...)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from gemini")
	}

	cand := resp.Candidates[0]
	completion := &llm.Completion{
		FinishReason: cand.FinishReason.String(),
		Model:        p.defaultModel(),
		LatencyMs:    latency,
	}

	var text strings.Builder
	for i, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			completion.ToolCalls = append(completion.ToolCalls, domain.ToolCall{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      v.Name,
				Arguments: args,
			})
		}
	}
	completion.Content = text.String()

	if resp.UsageMetadata != nil {
		completion.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return completion, nil
}

// toContents maps messages onto gemini roles. Consecutive turns of the same
// role are merged, tool results become function responses in a user turn.
func toContents(messages []domain.Message) (string, []*genai.Content) {
	var system []string
	var out []*genai.Content

	add := func(role string, part genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{part}})
	}

	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			if m.Content != "" {
				add("model", genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				add("model", genai.FunctionCall{Name: tc.Name, Args: tc.Arguments})
			}
		case domain.RoleTool:
			add("user", genai.FunctionResponse{
				Name:     m.Name,
				Response: map[string]any{"content": m.Content},
			})
		default:
			add("user", genai.Text(m.Content))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func toDeclarations(tools []llm.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(t.Parameters)),
		}
		for _, param := range t.Parameters {
			prop := &genai.Schema{Type: schemaType(param.Type), Description: param.Description}
			if prop.Type == genai.TypeArray {
				item := param.ItemType
				if item == "" {
					item = "string"
				}
				prop.Items = &genai.Schema{Type: schemaType(item)}
			}
			schema.Properties[param.Name] = prop
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		}
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
