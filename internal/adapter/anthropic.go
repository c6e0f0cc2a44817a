package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the direct-API Adapter backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Falls back to ANTHROPIC_API_KEY when empty.
	APIKey string
	// Model is the Claude model id to use.
	Model string
	// MaxTokens bounds the response length; defaults to 4096 when zero.
	MaxTokens int64
}

// AnthropicAdapter is the default Adapter backend, calling Claude directly
// over the Anthropic API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  anthropic.Model
	maxTok int64
	apiKey string
}

// NewAnthropicAdapter constructs an Adapter backed by the direct Anthropic API.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	maxTok := cfg.MaxTokens
	if maxTok == 0 {
		maxTok = 4096
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
		maxTok: maxTok,
		apiKey: apiKey,
	}, nil
}

// Name identifies this backend.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Available reports whether an API key is configured.
func (a *AnthropicAdapter) Available() bool {
	return a.apiKey != ""
}

// Generate produces a single completion for a prompt.
func (a *AnthropicAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	return a.Chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}

// Chat carries on a multi-turn exchange.
func (a *AnthropicAdapter) Chat(ctx context.Context, messages []ChatMessage) (*Result, error) {
	return a.call(ctx, messages, nil)
}

// ChatWithTools extends Chat with tool-calling support.
func (a *AnthropicAdapter) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error) {
	return a.call(ctx, messages, tools)
}

func (a *AnthropicAdapter) call(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error) {
	if !a.Available() {
		return nil, fmt.Errorf("anthropic adapter: ANTHROPIC_API_KEY is not set")
	}

	var systemBlocks []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTok,
		System:    systemBlocks,
		Messages:  turns,
	}
	if len(tools) > 0 {
		params.Tools = toolParams(tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic adapter: %w", err)
	}

	result := &Result{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += variant.Text
		case anthropic.ToolUseBlock:
			var input map[string]interface{}
			_ = json.Unmarshal(variant.Input, &input)
			result.ToolCalls = append(result.ToolCalls, ToolCall{Name: variant.Name, Input: input})
		}
	}
	return result, nil
}

func toolParams(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema,
				},
			},
		})
	}
	return out
}
