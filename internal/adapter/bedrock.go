package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// bedrockModelProfiles maps standard Anthropic model names to Bedrock
// cross-region inference profile ids.
var bedrockModelProfiles = map[string]string{
	string(anthropic.ModelClaudeSonnet4_20250514):   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	string(anthropic.ModelClaudeSonnet4_5_20250929): "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	string(anthropic.ModelClaude3_7Sonnet20250219):  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	string(anthropic.ModelClaude3_5Haiku20241022):   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// translateModelForBedrock converts a standard Anthropic model name into its
// Bedrock cross-region inference profile form, passing custom/already-translated
// names through unchanged.
func translateModelForBedrock(model string) string {
	if profile, ok := bedrockModelProfiles[model]; ok {
		return profile
	}
	return model
}

// BedrockConfig configures the AWS Bedrock Adapter backend.
type BedrockConfig struct {
	// Model is the Claude model id (translated to Bedrock's inference-profile form).
	Model string
	// Region is the AWS region hosting the Bedrock endpoint.
	Region string
	// Profile is an optional named AWS credentials profile.
	Profile string
	// MaxTokens bounds the response length; defaults to 4096 when zero.
	MaxTokens int64
}

// BedrockAdapter routes Adapter calls through AWS Bedrock instead of the
// direct Anthropic API, reusing the same anthropic-sdk-go client shape via
// the SDK's bedrock transport option.
type BedrockAdapter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTok    int64
	available bool
}

// NewBedrockAdapter constructs an Adapter backed by AWS Bedrock.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	opts := []option.RequestOption{bedrock.WithLoadDefaultConfig(ctx, loadOpts...)}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	model = translateModelForBedrock(model)

	maxTok := cfg.MaxTokens
	if maxTok == 0 {
		maxTok = 4096
	}

	return &BedrockAdapter{
		client:    client,
		model:     anthropic.Model(model),
		maxTok:    maxTok,
		available: true,
	}, nil
}

// Name identifies this backend.
func (a *BedrockAdapter) Name() string { return "bedrock" }

// Available reports whether this backend was constructed successfully.
func (a *BedrockAdapter) Available() bool { return a.available }

// Generate produces a single completion for a prompt.
func (a *BedrockAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	return a.Chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}

// Chat carries on a multi-turn exchange.
func (a *BedrockAdapter) Chat(ctx context.Context, messages []ChatMessage) (*Result, error) {
	return a.call(ctx, messages, nil)
}

// ChatWithTools extends Chat with tool-calling support.
func (a *BedrockAdapter) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error) {
	return a.call(ctx, messages, tools)
}

func (a *BedrockAdapter) call(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error) {
	if !a.available {
		return nil, fmt.Errorf("bedrock adapter: not configured")
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
		return nil, fmt.Errorf("bedrock adapter: %w", err)
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
