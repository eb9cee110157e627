package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider adapts github.com/anthropics/anthropic-sdk-go to
// llm.Provider. Grounded on internal/agent/providers/anthropic.go's
// AnthropicProvider: same client construction via option.WithAPIKey, same
// streamed-message-to-chunk conversion shape.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs a provider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropic(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan CompletionChunk, 16)
	go func() {
		defer close(out)

		var accMessage anthropic.Message
		var currentToolID, currentToolName string
		var currentToolArgs []byte

		for stream.Next() {
			event := stream.Current()
			if err := accMessage.Accumulate(event); err != nil {
				out <- CompletionChunk{Err: fmt.Errorf("llm: anthropic: accumulate event: %w", err), Done: true}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tb, ok := delta.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					currentToolID = tb.ID
					currentToolName = tb.Name
					currentToolArgs = currentToolArgs[:0]
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- CompletionChunk{Text: d.Text}
				case anthropic.InputJSONDelta:
					currentToolArgs = append(currentToolArgs, []byte(d.PartialJSON)...)
				}
			case anthropic.ContentBlockStopEvent:
				if currentToolName != "" {
					out <- CompletionChunk{ToolCall: &nostrcore.ToolCall{
						ID:        currentToolID,
						Name:      currentToolName,
						Arguments: json.RawMessage(currentToolArgs),
					}}
					currentToolID, currentToolName = "", ""
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- CompletionChunk{Err: fmt.Errorf("llm: anthropic: stream: %w", err), Done: true}
			return
		}

		out <- CompletionChunk{
			Done:         true,
			InputTokens:  int(accMessage.Usage.InputTokens),
			OutputTokens: int(accMessage.Usage.OutputTokens),
		}
	}()

	return out, nil
}

func convertMessagesToAnthropic(in []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.CallID, tr.Result.Content, tr.Result.Status != nostrcore.ToolOK))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return out, nil
}

func convertToolsToAnthropic(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema map[string]any
		_ = json.Unmarshal(s.Schema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			},
		})
	}
	return out
}
