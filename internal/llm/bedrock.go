package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// BedrockProvider adapts AWS Bedrock's Converse streaming API to
// llm.Provider. Grounded closely on internal/agent/providers/bedrock.go's
// Complete/processStream pair: ConverseStreamInput construction, the
// content-block-start/delta/stop event switch, and building tool call
// arguments in a strings.Builder across deltas.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider constructs a provider using the default AWS credential
// chain (environment, shared config, or IAM role), per cfg.Region.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: load aws config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "meta.llama3-1-70b-instruct-v1:0", Name: "Llama 3.1 70B (Bedrock)", ContextSize: 128000},
	}
}

func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertMessagesToBedrock(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: convert messages: %w", err)
	}

	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = convertToolsToBedrock(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: converse stream: %w", err)
	}

	out := make(chan CompletionChunk)
	go processBedrockStream(ctx, stream, out)
	return out, nil
}

func processBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- CompletionChunk) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentCall *nostrcore.ToolCall
	var argsBuilder strings.Builder

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- CompletionChunk{Err: ctx.Err(), Done: true}
			return
		case event, ok := <-events:
			if !ok {
				if currentCall != nil && currentCall.ID != "" {
					currentCall.Arguments = json.RawMessage(argsBuilder.String())
					out <- CompletionChunk{ToolCall: currentCall}
				}
				if err := eventStream.Err(); err != nil {
					out <- CompletionChunk{Err: fmt.Errorf("llm: bedrock: stream: %w", err), Done: true}
				} else {
					out <- CompletionChunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentCall = &nostrcore.ToolCall{ID: aws.ToString(toolUse.Value.ToolUseId), Name: aws.ToString(toolUse.Value.Name)}
					argsBuilder.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if d.Value != "" {
						out <- CompletionChunk{Text: d.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if d.Value.Input != nil {
						argsBuilder.WriteString(*d.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentCall != nil && currentCall.ID != "" {
					currentCall.Arguments = json.RawMessage(argsBuilder.String())
					out <- CompletionChunk{ToolCall: currentCall}
					currentCall = nil
					argsBuilder.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- CompletionChunk{Done: true}
				return
			}
		}
	}
}

func convertMessagesToBedrock(in []Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch m.Role {
		case "user":
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
		case "assistant":
			role = types.ConversationRoleAssistant
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var doc map[string]any
				_ = json.Unmarshal(tc.Arguments, &doc)
				content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(doc),
				}})
			}
		case "tool":
			for _, tr := range m.ToolResults {
				content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Result.Content}},
				}})
			}
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}

		if len(content) == 0 {
			continue
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out, nil
}

func convertToolsToBedrock(specs []ToolSpec) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(specs))
	for _, s := range specs {
		var doc map[string]any
		_ = json.Unmarshal(s.Schema, &doc)
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(s.Name),
			Description: aws.String(s.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(doc)},
		}})
	}
	return &types.ToolConfiguration{Tools: tools}
}
