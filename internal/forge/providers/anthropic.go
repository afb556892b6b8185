package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// Anthropic is a supplemental gateway.Provider adapter for Claude
// models, beyond the four adapters the specification names. Grounded
// on the teacher's internal/agent/providers/anthropic.go
// AnthropicProvider, trimmed to the Gateway's simpler
// Generate/Stream/GenerateBatch contract — no beta computer-use tools,
// no extended thinking, single system prompt only.
type Anthropic struct {
	client       anthropic.Client
	model        string
	defaultMax   int64
}

// NewAnthropic builds an adapter for the given model using apiKey.
func NewAnthropic(model, apiKey string) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{client: client, model: model, defaultMax: 4096}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) buildParams(req gateway.Request) anthropic.MessageNewParams {
	var system string
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  messages,
		MaxTokens: a.defaultMax,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := anthropic.ToolInputSchemaParam{}
			if props, ok := t.Schema["properties"].(map[string]any); ok {
				schema.Properties = props
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: schema,
				},
			})
		}
		params.Tools = tools
	}
	return params
}

func (a *Anthropic) Generate(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	params := a.buildParams(req)
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("anthropic: generate: %w", err)
	}

	var text strings.Builder
	var toolCalls []gateway.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			_ = json.Unmarshal(toolUse.Input, &args)
			toolCalls = append(toolCalls, gateway.ToolCall{Name: toolUse.Name, Arguments: args})
		}
	}

	return gateway.Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage: gateway.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream delegates to the default one-shot-wrapped-as-stream behavior:
// the Anthropic SSE event taxonomy (content_block_delta,
// message_delta, ...) is richer than this gateway's Chunk model needs,
// and nothing in the experiment/eval/perf harnesses that drive this
// adapter requires incremental text.
func (a *Anthropic) Stream(ctx context.Context, req gateway.Request) (<-chan gateway.Chunk, error) {
	return gateway.DefaultStream(ctx, a, req)
}

func (a *Anthropic) GenerateBatch(ctx context.Context, reqs []gateway.Request) ([]gateway.Response, error) {
	return gateway.DefaultGenerateBatch(ctx, a, reqs)
}
