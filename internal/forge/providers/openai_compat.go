package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// OpenAICompat adapts any OpenAI-chat-completions-compatible HTTP
// endpoint (OpenAI itself, or a local server speaking the same wire
// format) into a gateway.Provider. Grounded in idiom on the teacher's
// internal/agent/providers/openai.go OpenAIProvider, adapted to the
// simpler request/response/stream/batch contract and a configurable
// BaseURL per xaiforge/forge_gateway/providers/openai_compat.py.
type OpenAICompat struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAICompat builds an adapter pointed at baseURL (empty string
// means the default OpenAI API endpoint). name is the provider's
// reported identity, allowing the same implementation to back both
// "openai_compat" and "local_http".
func NewOpenAICompat(name, model, baseURL, apiKey string) *OpenAICompat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompat{name: name, model: model, client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAICompat) Name() string { return p.name }

func toOpenAIMessages(msgs []gateway.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func toOpenAITools(defs []gateway.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(defs))
	for i, d := range defs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		}
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []gateway.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]gateway.ToolCall, 0, len(calls))
	for _, c := range calls {
		var args map[string]any
		_ = json.Unmarshal([]byte(c.Function.Arguments), &args)
		out = append(out, gateway.ToolCall{Name: c.Function.Name, Arguments: args})
	}
	return out
}

func (p *OpenAICompat) Generate(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return gateway.Response{}, fmt.Errorf("%s: empty choices in response", p.name)
	}
	choice := resp.Choices[0]
	return gateway.Response{
		Text:      choice.Message.Content,
		ToolCalls: fromOpenAIToolCalls(choice.Message.ToolCalls),
		Usage: gateway.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream streams chat completion deltas, and — because the OpenAI wire
// protocol signals completion only via a final io.EOF rather than an
// explicit terminal event — synthesizes an explicit Chunk{IsFinal:
// true} when the stream reaches io.EOF, so downstream consumers never
// have to special-case io.EOF themselves. Any other receive error
// closes the channel without a final chunk.
func (p *OpenAICompat) Stream(ctx context.Context, req gateway.Request) (<-chan gateway.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
		Stream:   true,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: stream: %w", p.name, err)
	}

	out := make(chan gateway.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		index := 0
		var pendingToolCalls []gateway.ToolCall
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- gateway.Chunk{Index: index, IsFinal: true, ToolCalls: pendingToolCalls}
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if len(delta.ToolCalls) > 0 {
				pendingToolCalls = append(pendingToolCalls, fromOpenAIToolCalls(delta.ToolCalls)...)
			}
			if delta.Content != "" {
				out <- gateway.Chunk{Index: index, Text: delta.Content}
				index++
			}
		}
	}()
	return out, nil
}

func (p *OpenAICompat) GenerateBatch(ctx context.Context, reqs []gateway.Request) ([]gateway.Response, error) {
	return gateway.DefaultGenerateBatch(ctx, p, reqs)
}
