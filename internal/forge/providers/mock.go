// Package providers implements the Model Gateway's provider adapters:
// a deterministic local demo provider, a hash-stable mock for
// evals/perf harnesses, an OpenAI-compatible HTTP provider, a local-HTTP
// variant of the same, and a supplemental Anthropic adapter. Grounded on
// xaiforge/forge_gateway/providers/{mock,openai_compat,base}.py and, for
// the Anthropic adapter, the teacher's own first-party SDK usage.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// Mock is a deterministic provider whose output text is derived from a
// stable hash of the request payload, so evals and experiment harnesses
// get reproducible responses without a live model. Honors two escape
// hatches read from request metadata: expected_text overrides the
// generated text outright, and tool_call_override injects a single
// tool call into the response. Ported from
// xaiforge/forge_gateway/providers/mock.py MockProvider.
type Mock struct{}

func (Mock) Name() string { return "mock" }

func stablePayloadDigest(req gateway.Request) string {
	payload := req.ToPayload()
	data, _ := json.Marshal(payload)
	// Normalize key order for determinism across map iteration.
	var generic map[string]any
	_ = json.Unmarshal(data, &generic)
	normalized, _ := json.Marshal(sortedJSON(generic))
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])[:12]
}

func sortedJSON(v any) any {
	switch m := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(m))
		for _, k := range keys {
			out[k] = sortedJSON(m[k])
		}
		return out
	case []any:
		out := make([]any, len(m))
		for i, item := range m {
			out[i] = sortedJSON(item)
		}
		return out
	default:
		return v
	}
}

func lastUserPrompt(req gateway.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func (Mock) Generate(_ context.Context, req gateway.Request) (gateway.Response, error) {
	text := fmt.Sprintf("MOCK[%s] %s", stablePayloadDigest(req), lastUserPrompt(req))
	if req.Metadata != nil {
		if expected, ok := req.Metadata["expected_text"].(string); ok && expected != "" {
			text = expected
		}
	}

	var toolCalls []gateway.ToolCall
	if req.Metadata != nil {
		if override, ok := req.Metadata["tool_call_override"].(map[string]any); ok {
			name, _ := override["name"].(string)
			args, _ := override["arguments"].(map[string]any)
			toolCalls = append(toolCalls, gateway.ToolCall{Name: name, Arguments: args})
		}
	}
	if toolCalls == nil && strings.Contains(lastUserPrompt(req), "tool:") {
		name := strings.TrimSpace(strings.SplitN(lastUserPrompt(req), "tool:", 2)[1])
		toolCalls = append(toolCalls, gateway.ToolCall{Name: name, Arguments: map[string]any{}})
	}

	words := len(strings.Fields(lastUserPrompt(req)))
	return gateway.Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage:     gateway.Usage{PromptTokens: words / 4, CompletionTokens: len(strings.Fields(text)) / 4},
	}, nil
}

func (m Mock) Stream(ctx context.Context, req gateway.Request) (<-chan gateway.Chunk, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(resp.Text)
	ch := make(chan gateway.Chunk, len(words)+1)
	for i, w := range words {
		ch <- gateway.Chunk{Index: i, Text: w + " "}
	}
	usage := resp.Usage
	ch <- gateway.Chunk{Index: len(words), Text: "", IsFinal: true, ToolCalls: resp.ToolCalls, Usage: &usage}
	close(ch)
	return ch, nil
}

func (m Mock) GenerateBatch(ctx context.Context, reqs []gateway.Request) ([]gateway.Response, error) {
	return gateway.DefaultGenerateBatch(ctx, m, reqs)
}
