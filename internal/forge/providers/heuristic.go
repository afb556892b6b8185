package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// arithmeticPattern matches a task that looks like a bare arithmetic
// expression worth routing to the calc tool, e.g. "Compute 2+3*4" or
// "what is 7 % 2".
var arithmeticPattern = regexp.MustCompile(`[-+]?\d+(\.\d+)?\s*[-+*/%]\s*[-+]?\d+(\.\d+)?(\s*[-+*/%]\s*[-+]?\d+(\.\d+)?)*`)

// Heuristic is a deterministic, offline provider with no external
// dependency: it recognizes a small number of task shapes (arithmetic,
// grep-style search) and routes them to the matching built-in tool via
// a ToolCall on its Response, falling back to a templated
// acknowledgement otherwise. It exists so the Agent Runner has a
// demonstrable, reproducible default provider with no network or API
// key requirement. Ported from xaiforge/providers/heuristic.py.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (Heuristic) Generate(_ context.Context, req gateway.Request) (gateway.Response, error) {
	task := lastUserPrompt(req)

	if expr := arithmeticPattern.FindString(task); expr != "" {
		return gateway.Response{
			Text: "Computing " + strings.TrimSpace(expr) + ".",
			ToolCalls: []gateway.ToolCall{
				{Name: "calc", Arguments: map[string]any{"expression": strings.TrimSpace(expr)}},
			},
		}, nil
	}

	if strings.Contains(strings.ToLower(task), "grep") || strings.Contains(strings.ToLower(task), "search for") {
		pattern := extractQuotedOrLastWord(task)
		return gateway.Response{
			Text: "Searching the repository for " + pattern + ".",
			ToolCalls: []gateway.ToolCall{
				{Name: "repo_grep", Arguments: map[string]any{"pattern": pattern}},
			},
		}, nil
	}

	return gateway.Response{Text: "Acknowledged: " + task}, nil
}

func extractQuotedOrLastWord(task string) string {
	if i := strings.IndexByte(task, '"'); i >= 0 {
		if j := strings.IndexByte(task[i+1:], '"'); j >= 0 {
			return task[i+1 : i+1+j]
		}
	}
	fields := strings.Fields(task)
	if len(fields) == 0 {
		return task
	}
	return fields[len(fields)-1]
}

func (h Heuristic) Stream(ctx context.Context, req gateway.Request) (<-chan gateway.Chunk, error) {
	return gateway.DefaultStream(ctx, h, req)
}

func (h Heuristic) GenerateBatch(ctx context.Context, reqs []gateway.Request) ([]gateway.Response, error) {
	return gateway.DefaultGenerateBatch(ctx, h, reqs)
}

// FinalAnswer renders the Heuristic provider's closing message once a
// tool result is in hand, used by the Agent Runner to synthesize the
// final assistant message of a tool-using turn.
func FinalAnswer(toolName string, result any) string {
	// Normalize typed results (e.g. repo_grep's hit structs) to their
	// generic JSON shape so the assertions below see maps and slices.
	if data, err := json.Marshal(result); err == nil {
		var generic any
		if json.Unmarshal(data, &generic) == nil {
			result = generic
		}
	}
	switch toolName {
	case "calc":
		if m, ok := result.(map[string]any); ok {
			return "The result is " + formatAny(m["result"])
		}
	case "repo_grep":
		if m, ok := result.(map[string]any); ok {
			if hits, ok := m["hits"].([]any); ok {
				return "Found " + formatAny(len(hits)) + " match(es)."
			}
		}
	}
	return "Done."
}

func formatAny(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(data), `"`)
	}
}
