package providers

import (
	"context"
	"testing"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

func TestHeuristicRoutesArithmeticToCalcTool(t *testing.T) {
	p := Heuristic{}
	resp, err := p.Generate(context.Background(), gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: "Compute 2+3*4"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "calc" {
		t.Fatalf("expected a single calc tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["expression"] != "2+3*4" {
		t.Fatalf("unexpected expression: %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestHeuristicRoutesSearchToRepoGrep(t *testing.T) {
	p := Heuristic{}
	resp, err := p.Generate(context.Background(), gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: `grep for "TODO"`}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "repo_grep" {
		t.Fatalf("expected a single repo_grep tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["pattern"] != "TODO" {
		t.Fatalf("unexpected pattern: %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestHeuristicFallsBackToAcknowledgement(t *testing.T) {
	p := Heuristic{}
	resp, err := p.Generate(context.Background(), gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: "say hello"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %+v", resp.ToolCalls)
	}
}

func TestMockIsDeterministicForSameRequest(t *testing.T) {
	p := Mock{}
	req := gateway.Request{Messages: []gateway.Message{{Role: "user", Content: "ping"}}}

	r1, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	r2, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r1.Text != r2.Text {
		t.Fatalf("expected stable text across identical requests, got %q vs %q", r1.Text, r2.Text)
	}
}

func TestMockHonorsExpectedTextOverride(t *testing.T) {
	p := Mock{}
	req := gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: "ping"}},
		Metadata: map[string]any{"expected_text": "pong"},
	}
	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "pong" {
		t.Fatalf("expected override text 'pong', got %q", resp.Text)
	}
}

func TestMockHonorsToolCallOverride(t *testing.T) {
	p := Mock{}
	req := gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: "ping"}},
		Metadata: map[string]any{
			"tool_call_override": map[string]any{
				"name":      "calc",
				"arguments": map[string]any{"expression": "1+1"},
			},
		},
	}
	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "calc" {
		t.Fatalf("expected calc tool call override, got %+v", resp.ToolCalls)
	}
}

func TestMockStreamEndsWithSingleFinalChunk(t *testing.T) {
	p := Mock{}
	ch, err := p.Stream(context.Background(), gateway.Request{
		Messages: []gateway.Message{{Role: "user", Content: "one two three"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var chunks []gateway.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 || !chunks[len(chunks)-1].IsFinal {
		t.Fatalf("expected stream to end with a final chunk, got %+v", chunks)
	}
	finals := 0
	for _, c := range chunks {
		if c.IsFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final chunk, got %d", finals)
	}
}

func TestFinalAnswerFormatsCalcResult(t *testing.T) {
	got := FinalAnswer("calc", map[string]any{"result": 14.0})
	if got != "The result is 14" {
		t.Fatalf("unexpected final answer: %q", got)
	}
}

func TestLocalHTTPDefaultsBaseURL(t *testing.T) {
	p := NewLocalHTTP("demo-model", "")
	if p.Name() != "local_http" {
		t.Fatalf("expected name local_http, got %q", p.Name())
	}
}
