package evals

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/xaiforge/internal/forge/providers"
)

func TestExactMatchTrimsWhitespace(t *testing.T) {
	if !ExactMatch("  hello  ", "hello").Passed {
		t.Fatalf("expected trimmed exact match to pass")
	}
	if ExactMatch("hello", "world").Passed {
		t.Fatalf("expected mismatched exact match to fail")
	}
}

func TestRegexMatchIsCaseInsensitive(t *testing.T) {
	if !RegexMatch("The Answer Is 42", "answer is \\d+").Passed {
		t.Fatalf("expected case-insensitive regex to match")
	}
}

func TestJSONSchemaMatchChecksShape(t *testing.T) {
	score := JSONSchemaMatch(`{"name": "calc", "args": {"x": 1}}`, map[string]any{
		"name": "",
		"args": map[string]any{"x": 0.0},
	})
	if !score.Passed {
		t.Fatalf("expected shape match to pass, got %+v", score)
	}

	score = JSONSchemaMatch(`{"name": "calc"}`, map[string]any{"name": "", "args": map[string]any{}})
	if score.Passed {
		t.Fatalf("expected missing key to fail shape match")
	}
}

func TestToolCallMatchComparesNameAndArguments(t *testing.T) {
	score := ToolCallMatch(`{"name": "calc", "arguments": {"expression": "2+2"}}`, map[string]any{
		"name":      "calc",
		"arguments": map[string]any{"expression": "2+2"},
	})
	if !score.Passed {
		t.Fatalf("expected tool call match to pass, got %+v", score)
	}

	score = ToolCallMatch(`{"name": "calc", "arguments": {"expression": "9+9"}}`, map[string]any{
		"name":      "calc",
		"arguments": map[string]any{"expression": "2+2"},
	})
	if score.Passed {
		t.Fatalf("expected argument mismatch to fail")
	}
}

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "demo.jsonl")
	content := `{"id": "case-1", "messages": [{"role": "user", "content": "say hi"}], "expected": "hello", "rubric": "exact_match", "tags": [], "difficulty": "easy"}
{"id": "case-2", "messages": [{"role": "user", "content": "say hi"}], "expected": "hello", "rubric": "regex_match", "tags": [], "difficulty": "easy"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestRunEvalScoresAgainstMockWithExpectedTextOverride(t *testing.T) {
	dir := t.TempDir()
	dataset := writeDataset(t, dir)
	reportDir := filepath.Join(dir, "reports")

	report, err := RunEval(context.Background(), dataset, reportDir, providers.Mock{})
	if err != nil {
		t.Fatalf("run eval: %v", err)
	}
	if report.Total != 2 || report.Passed != 2 {
		t.Fatalf("expected both cases to pass via expected_text override, got %+v", report)
	}

	if _, err := os.Stat(filepath.Join(reportDir, "demo.json")); err != nil {
		t.Fatalf("expected json report written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(reportDir, "demo.md")); err != nil {
		t.Fatalf("expected markdown report written: %v", err)
	}
}

func TestGateReportFailsBelowThreshold(t *testing.T) {
	report := Report{PassRate: 0.5}
	if err := GateReport(report, filepath.Join(t.TempDir(), "missing.json"), 0.9); err == nil {
		t.Fatalf("expected gate failure for low pass rate")
	}
}

func TestGateReportPassesAboveThreshold(t *testing.T) {
	report := Report{PassRate: 0.99}
	if err := GateReport(report, filepath.Join(t.TempDir(), "missing.json"), 0.9); err != nil {
		t.Fatalf("expected gate to pass, got %v", err)
	}
}
