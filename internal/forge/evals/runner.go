package evals

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
	"github.com/haasonsaas/xaiforge/internal/forge/providers"
)

// Case is one dataset row: a conversation, an expected value, and the
// rubric used to score the provider's response against it.
type Case struct {
	CaseID     string            `json:"id"`
	Messages   []gateway.Message `json:"messages"`
	Expected   any               `json:"expected"`
	Rubric     string            `json:"rubric"`
	Tags       []string          `json:"tags"`
	Difficulty string            `json:"difficulty"`
}

// Result is one case's scored outcome.
type Result struct {
	Case         Case   `json:"case"`
	ResponseText string `json:"response_text"`
	Score        Score  `json:"score"`
	LatencyMS    int    `json:"latency_ms"`
}

// Report aggregates a dataset's run.
type Report struct {
	Dataset   string    `json:"dataset"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	PassRate  float64   `json:"pass_rate"`
	Results   []Result  `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

type reportJSONResult struct {
	ID        string `json:"id"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason"`
	LatencyMS int    `json:"latency_ms"`
	Response  string `json:"response"`
}

type reportJSON struct {
	Dataset   string              `json:"dataset"`
	Total     int                 `json:"total"`
	Passed    int                 `json:"passed"`
	Failed    int                 `json:"failed"`
	PassRate  float64             `json:"pass_rate"`
	CreatedAt float64             `json:"created_at"`
	Results   []reportJSONResult  `json:"results"`
}

func (r Report) toJSON() reportJSON {
	out := reportJSON{
		Dataset:   r.Dataset,
		Total:     r.Total,
		Passed:    r.Passed,
		Failed:    r.Failed,
		PassRate:  r.PassRate,
		CreatedAt: float64(r.CreatedAt.UnixNano()) / 1e9,
	}
	for _, res := range r.Results {
		out.Results = append(out.Results, reportJSONResult{
			ID:        res.Case.CaseID,
			Passed:    res.Score.Passed,
			Reason:    res.Score.Reason,
			LatencyMS: res.LatencyMS,
			Response:  res.ResponseText,
		})
	}
	return out
}

// ToMarkdown renders the same summary table format as the Python
// original's EvalReport.to_markdown().
func (r Report) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Eval Report: %s\n\n", r.Dataset)
	fmt.Fprintf(&b, "- Total: %d\n", r.Total)
	fmt.Fprintf(&b, "- Passed: %d\n", r.Passed)
	fmt.Fprintf(&b, "- Failed: %d\n", r.Failed)
	fmt.Fprintf(&b, "- Pass rate: %.2f%%\n\n", r.PassRate*100)
	b.WriteString("| Case | Passed | Reason |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, res := range r.Results {
		fmt.Fprintf(&b, "| %s | %v | %s |\n", res.Case.CaseID, res.Score.Passed, res.Score.Reason)
	}
	return b.String()
}

type datasetRow struct {
	ID         string            `json:"id"`
	Messages   []gateway.Message `json:"messages"`
	Expected   any               `json:"expected"`
	Rubric     string            `json:"rubric"`
	Tags       []string          `json:"tags"`
	Difficulty string            `json:"difficulty"`
}

// LoadDataset reads a JSONL eval dataset, one Case per non-blank line.
func LoadDataset(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	var cases []Case
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row datasetRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("decode dataset row: %w", err)
		}
		difficulty := row.Difficulty
		if difficulty == "" {
			difficulty = "medium"
		}
		cases = append(cases, Case{
			CaseID:     row.ID,
			Messages:   row.Messages,
			Expected:   row.Expected,
			Rubric:     row.Rubric,
			Tags:       row.Tags,
			Difficulty: difficulty,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dataset %s: %w", path, err)
	}
	return cases, nil
}

func scoreCase(c Case, responseText string) Score {
	switch c.Rubric {
	case "exact_match":
		return ExactMatch(responseText, fmt.Sprint(c.Expected))
	case "regex_match":
		return RegexMatch(responseText, fmt.Sprint(c.Expected))
	case "json_schema_match":
		expected, _ := c.Expected.(map[string]any)
		return JSONSchemaMatch(responseText, expected)
	case "tool_call_match":
		expected, _ := c.Expected.(map[string]any)
		return ToolCallMatch(responseText, expected)
	default:
		return Score{Passed: false, Reason: fmt.Sprintf("unknown rubric %s", c.Rubric)}
	}
}

// RunEval scores every case in datasetPath's dataset against provider
// (the Mock adapter if nil), writes the JSON and markdown reports
// under reportDir, and returns the aggregated Report.
func RunEval(ctx context.Context, datasetPath, reportDir string, provider gateway.Provider) (Report, error) {
	cases, err := LoadDataset(datasetPath)
	if err != nil {
		return Report{}, err
	}
	if provider == nil {
		provider = providers.Mock{}
	}

	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		metadata := map[string]any{}
		tools := []gateway.ToolDefinition(nil)
		switch c.Rubric {
		case "exact_match", "regex_match":
			metadata["expected_text"] = fmt.Sprint(c.Expected)
		case "json_schema_match":
			encoded, _ := json.Marshal(c.Expected)
			metadata["expected_text"] = string(encoded)
		case "tool_call_match":
			expected, _ := c.Expected.(map[string]any)
			toolName, _ := expected["name"].(string)
			tools = []gateway.ToolDefinition{{Name: toolName, Description: "", Schema: map[string]any{}}}
			metadata["tool_call_override"] = expected
		}

		req := gateway.Request{Messages: c.Messages, Tools: tools, Metadata: metadata}
		start := time.Now()
		resp, err := provider.Generate(ctx, req)
		latencyMS := int(time.Since(start).Milliseconds())
		if err != nil {
			results = append(results, Result{
				Case:         c,
				ResponseText: "",
				Score:        Score{Passed: false, Reason: fmt.Sprintf("provider error: %v", err)},
				LatencyMS:    latencyMS,
			})
			continue
		}

		responseText := resp.Text
		if c.Rubric == "tool_call_match" && len(resp.ToolCalls) > 0 {
			encoded, _ := json.Marshal(map[string]any{
				"name":      resp.ToolCalls[0].Name,
				"arguments": resp.ToolCalls[0].Arguments,
			})
			responseText = string(encoded)
		}

		results = append(results, Result{
			Case:         c,
			ResponseText: responseText,
			Score:        scoreCase(c, responseText),
			LatencyMS:    latencyMS,
		})
	}

	passed := 0
	for _, r := range results {
		if r.Score.Passed {
			passed++
		}
	}
	total := len(results)
	denom := total
	if denom == 0 {
		denom = 1
	}
	report := Report{
		Dataset:   strings.TrimSuffix(filepath.Base(datasetPath), filepath.Ext(datasetPath)),
		Total:     total,
		Passed:    passed,
		Failed:    total - passed,
		PassRate:  float64(passed) / float64(denom),
		Results:   results,
		CreatedAt: time.Now().UTC(),
	}

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create eval report directory: %w", err)
	}
	jsonPath := filepath.Join(reportDir, report.Dataset+".json")
	jsonData, err := json.MarshalIndent(report.toJSON(), "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encode eval report: %w", err)
	}
	if err := os.WriteFile(jsonPath, jsonData, 0o644); err != nil {
		return Report{}, fmt.Errorf("write eval report json: %w", err)
	}
	mdPath := filepath.Join(reportDir, report.Dataset+".md")
	if err := os.WriteFile(mdPath, []byte(report.ToMarkdown()), 0o644); err != nil {
		return Report{}, fmt.Errorf("write eval report markdown: %w", err)
	}

	return report, nil
}

// GateReport fails if report's pass rate falls below both threshold
// and a baseline pass rate loaded from baselinePath. When the baseline
// file doesn't exist yet (or cannot be decoded), threshold alone applies.
func GateReport(report Report, baselinePath string, threshold float64) error {
	baselineRate := threshold
	if data, err := os.ReadFile(baselinePath); err == nil {
		var baseline struct {
			PassRate float64 `json:"pass_rate"`
		}
		if err := json.Unmarshal(data, &baseline); err == nil {
			baselineRate = baseline.PassRate
		}
	}

	floor := threshold
	if baselineRate < floor {
		floor = baselineRate
	}
	if report.PassRate < floor {
		return fmt.Errorf("eval gate failed: %.2f%% < required %.2f%%", report.PassRate*100, floor*100)
	}
	return nil
}
