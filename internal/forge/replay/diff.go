package replay

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
	"github.com/haasonsaas/xaiforge/internal/forge/trace"
)

// traceMetrics are the per-trace counters diffed between two runs.
type traceMetrics struct {
	EventCount  int
	ToolCalls   int
	Errors      int
	UsageTokens int
	DurationS   float64
}

func collectMetrics(baseDir, traceID string) (traceMetrics, error) {
	reader := trace.NewReader(baseDir, traceID)
	lines, err := reader.IterEvents()
	if err != nil {
		return traceMetrics{}, fmt.Errorf("iterate trace events for %s: %w", traceID, err)
	}

	var m traceMetrics
	for _, line := range lines {
		e, err := events.Unmarshal(line)
		if err != nil {
			continue
		}
		m.EventCount++
		switch e.Type {
		case events.TypeToolCall:
			m.ToolCalls++
		case events.TypeToolError:
			m.Errors++
		case events.TypeMessage:
			m.UsageTokens += len(e.Content) / 4
		}
	}
	if manifest, ok, err := reader.LoadManifest(); err == nil && ok {
		m.DurationS = manifest.DurationS
	}
	return m, nil
}

// MetricPair holds one metric's value from each of two compared traces.
type MetricPair struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Diff is the result of comparing two traces' aggregate metrics.
type Diff struct {
	TraceA  string                `json:"trace_a"`
	TraceB  string                `json:"trace_b"`
	Metrics map[string]MetricPair `json:"metrics"`
}

// ToMarkdown renders the diff as the same two-column metrics table the
// Python original's TraceDiff.to_markdown() produces.
func (d Diff) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trace Diff: %s vs %s\n\n", d.TraceA, d.TraceB)
	b.WriteString("| Metric | A | B |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, key := range []string{"event_count", "tool_calls", "errors", "usage_tokens", "duration_s"} {
		pair, ok := d.Metrics[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "| %s | %v | %v |\n", key, pair.A, pair.B)
	}
	return b.String()
}

// DiffTraces compares two traces' derived metrics: event count, tool
// call count, error count, an approximate usage-token count (chars/4
// over message content, matching the Python original's crude
// estimate), and wall-clock duration.
func DiffTraces(baseDir, traceA, traceB string) (Diff, error) {
	a, err := collectMetrics(baseDir, traceA)
	if err != nil {
		return Diff{}, err
	}
	b, err := collectMetrics(baseDir, traceB)
	if err != nil {
		return Diff{}, err
	}

	return Diff{
		TraceA: traceA,
		TraceB: traceB,
		Metrics: map[string]MetricPair{
			"event_count":  {A: float64(a.EventCount), B: float64(b.EventCount)},
			"tool_calls":   {A: float64(a.ToolCalls), B: float64(b.ToolCalls)},
			"errors":       {A: float64(a.Errors), B: float64(b.Errors)},
			"usage_tokens": {A: float64(a.UsageTokens), B: float64(b.UsageTokens)},
			"duration_s":   {A: a.DurationS, B: b.DurationS},
		},
	}, nil
}
