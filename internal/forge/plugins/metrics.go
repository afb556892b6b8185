package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

// MetricsCollector tallies per-type event counts, per-tool call counts,
// and error counts over a run, writing a summary file on run_end.
// Grounded on the Python original's xaiforge/plugins/metrics_collector.py.
type MetricsCollector struct {
	Base

	mu          sync.Mutex
	eventCounts map[events.Type]int
	toolCalls   map[string]int
	errors      int
}

// NewMetricsCollector returns a ready-to-use collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		eventCounts: make(map[events.Type]int),
		toolCalls:   make(map[string]int),
	}
}

func (m *MetricsCollector) Name() string { return "metrics_collector" }

func (m *MetricsCollector) OnEvent(_ context.Context, _ Context, e events.Event) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCounts[e.Type]++
	if e.Type == events.TypeToolCall {
		m.toolCalls[e.ToolName]++
	}
	if e.Type == events.TypeToolError {
		m.errors++
	}
	return e, nil
}

func (m *MetricsCollector) OnRunEnd(_ context.Context, pctx Context, e events.Event) (events.Event, error) {
	m.mu.Lock()
	m.eventCounts[e.Type]++
	snapshot := struct {
		TraceID     string           `json:"trace_id"`
		Task        string           `json:"task"`
		Provider    string           `json:"provider"`
		EventCounts map[string]int   `json:"event_counts"`
		ToolCalls   map[string]int   `json:"tool_calls"`
		Errors      int              `json:"errors"`
		Status      string           `json:"status"`
		FinalHash   string           `json:"final_hash"`
	}{
		TraceID:  pctx.TraceID,
		Task:     pctx.Task,
		Provider: pctx.Provider,
		Status:   e.Status,
		FinalHash: e.FinalHash,
	}
	snapshot.EventCounts = make(map[string]int, len(m.eventCounts))
	for t, c := range m.eventCounts {
		snapshot.EventCounts[string(t)] = c
	}
	snapshot.ToolCalls = make(map[string]int, len(m.toolCalls))
	for name, c := range m.toolCalls {
		snapshot.ToolCalls[name] = c
	}
	snapshot.Errors = m.errors
	m.mu.Unlock()

	if pctx.BaseDir != "" && pctx.TraceID != "" {
		dir := filepath.Join(pctx.BaseDir, "traces")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return e, fmt.Errorf("create trace dir for metrics: %w", err)
		}
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return e, fmt.Errorf("encode metrics: %w", err)
		}
		path := filepath.Join(dir, pctx.TraceID+".metrics.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return e, fmt.Errorf("write metrics: %w", err)
		}
	}
	return e, nil
}
