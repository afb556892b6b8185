package perf

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

func newRunID(prefix string) string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s%s", prefix, time.Now().UTC().Format("20060102150405"), hex.EncodeToString(buf))
}

func writeReports(dir, runID string, payload any, markdown string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create perf report directory: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode perf report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, runID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write perf report json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, runID+".md"), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write perf report markdown: %w", err)
	}
	return nil
}

// BenchResult is one completed fixed-task-suite benchmark run.
type BenchResult struct {
	RunID     string  `json:"run_id"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
	Suite     string  `json:"suite"`
	Metrics   Metrics `json:"-"`
	Summary   Summary `json:"summary"`
}

func (r BenchResult) toJSON() map[string]any {
	return map[string]any{
		"run_id":     r.RunID,
		"started_at": r.StartedAt,
		"ended_at":   r.EndedAt,
		"suite":      r.Suite,
		"metrics": map[string]any{
			"latencies_ms": r.Metrics.LatenciesMS,
			"errors":       r.Metrics.Errors,
			"total":        r.Metrics.Total,
			"ttft_ms":      r.Metrics.TTFTMS,
		},
		"summary": r.Summary,
	}
}

func benchTasks(suite string) []string {
	if suite == "quick" {
		return []string{
			"Summarize the release notes",
			"Compute 17*23",
			"List three safety guidelines",
			"Explain fallback routing",
		}
	}
	return []string{
		"Draft a short uptime update",
		"Compute 128/7",
		"Summarize the policy",
		"List two observability signals",
		"Explain canary traffic",
		"Compute 4^6",
	}
}

// RunBench drives gw through a fixed suite of representative tasks
// ("quick" or anything else for the longer suite), bounded by
// maxConcurrency concurrent in-flight requests, and writes its
// aggregate metrics to reportDir.
func RunBench(ctx context.Context, gw *gateway.Gateway, suite string, maxConcurrency int, reportDir string) (BenchResult, error) {
	runID := newRunID("bench")
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)
	tasks := benchTasks(suite)

	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)
	var mu sync.Mutex
	var latencies []int
	errors := 0

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(task string) {
			defer wg.Done()
			defer func() { <-sem }()
			req := gateway.Request{Messages: []gateway.Message{{Role: "user", Content: task}}}
			start := time.Now()
			_, err := gw.Generate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errors++
				return
			}
			latencies = append(latencies, int(time.Since(start).Milliseconds()))
		}(task)
	}
	wg.Wait()

	metrics := Metrics{LatenciesMS: latencies, Errors: errors, Total: len(tasks)}
	summary := Summarize(metrics)
	result := BenchResult{
		RunID:     runID,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Suite:     suite,
		Metrics:   metrics,
		Summary:   summary,
	}

	if reportDir != "" {
		if err := writeReports(reportDir, runID, result.toJSON(), renderBenchMarkdown(result)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func renderBenchMarkdown(r BenchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Perf Bench %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Suite: %s\n", r.Suite)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt)
	fmt.Fprintf(&b, "- Ended: %s\n\n", r.EndedAt)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- p50 latency: %d ms\n", r.Summary.P50MS)
	fmt.Fprintf(&b, "- p90 latency: %d ms\n", r.Summary.P90MS)
	fmt.Fprintf(&b, "- p95 latency: %d ms\n", r.Summary.P95MS)
	fmt.Fprintf(&b, "- Avg latency: %d ms\n", r.Summary.AvgMS)
	fmt.Fprintf(&b, "- Throughput: %v rps\n", r.Summary.ThroughputRPS)
	fmt.Fprintf(&b, "- Error rate: %.2f%%\n", r.Summary.ErrorRate*100)
	return b.String()
}
