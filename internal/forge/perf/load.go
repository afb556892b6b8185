package perf

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// LoadResult is one completed fixed-duration load-test run.
type LoadResult struct {
	RunID        string  `json:"run_id"`
	StartedAt    string  `json:"started_at"`
	EndedAt      string  `json:"ended_at"`
	DurationS    int     `json:"duration_s"`
	Concurrency  int     `json:"concurrency"`
	RequestRate  float64 `json:"request_rate"`
	Metrics      Metrics `json:"-"`
	Summary      Summary `json:"summary"`
}

func (r LoadResult) toJSON() map[string]any {
	return map[string]any{
		"run_id":       r.RunID,
		"started_at":   r.StartedAt,
		"ended_at":     r.EndedAt,
		"duration_s":   r.DurationS,
		"concurrency":  r.Concurrency,
		"request_rate": r.RequestRate,
		"metrics": map[string]any{
			"latencies_ms": r.Metrics.LatenciesMS,
			"errors":       r.Metrics.Errors,
			"total":        r.Metrics.Total,
			"ttft_ms":      r.Metrics.TTFTMS,
		},
		"summary": r.Summary,
	}
}

// RunLoad drives gw with `concurrency` workers for durationS seconds,
// each worker pacing its requests to requestRate requests/second and
// staggering its start across rampUpS seconds, then writes its
// aggregate metrics to reportDir. Workers share a semaphore sized to
// concurrency, matching the Python original's asyncio.Semaphore gate,
// though in this single-process Go port the worker count already
// bounds concurrency on its own — the semaphore is kept for parity
// with a future multi-gateway fan-out.
func RunLoad(ctx context.Context, gw *gateway.Gateway, durationS, concurrency, rampUpS int, requestRate float64, reportDir string) (LoadResult, error) {
	runID := newRunID("load")
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)

	if concurrency <= 0 {
		concurrency = 1
	}
	if requestRate <= 0 {
		requestRate = 0.1
	}
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var latencies []int
	errors := 0

	deadline := time.Now().Add(time.Duration(durationS) * time.Second)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var wg sync.WaitGroup
	for worker := 0; worker < concurrency; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			stagger := time.Duration(float64(rampUpS)/float64(concurrency)*float64(workerID)) * time.Second
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
				return
			}

			for time.Now().Before(deadline) {
				sem <- struct{}{}
				req := gateway.Request{
					Messages: []gateway.Message{{Role: "user", Content: fmt.Sprintf("load ping %d", workerID)}},
				}
				start := time.Now()
				_, err := gw.Generate(ctx, req)
				<-sem

				mu.Lock()
				if err != nil {
					errors++
				} else {
					latencies = append(latencies, int(time.Since(start).Milliseconds()))
				}
				mu.Unlock()

				pace := time.Duration(1.0/requestRate*1000) * time.Millisecond
				select {
				case <-time.After(pace):
				case <-ctx.Done():
					return
				}
			}
		}(worker)
	}
	wg.Wait()

	total := len(latencies) + errors
	metrics := Metrics{LatenciesMS: latencies, Errors: errors, Total: total}
	summary := Summarize(metrics)
	result := LoadResult{
		RunID:       runID,
		StartedAt:   startedAt,
		EndedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		DurationS:   durationS,
		Concurrency: concurrency,
		RequestRate: requestRate,
		Metrics:     metrics,
		Summary:     summary,
	}

	if reportDir != "" {
		if err := writeReports(reportDir, runID, result.toJSON(), renderLoadMarkdown(result)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func renderLoadMarkdown(r LoadResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Perf Load %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Duration: %d s\n", r.DurationS)
	fmt.Fprintf(&b, "- Concurrency: %d\n", r.Concurrency)
	fmt.Fprintf(&b, "- Request rate: %v rps\n\n", r.RequestRate)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- p50 latency: %d ms\n", r.Summary.P50MS)
	fmt.Fprintf(&b, "- p90 latency: %d ms\n", r.Summary.P90MS)
	fmt.Fprintf(&b, "- p95 latency: %d ms\n", r.Summary.P95MS)
	fmt.Fprintf(&b, "- Avg latency: %d ms\n", r.Summary.AvgMS)
	fmt.Fprintf(&b, "- Throughput: %v rps\n", r.Summary.ThroughputRPS)
	fmt.Fprintf(&b, "- Error rate: %.2f%%\n", r.Summary.ErrorRate*100)
	return b.String()
}
