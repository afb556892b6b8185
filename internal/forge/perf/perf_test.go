package perf

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
	"github.com/haasonsaas/xaiforge/internal/forge/providers"
)

func TestSummarizeComputesPercentilesAndErrorRate(t *testing.T) {
	m := Metrics{LatenciesMS: []int{10, 20, 30, 40, 50}, Errors: 1, Total: 6}
	summary := Summarize(m)
	if summary.P50MS != 30 {
		t.Fatalf("expected p50 30, got %d", summary.P50MS)
	}
	if summary.AvgMS != 30 {
		t.Fatalf("expected avg 30, got %d", summary.AvgMS)
	}
	if summary.ErrorRate < 0.16 || summary.ErrorRate > 0.17 {
		t.Fatalf("expected error rate ~1/6, got %v", summary.ErrorRate)
	}
}

func TestSummarizeEmptyMetricsReturnsZeros(t *testing.T) {
	summary := Summarize(Metrics{})
	if summary.P50MS != 0 || summary.AvgMS != 0 || summary.ThroughputRPS != 0 {
		t.Fatalf("expected zeroed summary for empty metrics, got %+v", summary)
	}
}

func TestCombineMergesSamples(t *testing.T) {
	a := Metrics{LatenciesMS: []int{10}, Errors: 1, Total: 2}
	b := Metrics{LatenciesMS: []int{20, 30}, Errors: 0, Total: 2}
	combined := Combine([]Metrics{a, b})
	if len(combined.LatenciesMS) != 3 || combined.Errors != 1 || combined.Total != 4 {
		t.Fatalf("unexpected combined metrics: %+v", combined)
	}
}

func TestRunBenchQuickSuiteWritesReports(t *testing.T) {
	dir := t.TempDir()
	gw := gateway.New(providers.Mock{}, gateway.DefaultConfig())

	result, err := RunBench(context.Background(), gw, "quick", 2, dir)
	if err != nil {
		t.Fatalf("run bench: %v", err)
	}
	if result.Metrics.Total != 4 {
		t.Fatalf("expected 4 quick-suite tasks, got %d", result.Metrics.Total)
	}
	if result.Metrics.Errors != 0 {
		t.Fatalf("expected no errors against mock provider, got %d", result.Metrics.Errors)
	}

	if _, err := os.Stat(filepath.Join(dir, result.RunID+".json")); err != nil {
		t.Fatalf("expected json report written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, result.RunID+".md")); err != nil {
		t.Fatalf("expected markdown report written: %v", err)
	}
}

func TestRunLoadRespectsDurationBudget(t *testing.T) {
	dir := t.TempDir()
	gw := gateway.New(providers.Mock{}, gateway.DefaultConfig())

	result, err := RunLoad(context.Background(), gw, 1, 2, 0, 20, dir)
	if err != nil {
		t.Fatalf("run load: %v", err)
	}
	if result.Metrics.Total == 0 {
		t.Fatalf("expected at least one request to have completed")
	}
}

func TestGatePerformanceDetectsLatencyRegression(t *testing.T) {
	dir := t.TempDir()
	baselinePath := filepath.Join(dir, "baseline.json")
	baseline := Summary{P90MS: 100, ThroughputRPS: 10}
	data, _ := json.Marshal(baseline)
	if err := os.WriteFile(baselinePath, data, 0o644); err != nil {
		t.Fatalf("write baseline: %v", err)
	}

	metrics := Metrics{LatenciesMS: []int{400, 400, 400, 400}, Total: 4}
	_, _, err := GatePerformance(metrics, baselinePath, 0.2, 0.2)
	if err == nil {
		t.Fatalf("expected latency regression to trip the gate")
	}
}

func TestGatePerformancePassesWithinBudget(t *testing.T) {
	dir := t.TempDir()
	baselinePath := filepath.Join(dir, "baseline.json")
	baseline := Summary{P90MS: 100, ThroughputRPS: 10}
	data, _ := json.Marshal(baseline)
	if err := os.WriteFile(baselinePath, data, 0o644); err != nil {
		t.Fatalf("write baseline: %v", err)
	}

	metrics := Metrics{LatenciesMS: []int{100, 100, 100, 100}, Total: 4}
	if _, _, err := GatePerformance(metrics, baselinePath, 0.2, 0.2); err != nil {
		t.Fatalf("expected gate to pass, got %v", err)
	}
}
