package perf

import (
	"encoding/json"
	"fmt"
	"os"
)

// GateError reports a detected performance regression against a
// baseline, carrying both summaries for the caller to inspect.
type GateError struct {
	Message string
	Summary Summary
	Baseline Summary
}

func (e *GateError) Error() string { return e.Message }

// GatePerformance compares metrics' summary against the summary
// stored at baselinePath and fails if p90 latency regressed by more
// than maxLatencyRegression or throughput regressed (dropped) by more
// than minThroughputRegression, both expressed as fractions (0.2 =
// 20%).
func GatePerformance(metrics Metrics, baselinePath string, maxLatencyRegression, minThroughputRegression float64) (Summary, Summary, error) {
	data, err := os.ReadFile(baselinePath)
	if err != nil {
		return Summary{}, Summary{}, fmt.Errorf("read perf baseline: %w", err)
	}
	var baseline Summary
	if err := json.Unmarshal(data, &baseline); err != nil {
		return Summary{}, Summary{}, fmt.Errorf("decode perf baseline: %w", err)
	}

	summary := Summarize(metrics)
	var regressions []string
	if regressionFraction(float64(summary.P90MS), float64(baseline.P90MS), false) > maxLatencyRegression {
		regressions = append(regressions, "p90 latency regression")
	}
	if regressionFraction(summary.ThroughputRPS, baseline.ThroughputRPS, true) > minThroughputRegression {
		regressions = append(regressions, "throughput regression")
	}

	if len(regressions) > 0 {
		message := "Performance regression detected: "
		for i, r := range regressions {
			if i > 0 {
				message += ", "
			}
			message += r
		}
		return summary, baseline, &GateError{Message: message, Summary: summary, Baseline: baseline}
	}
	return summary, baseline, nil
}

// regressionFraction returns how much current regressed past
// baseline, as a non-negative fraction of baseline. When inverse is
// true (throughput: lower is worse), the direction of regression is
// flipped.
func regressionFraction(current, baseline float64, inverse bool) float64 {
	if baseline == 0 {
		return 0
	}
	if inverse {
		v := (baseline - current) / baseline
		if v < 0 {
			return 0
		}
		return v
	}
	v := (current - baseline) / baseline
	if v < 0 {
		return 0
	}
	return v
}
