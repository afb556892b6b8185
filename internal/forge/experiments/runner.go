package experiments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// stableSeed derives a deterministic pseudo-seed from an experiment ID,
// matching the Python original's `sum(ord(ch) for ch in value) % 10000`
// rather than a general-purpose hash, so the same experiment ID always
// routes canary traffic the same way across runs.
func stableSeed(value string) int {
	sum := 0
	for _, r := range value {
		sum += int(r)
	}
	return sum % 10000
}

// Runner dispatches experiment requests across a fixed set of named
// providers. Providers are supplied by the caller rather than resolved
// from a global registry, keeping provider construction (API keys,
// base URLs) outside this package's concern.
type Runner struct {
	Providers      map[string]*gateway.Gateway
	MaxConcurrency int
}

// NewRunner builds a Runner over the given provider gateways, keyed by
// the name used in Config.Providers.
func NewRunner(providers map[string]*gateway.Gateway) *Runner {
	return &Runner{Providers: providers, MaxConcurrency: 4}
}

// ErrNoProviders is returned when a config names fewer providers than
// its mode needs: two for ab and shadow, one for canary and fallback.
type ErrNoProviders struct{ Mode Mode }

func (e ErrNoProviders) Error() string {
	return fmt.Sprintf("experiment mode %q has too few configured providers", e.Mode)
}

// Run dispatches one experiment request according to cfg.Mode and
// returns the aggregated Result.
func (r *Runner) Run(ctx context.Context, cfg Config, requestID string) (Result, error) {
	if len(cfg.Providers) == 0 {
		return Result{}, ErrNoProviders{Mode: cfg.Mode}
	}

	started := time.Now().UTC().Format(time.RFC3339Nano)
	var result Result
	var err error

	switch cfg.Mode {
	case ModeAB:
		result, err = r.runAB(ctx, cfg, requestID)
	case ModeShadow:
		result, err = r.runShadow(ctx, cfg, requestID)
	case ModeCanary:
		result, err = r.runCanary(ctx, cfg, requestID)
	case ModeFallback:
		result, err = r.runFallback(ctx, cfg, requestID)
	default:
		return Result{}, fmt.Errorf("unknown experiment mode %q", cfg.Mode)
	}
	if err != nil {
		return Result{}, err
	}

	result.ExperimentID = cfg.ExperimentID
	result.Mode = cfg.Mode
	result.RequestID = requestID
	result.StartedAt = started
	result.EndedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return result, nil
}

// runProvider invokes one named provider and always returns a
// ProviderResult, even on failure, capturing the error in its Error
// field rather than propagating it — an experiment run's job is to
// observe failures, not abort on them. Provider names prefixed with
// "fail" are treated as an injected-failure test hook rather than
// dispatched, matching the Python original's fault-injection
// convention for exercising gating and fallback without a real broken
// provider.
func (r *Runner) runProvider(ctx context.Context, name string, req gateway.Request) ProviderResult {
	if len(name) >= 4 && name[:4] == "fail" {
		return ProviderResult{Provider: name, Error: fmt.Sprintf("injected failure for provider %q", name)}
	}

	gw, ok := r.Providers[name]
	if !ok {
		return ProviderResult{Provider: name, Error: fmt.Sprintf("provider %q is not configured", name)}
	}

	start := time.Now()
	resp, err := gw.Generate(ctx, req)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		return ProviderResult{Provider: name, LatencyMS: latency, Error: err.Error()}
	}
	return ProviderResult{
		Provider:  name,
		Model:     gw.Name(),
		Text:      resp.Text,
		ToolCalls: resp.ToolCalls,
		LatencyMS: latency,
		Usage:     resp.Usage,
	}
}

// runProviders invokes each named provider concurrently, bounded by
// MaxConcurrency, and returns results in the same order as names.
func (r *Runner) runProviders(ctx context.Context, names []string, req gateway.Request) []ProviderResult {
	limit := r.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	results := make([]ProviderResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.runProvider(ctx, name, req)
		}(i, name)
	}
	wg.Wait()
	return results
}

func errorsFrom(results []ProviderResult) []string {
	var errs []string
	for _, res := range results {
		if res.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", res.Provider, res.Error))
		}
	}
	return errs
}

// runAB runs every configured provider concurrently and compares the
// first two. Requires at least two providers.
func (r *Runner) runAB(ctx context.Context, cfg Config, requestID string) (Result, error) {
	if len(cfg.Providers) < 2 {
		return Result{}, ErrNoProviders{Mode: ModeAB}
	}
	req := cfg.Template.ToRequest(requestID)
	results := r.runProviders(ctx, cfg.Providers, req)

	comparison := buildComparison(results[0], results[1])
	return Result{
		Primary:    results[0],
		Secondary:  &results[1],
		AllResults: results,
		Comparison: &comparison,
		Errors:     errorsFrom(results),
	}, nil
}

// runShadow runs the primary and a designated shadow provider
// concurrently and always compares them. cfg.Providers[0] is primary,
// cfg.Providers[1] is the shadow.
func (r *Runner) runShadow(ctx context.Context, cfg Config, requestID string) (Result, error) {
	if len(cfg.Providers) < 2 {
		return Result{}, ErrNoProviders{Mode: ModeShadow}
	}
	req := cfg.Template.ToRequest(requestID)
	results := r.runProviders(ctx, cfg.Providers[:2], req)

	comparison := buildComparison(results[0], results[1])
	return Result{
		Primary:    results[0],
		Secondary:  &results[1],
		AllResults: results,
		Comparison: &comparison,
		Errors:     errorsFrom(results),
	}, nil
}

// runCanary deterministically decides, from a seed derived from the
// experiment ID, whether to also dispatch to the canary provider
// (cfg.Providers[1]) alongside the primary (cfg.Providers[0]). The
// decision is stable across runs of the same experiment ID at the same
// traffic split, but not seeded from the request itself, matching the
// Python original's per-experiment (not per-request) canary gate.
func (r *Runner) runCanary(ctx context.Context, cfg Config, requestID string) (Result, error) {
	if len(cfg.Providers) == 0 {
		return Result{}, ErrNoProviders{Mode: ModeCanary}
	}
	req := cfg.Template.ToRequest(requestID)
	primary := r.runProvider(ctx, cfg.Providers[0], req)

	split := cfg.TrafficSplit
	if split <= 0 {
		split = 0.1
	}
	seed := stableSeed(cfg.ExperimentID)
	shouldCanary := len(cfg.Providers) > 1 && float64(seed)/10000.0 < split

	result := Result{Primary: primary, AllResults: []ProviderResult{primary}}
	if !shouldCanary {
		result.Errors = errorsFrom(result.AllResults)
		return result, nil
	}

	canary := r.runProvider(ctx, cfg.Providers[1], req)
	comparison := buildComparison(primary, canary)
	result.Secondary = &canary
	result.AllResults = append(result.AllResults, canary)
	result.Comparison = &comparison
	result.Errors = errorsFrom(result.AllResults)
	return result, nil
}

// runFallback tries providers in order until one succeeds, returning
// an error only if every provider in the chain failed.
func (r *Runner) runFallback(ctx context.Context, cfg Config, requestID string) (Result, error) {
	req := cfg.Template.ToRequest(requestID)

	var all []ProviderResult
	for _, name := range cfg.Providers {
		res := r.runProvider(ctx, name, req)
		all = append(all, res)
		if res.Error == "" {
			return Result{Primary: res, AllResults: all, Errors: errorsFrom(all)}, nil
		}
	}
	return Result{}, fmt.Errorf("all %d fallback providers failed: %v", len(cfg.Providers), errorsFrom(all))
}

// Summarize condenses a Result into the lean record used for listing
// and gating, without the full response bodies.
func Summarize(cfg Config, res Result) RunSummary {
	status := "ok"
	if len(res.Errors) > 0 {
		status = "partial_error"
	}
	if res.Primary.Error != "" {
		status = "error"
	}

	errorRate := 0.0
	if len(res.AllResults) > 0 {
		failed := 0
		for _, pr := range res.AllResults {
			if pr.Error != "" {
				failed++
			}
		}
		errorRate = float64(failed) / float64(len(res.AllResults))
	}

	summary := RunSummary{
		ExperimentID: cfg.ExperimentID,
		CreatedAt:    cfg.CreatedAt,
		Mode:         cfg.Mode,
		Providers:    cfg.Providers,
		RequestID:    res.RequestID,
		Status:       status,
		ErrorRate:    errorRate,
	}
	if res.Comparison != nil {
		score := res.Comparison.StabilityScore
		delta := res.Comparison.LatencyDeltaMS
		summary.StabilityScore = &score
		summary.LatencyDeltaMS = &delta
	}
	return summary
}

// GateError reports which thresholds a RunSummary failed to clear.
type GateError struct {
	Violations []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("experiment gate failed: %v", e.Violations)
}

// defaultThresholds mirrors the Python original's gate defaults.
func defaultThresholds() map[string]float64 {
	return map[string]float64{
		"stability_min":        0.7,
		"max_latency_delta_ms": 500,
		"max_error_rate":       0.1,
	}
}

// GateExperiment checks a RunSummary against cfg's thresholds (falling
// back to the defaults for any threshold cfg doesn't override) and
// returns a *GateError naming every violated threshold, or nil if the
// run passes.
func GateExperiment(cfg Config, summary RunSummary) error {
	thresholds := defaultThresholds()
	for k, v := range cfg.Thresholds {
		thresholds[k] = v
	}

	var violations []string
	if summary.StabilityScore != nil && *summary.StabilityScore < thresholds["stability_min"] {
		violations = append(violations, fmt.Sprintf("stability_score %.3f below minimum %.3f", *summary.StabilityScore, thresholds["stability_min"]))
	}
	if summary.LatencyDeltaMS != nil && float64(*summary.LatencyDeltaMS) > thresholds["max_latency_delta_ms"] {
		violations = append(violations, fmt.Sprintf("latency_delta_ms %d exceeds maximum %.0f", *summary.LatencyDeltaMS, thresholds["max_latency_delta_ms"]))
	}
	if summary.ErrorRate > thresholds["max_error_rate"] {
		violations = append(violations, fmt.Sprintf("error_rate %.3f exceeds maximum %.3f", summary.ErrorRate, thresholds["max_error_rate"]))
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return &GateError{Violations: violations}
	}
	return nil
}
