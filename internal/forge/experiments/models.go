// Package experiments implements the experiment runner: dispatching a
// single templated request across two or more providers under one of
// four comparison modes (ab, shadow, canary, fallback), diffing their
// responses, and gating a completed run against stability/latency/
// error-rate thresholds. Grounded on the Python original's
// xaiforge/forge_experiments/{models,compare,runner}.py.
package experiments

import (
	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// Mode selects how providers are dispatched and compared.
type Mode string

const (
	ModeAB       Mode = "ab"
	ModeShadow   Mode = "shadow"
	ModeCanary   Mode = "canary"
	ModeFallback Mode = "fallback"
)

// RequestTemplate is the request sent to every provider in an
// experiment, materialized once with the experiment request's ID and
// shared by all providers of that run.
type RequestTemplate struct {
	Messages []gateway.Message
	Tools    []gateway.ToolDefinition
	Tags     []string
	Metadata map[string]any
}

// ToRequest materializes the template into a concrete gateway.Request.
func (t RequestTemplate) ToRequest(requestID string) gateway.Request {
	metadata := make(map[string]any, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		metadata[k] = v
	}
	if len(t.Tags) > 0 {
		if _, exists := metadata["tags"]; !exists {
			metadata["tags"] = append([]string(nil), t.Tags...)
		}
	}
	return gateway.Request{RequestID: requestID, Messages: t.Messages, Tools: t.Tools, Metadata: metadata}
}

// Config describes one experiment run.
type Config struct {
	ExperimentID   string
	CreatedAt      string
	Mode           Mode
	Providers      []string
	TrafficSplit   float64
	MaxConcurrency int
	TimeoutS       float64
	Template       RequestTemplate
	Thresholds     map[string]float64
	Tags           []string
}

// ProviderResult is one provider's outcome within an experiment.
type ProviderResult struct {
	Provider  string
	Model     string
	Text      string
	ToolCalls []gateway.ToolCall
	LatencyMS int
	Usage     gateway.Usage
	Error     string
}

// ToolCallDiff compares the tool calls two providers made for the
// same request. Mismatched entries use PrimaryArgs/SecondaryArgs
// field names rather than the Python original's bare "primary"/
// "secondary" keys, to read unambiguously once serialized alongside
// the rest of an ExperimentComparison.
type ToolCallDiff struct {
	Added      []string            `json:"added"`
	Removed    []string            `json:"removed"`
	Mismatched []ToolCallMismatch  `json:"mismatched"`
}

// ToolCallMismatch records one index at which the primary and
// secondary providers called the same-positioned tool with different
// arguments.
type ToolCallMismatch struct {
	Index        int            `json:"index"`
	PrimaryArgs  map[string]any `json:"primary_args"`
	SecondaryArgs map[string]any `json:"secondary_args"`
}

// Comparison is the result of diffing a primary and secondary
// provider's responses to the same request.
type Comparison struct {
	StabilityScore float64
	LatencyDeltaMS int
	DiffSummary    string
	ToolCallDiff   ToolCallDiff
}

// Result is one completed experiment run.
type Result struct {
	ExperimentID string
	Mode         Mode
	RequestID    string
	Primary      ProviderResult
	Secondary    *ProviderResult
	AllResults   []ProviderResult
	Comparison   *Comparison
	Errors       []string
	StartedAt    string
	EndedAt      string
}

// RunSummary is the condensed record persisted for list/gate
// operations, decoupled from the full Result's response bodies.
type RunSummary struct {
	ExperimentID   string
	CreatedAt      string
	Mode           Mode
	Providers      []string
	RequestID      string
	Status         string
	StabilityScore *float64
	LatencyDeltaMS *int
	ErrorRate      float64
}

// Manifest points at a persisted experiment's config and report
// artifacts alongside its summary.
type Manifest struct {
	ExperimentID string
	CreatedAt    string
	ReportPath   string
	ConfigPath   string
	Summary      RunSummary
}
