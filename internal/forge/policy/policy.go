// Package policy implements the rule-based tool authorization engine:
// substring argument matching, wildcard tool names, and a last-match-wins
// tie-break. Grounded on the Python original's xaiforge/policy/{engine,
// models,loader}.py.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Action is the outcome a matching rule assigns.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionDeny    Action = "deny"
	ActionMonitor Action = "monitor"
)

// Risk is a matching rule's declared severity.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Rule is one policy statement. Tool may be the wildcard "*". ArgPatterns
// maps an argument key to a substring that must appear in the
// stringified value for the rule to match.
type Rule struct {
	Name        string            `json:"name"`
	Action      Action            `json:"action"`
	Tool        string            `json:"tool"`
	ArgPatterns map[string]string `json:"arg_patterns,omitempty"`
	Risk        Risk              `json:"risk"`
	Reason      string            `json:"reason"`
}

// Matches reports whether the rule applies to a tool invocation.
func (r Rule) Matches(tool string, args map[string]any) bool {
	if r.Tool != "*" && r.Tool != tool {
		return false
	}
	for key, pattern := range r.ArgPatterns {
		value, ok := args[key]
		if !ok {
			return false
		}
		if !strings.Contains(fmt.Sprintf("%v", value), pattern) {
			return false
		}
	}
	return true
}

// Config is the full set of rules plus the fallback decision applied
// when no rule matches.
type Config struct {
	Rules         []Rule `json:"rules"`
	DefaultAction Action `json:"default_action"`
	DefaultRisk   Risk   `json:"default_risk"`
}

// DefaultPolicy returns a built-in policy matching the Python original's
// default_policy(): deny http_get by default, since network access is
// the one built-in tool capable of reaching outside the sandbox.
func DefaultPolicy() Config {
	return Config{
		Rules: []Rule{
			{
				Name:   "deny-http-get-by-default",
				Action: ActionDeny,
				Tool:   "http_get",
				Risk:   RiskHigh,
				Reason: "network access is disabled by default policy",
			},
		},
		DefaultAction: ActionAllow,
		DefaultRisk:   RiskLow,
	}
}

// Decision is the outcome of evaluating a tool invocation against a
// Config.
type Decision struct {
	Action  Action
	Risk    Risk
	Reason  string
	Rule    string
	Allowed bool
}

// Engine evaluates tool invocations against a Config.
type Engine struct {
	config Config
}

// NewEngine wraps a Config for evaluation.
func NewEngine(cfg Config) *Engine {
	return &Engine{config: cfg}
}

// Evaluate scans every rule in emission order; if more than one rule
// matches, the last match wins. Falls back to the config's default
// action/risk when nothing matches.
func (e *Engine) Evaluate(tool string, args map[string]any) Decision {
	decision := Decision{
		Action:  e.config.DefaultAction,
		Risk:    e.config.DefaultRisk,
		Reason:  "no matching rule; default action applied",
		Allowed: e.config.DefaultAction != ActionDeny,
	}
	for _, rule := range e.config.Rules {
		if rule.Matches(tool, args) {
			decision = Decision{
				Action:  rule.Action,
				Risk:    rule.Risk,
				Reason:  rule.Reason,
				Rule:    rule.Name,
				Allowed: rule.Action != ActionDeny,
			}
		}
	}
	return decision
}

// Violation is returned by Enforce when the winning decision denies the
// tool invocation.
type Violation struct {
	Tool     string
	Decision Decision
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy denied tool %q: %s", v.Tool, v.Decision.Reason)
}

// Enforce evaluates the invocation and returns a *Violation only when
// the winning decision is deny. Both allow and monitor count as
// permitted; monitor additionally gets recorded by the caller (see
// Report).
func (e *Engine) Enforce(tool string, args map[string]any) (Decision, error) {
	decision := e.Evaluate(tool, args)
	if decision.Action == ActionDeny {
		return decision, &Violation{Tool: tool, Decision: decision}
	}
	return decision, nil
}

// Report accumulates decisions observed during a run for later auditing.
type Report struct {
	TraceID   string     `json:"trace_id,omitempty"`
	Decisions []Decision `json:"-"`
}

// Record appends a decision to the report.
func (r *Report) Record(d Decision) {
	r.Decisions = append(r.Decisions, d)
}

// HighRisk returns every recorded decision with Risk == high.
func (r *Report) HighRisk() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Risk == RiskHigh {
			out = append(out, d)
		}
	}
	return out
}

// Denied returns every recorded decision whose action was deny.
func (r *Report) Denied() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if d.Action == ActionDeny {
			out = append(out, d)
		}
	}
	return out
}

type reportJSON struct {
	TraceID   string     `json:"trace_id,omitempty"`
	Decisions []Decision `json:"decisions"`
	Denied    int        `json:"denied"`
	HighRisk  int        `json:"high_risk"`
}

// WriteJSON persists the report to path.
func (r *Report) WriteJSON(path string) error {
	payload := reportJSON{
		TraceID:   r.TraceID,
		Decisions: r.Decisions,
		Denied:    len(r.Denied()),
		HighRisk:  len(r.HighRisk()),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFromFile parses a policy Config from a JSON file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode policy file: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads the policy named by XAIFORGE_POLICY_FILE, if set.
// It returns ok=false (no error) when the variable is unset, and an
// error if the variable names a file that does not exist.
func LoadFromEnv() (cfg Config, ok bool, err error) {
	path := os.Getenv("XAIFORGE_POLICY_FILE")
	if path == "" {
		return Config{}, false, nil
	}
	cfg, err = LoadFromFile(path)
	if err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
