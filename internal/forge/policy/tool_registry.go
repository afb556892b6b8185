package policy

import (
	"context"
	"fmt"

	"github.com/haasonsaas/xaiforge/internal/forge/tools"
)

// DeniedError is returned by ToolRegistry.Execute when policy blocks a
// tool call. Callers that need to tell a policy denial apart from a
// genuine tool failure (the Agent Runner's drive loop, per S2 in the
// spec's end-to-end scenarios) can match it with errors.As.
type DeniedError struct {
	ToolName string
	Reason   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("Policy denied tool '%s': %s", e.ToolName, e.Reason)
}

// ToolRegistry wraps a tools.Registry so that every tool invocation is
// checked against a policy Engine before its handler runs. Grounded on
// the Python original's xaiforge/tools/policy_registry.py.
type ToolRegistry struct {
	inner  *tools.Registry
	engine *Engine
	report *Report
}

// NewToolRegistry wraps inner with policy enforcement via engine,
// recording every decision (including monitor-only ones) into report.
func NewToolRegistry(inner *tools.Registry, engine *Engine, report *Report) *ToolRegistry {
	return &ToolRegistry{inner: inner, engine: engine, report: report}
}

// Names returns the wrapped registry's tool names in order.
func (p *ToolRegistry) Names() []string {
	return p.inner.Names()
}

// Execute enforces policy, then — if allowed — delegates to the wrapped
// registry. A deny decision surfaces as an error whose message is
// exactly "Policy denied tool '<name>': <reason>", matching the format
// the Python original's PolicyToolRegistry raises so downstream
// consumers (S2 in the spec's end-to-end scenarios) can match on it.
func (p *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any, tc tools.Context) (any, error) {
	decision := p.engine.Evaluate(name, args)
	if p.report != nil {
		p.report.Record(decision)
	}
	if decision.Action == ActionDeny {
		return nil, &DeniedError{ToolName: name, Reason: decision.Reason}
	}
	return p.inner.Execute(ctx, name, args, tc)
}
