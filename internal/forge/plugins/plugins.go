// Package plugins implements the sequential event-transform chain that
// the Agent Runner threads every event through. Each plugin exposes
// three lifecycle hooks, all of which may return a modified event; this
// is deliberately a transform/middleware chain, not an observe-only
// interface. Grounded in shape on the Python original's
// xaiforge/plugins/base.py Protocol, and in idiomatic Go registry style
// on the teacher's internal/agent/plugin.go (Use/Emit pattern) — kept
// HOW, replaced WHAT: the teacher's own Plugin interface is
// observe-only and does not match the spec's transform-chain
// requirement.
package plugins

import (
	"context"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

// Context carries per-run metadata available to every plugin hook.
type Context struct {
	TraceID   string
	BaseDir   string
	Task      string
	Provider  string
	Root      string
	StartedAt time.Time
}

// Plugin is the transform-chain interface: every hook receives an event
// and returns the (possibly modified) event that feeds the next plugin
// in the chain.
type Plugin interface {
	Name() string
	OnRunStart(ctx context.Context, pctx Context, e events.Event) (events.Event, error)
	OnEvent(ctx context.Context, pctx Context, e events.Event) (events.Event, error)
	OnRunEnd(ctx context.Context, pctx Context, e events.Event) (events.Event, error)
}

// Base provides identity-function defaults for all three hooks so
// concrete plugins need only override the ones they care about,
// matching the Python original's BasePlugin convenience class.
type Base struct{}

func (Base) OnRunStart(_ context.Context, _ Context, e events.Event) (events.Event, error) { return e, nil }
func (Base) OnEvent(_ context.Context, _ Context, e events.Event) (events.Event, error)     { return e, nil }
func (Base) OnRunEnd(_ context.Context, _ Context, e events.Event) (events.Event, error)    { return e, nil }

// Chain applies a sequence of plugins in order, each plugin's output
// feeding the next plugin's input.
type Chain struct {
	plugins []Plugin
}

// NewChain builds a Chain from the given plugins, applied in the order
// given.
func NewChain(plugins ...Plugin) *Chain {
	return &Chain{plugins: plugins}
}

// RunStart threads e through every plugin's OnRunStart hook in order.
func (c *Chain) RunStart(ctx context.Context, pctx Context, e events.Event) (events.Event, error) {
	var err error
	for _, p := range c.plugins {
		e, err = p.OnRunStart(ctx, pctx, e)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

// Event threads e through every plugin's OnEvent hook in order.
func (c *Chain) Event(ctx context.Context, pctx Context, e events.Event) (events.Event, error) {
	var err error
	for _, p := range c.plugins {
		e, err = p.OnEvent(ctx, pctx, e)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

// RunEnd threads e through every plugin's OnRunEnd hook in order.
func (c *Chain) RunEnd(ctx context.Context, pctx Context, e events.Event) (events.Event, error) {
	var err error
	for _, p := range c.plugins {
		e, err = p.OnRunEnd(ctx, pctx, e)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}
