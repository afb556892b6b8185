// Package agent implements the Agent Runner: the orchestrator that
// mints a trace ID, opens a Trace Store, wires the tool registry
// (optionally policy-wrapped) and plugin chain, drives a provider
// through a bounded tool-use loop via the Model Gateway, and writes
// the run_start/.../run_end event sequence plus the final manifest and
// report. Grounded on the Python original's xaiforge/agent/runner.py,
// with the goroutine-free synchronous control flow kept close to the
// teacher's internal/agent/runner.go sequencing.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
	"github.com/haasonsaas/xaiforge/internal/forge/plugins"
	"github.com/haasonsaas/xaiforge/internal/forge/policy"
	"github.com/haasonsaas/xaiforge/internal/forge/providers"
	"github.com/haasonsaas/xaiforge/internal/forge/tools"
	"github.com/haasonsaas/xaiforge/internal/forge/trace"
)

// maxToolIterations bounds the ReAct-style tool-use loop so a
// misbehaving provider that keeps emitting tool calls cannot run a
// task forever.
const maxToolIterations = 8

// ToolExecutor is the subset of tools.Registry / policy.ToolRegistry
// the runner depends on, so either can be wired in behind the same
// interface.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any, tc tools.Context) (any, error)
}

// Config configures one Agent Runner instance.
type Config struct {
	BaseDir   string
	Root      string // filesystem root tools.Context.Root resolves paths against
	AllowNet  bool
	Provider  gateway.Provider
	Gateway   gateway.Config
	Tools     ToolExecutor // if nil, built from tools.BuildRegistry()
	Plugins   *plugins.Chain
	Report    *policy.Report // non-nil when Tools is a policy.ToolRegistry sharing this report
}

// Runner drives single tasks through the Event Model / Trace Store /
// Tool Registry / Plugin Chain / Model Gateway stack.
type Runner struct {
	cfg     Config
	gw      *gateway.Gateway
	toolset ToolExecutor
	chain   *plugins.Chain
}

// New builds a Runner from cfg, defaulting an unpolicied tool registry,
// an empty plugin chain, and gateway.DefaultConfig() when none are
// supplied.
func New(cfg Config) *Runner {
	if cfg.Gateway == (gateway.Config{}) {
		cfg.Gateway = gateway.DefaultConfig()
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.BuildRegistry()
	}
	if cfg.Plugins == nil {
		cfg.Plugins = plugins.NewChain()
	}
	provider := cfg.Provider
	if provider == nil {
		provider = providers.Heuristic{}
	}
	return &Runner{
		cfg:     cfg,
		gw:      gateway.New(provider, cfg.Gateway),
		toolset: cfg.Tools,
		chain:   cfg.Plugins,
	}
}

// NewTraceID mints a sortable trace ID: a UTC timestamp to
// microsecond precision (YYYYMMDDHHMMSSffffff) followed by a short
// random hex suffix to break ties between runs started within the
// same microsecond. Ported from xaiforge/agent/runner.py new_trace_id().
func NewTraceID() string {
	ts := time.Now().UTC().Format("20060102150405.000000")
	ts = ts[:14] + ts[15:] // drop the decimal point, keep the 6 fractional digits
	suffix := uuid.New().String()[:8]
	return ts + "-" + suffix
}

// Result is what RunTask returns to its caller once a run has
// finished (or failed) and its manifest has been written.
type Result struct {
	TraceID  string
	Manifest trace.Manifest
}

// RunTask executes task end-to-end: opens a trace, emits run_start,
// drives the provider (optionally looping through tool calls), emits
// the final assistant message and run_end, and writes the manifest and
// report. Errors from the provider are captured as a status=error
// run_end rather than propagated, matching the Python original's
// crash-to-trace behavior — RunTask only returns an error for
// trace-store I/O failures that make the run itself unrecoverable.
func (r *Runner) RunTask(ctx context.Context, task string) (Result, error) {
	return r.runWithSink(ctx, task, nil)
}

// runWithSink is RunTask's implementation, additionally invoking sink
// (if non-nil) with every event immediately after it is durably
// written, so StreamRun can tee events to an interactive caller
// without duplicating the run's control flow.
func (r *Runner) runWithSink(ctx context.Context, task string, sink func(events.Event)) (Result, error) {
	traceID := NewTraceID()
	store, err := trace.Open(r.cfg.BaseDir, traceID)
	if err != nil {
		return Result{}, fmt.Errorf("open trace store: %w", err)
	}
	defer store.Close()

	providerName := r.gw.Name()
	pctx := plugins.Context{
		TraceID:   traceID,
		BaseDir:   r.cfg.BaseDir,
		Task:      task,
		Provider:  providerName,
		Root:      r.cfg.Root,
		StartedAt: time.Now().UTC(),
	}
	tc := tools.Context{Root: r.cfg.Root, AllowNet: r.cfg.AllowNet, TraceID: traceID}

	emit := func(e events.Event, hook func(context.Context, plugins.Context, events.Event) (events.Event, error)) error {
		e, err := hook(ctx, pctx, e)
		if err != nil {
			return err
		}
		if err := store.WriteEvent(e); err != nil {
			return err
		}
		if sink != nil {
			sink(e)
		}
		return nil
	}

	runStart := events.Event{
		TraceID: traceID, TS: nowRFC3339(), Type: events.TypeRunStart,
		SpanID: newSpanID(), Task: task, Provider: providerName, RootDir: r.cfg.Root,
	}
	// run_start passes through every plugin's OnRunStart hook, then
	// through the OnEvent hooks like any other event.
	runStartHooks := func(ctx context.Context, pctx plugins.Context, e events.Event) (events.Event, error) {
		e, err := r.chain.RunStart(ctx, pctx, e)
		if err != nil {
			return e, err
		}
		return r.chain.Event(ctx, pctx, e)
	}
	if err := emit(runStart, runStartHooks); err != nil {
		return Result{}, fmt.Errorf("emit run_start: %w", err)
	}

	status, summary, _ := r.drive(ctx, traceID, task, tc, func(e events.Event) error {
		return emit(e, r.chain.Event)
	})

	finalHash := store.Hexdigest()
	runEnd := events.Event{
		TraceID: traceID, TS: nowRFC3339(), Type: events.TypeRunEnd,
		SpanID: newSpanID(), Status: status, Summary: summary, FinalHash: finalHash,
		EventCount: store.EventCount() + 1,
	}
	if err := emit(runEnd, r.chain.RunEnd); err != nil {
		return Result{}, fmt.Errorf("emit run_end: %w", err)
	}

	manifest, err := store.WriteManifest(task, providerName, r.cfg.Root, status, finalHash)
	if err != nil {
		return Result{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := store.WriteReport(manifest); err != nil {
		return Result{}, fmt.Errorf("write report: %w", err)
	}

	return Result{TraceID: traceID, Manifest: manifest}, nil
}

// drive runs the provider through the bounded tool-use loop, emitting
// plan/tool_call/tool_result/tool_error/message events via emit, and
// returns the run's terminal status ("ok" or "error") plus the final
// assistant-visible text to record as run_end's summary. A tool
// failure that is a policy.DeniedError is reported as a tool_error
// event but does not fail the run — per S2 in the spec's end-to-end
// scenarios, the run still ends "ok". Any other tool or provider
// failure ends the run "error".
func (r *Runner) drive(ctx context.Context, traceID, task string, tc tools.Context, emit func(events.Event) error) (string, string, error) {
	messages := []gateway.Message{{Role: "user", Content: task}}
	toolDefs := r.toolDefinitions()

	if err := emit(events.Event{
		TraceID: traceID, TS: nowRFC3339(), Type: events.TypePlan,
		SpanID: newSpanID(), Steps: []string{"Interpret the task", "Invoke tools as needed", "Report the result"},
	}); err != nil {
		return "error", "", err
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		resp, err := r.gw.Generate(ctx, gateway.Request{RequestID: traceID, Messages: messages, Tools: toolDefs})
		if err != nil {
			summary := fmt.Sprintf("provider error: %v", err)
			_ = emit(events.Event{
				TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
				SpanID: newSpanID(), Role: "assistant", Content: summary,
			})
			return "error", summary, err
		}

		if len(resp.ToolCalls) == 0 {
			return "ok", resp.Text, emit(events.Event{
				TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
				SpanID: newSpanID(), Role: "assistant", Content: resp.Text,
			})
		}

		for _, call := range resp.ToolCalls {
			argsRaw, _ := json.Marshal(call.Arguments)
			if err := emit(events.Event{
				TraceID: traceID, TS: nowRFC3339(), Type: events.TypeToolCall,
				SpanID: newSpanID(), ToolName: call.Name, ToolArgs: argsRaw,
			}); err != nil {
				return "error", "", err
			}

			result, toolErr := r.toolset.Execute(ctx, call.Name, call.Arguments, tc)
			if toolErr != nil {
				if err := emit(events.Event{
					TraceID: traceID, TS: nowRFC3339(), Type: events.TypeToolError,
					SpanID: newSpanID(), ToolErrorMessage: toolErr.Error(),
				}); err != nil {
					return "error", "", err
				}

				var denied *policy.DeniedError
				if errors.As(toolErr, &denied) {
					summary := fmt.Sprintf("I couldn't run %s: %s", call.Name, denied.Reason)
					return "ok", summary, emit(events.Event{
						TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
						SpanID: newSpanID(), Role: "assistant", Content: summary,
					})
				}

				summary := fmt.Sprintf("I couldn't finish: %v", toolErr)
				return "error", summary, emit(events.Event{
					TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
					SpanID: newSpanID(), Role: "assistant", Content: summary,
				})
			}

			resultRaw, _ := json.Marshal(result)
			if err := emit(events.Event{
				TraceID: traceID, TS: nowRFC3339(), Type: events.TypeToolResult,
				SpanID: newSpanID(), ToolResult: resultRaw,
			}); err != nil {
				return "error", "", err
			}

			messages = append(messages,
				gateway.Message{Role: "assistant", Content: resp.Text},
				gateway.Message{Role: "tool", Content: string(resultRaw)},
			)

			if _, isHeuristic := r.gw.Provider().(providers.Heuristic); isHeuristic {
				summary := providers.FinalAnswer(call.Name, result)
				return "ok", summary, emit(events.Event{
					TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
					SpanID: newSpanID(), Role: "assistant", Content: summary,
				})
			}
		}
	}

	summary := "Reached the tool-call limit for this task."
	return "ok", summary, emit(events.Event{
		TraceID: traceID, TS: nowRFC3339(), Type: events.TypeMessage,
		SpanID: newSpanID(), Role: "assistant", Content: summary,
	})
}

func (r *Runner) toolDefinitions() []gateway.ToolDefinition {
	names, ok := r.toolset.(interface{ Names() []string })
	if !ok {
		return nil
	}
	var defs []gateway.ToolDefinition
	for _, name := range names.Names() {
		defs = append(defs, gateway.ToolDefinition{Name: name})
	}
	return defs
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func newSpanID() string {
	return uuid.New().String()[:8]
}
