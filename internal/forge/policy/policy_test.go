package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/xaiforge/internal/forge/tools"
)

func TestLastMatchWins(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "allow-all-calc", Action: ActionAllow, Tool: "calc", Risk: RiskLow, Reason: "fine"},
			{Name: "deny-big-calc", Action: ActionDeny, Tool: "calc", ArgPatterns: map[string]string{"expression": "999"}, Risk: RiskHigh, Reason: "suspicious"},
		},
		DefaultAction: ActionAllow,
	}
	engine := NewEngine(cfg)
	d := engine.Evaluate("calc", map[string]any{"expression": "999*2"})
	if d.Action != ActionDeny || d.Rule != "deny-big-calc" {
		t.Fatalf("expected last matching rule to win, got %+v", d)
	}
	d2 := engine.Evaluate("calc", map[string]any{"expression": "1+1"})
	if d2.Action != ActionAllow {
		t.Fatalf("expected non-matching rule to fall through to earlier allow, got %+v", d2)
	}
}

func TestEnforceOnlyFailsOnDeny(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Name: "monitor-http", Action: ActionMonitor, Tool: "http_get", Risk: RiskMedium, Reason: "watched"},
		},
		DefaultAction: ActionAllow,
	}
	engine := NewEngine(cfg)
	if _, err := engine.Enforce("http_get", nil); err != nil {
		t.Fatalf("monitor should not raise, got %v", err)
	}

	denyCfg := DefaultPolicy()
	denyEngine := NewEngine(denyCfg)
	if _, err := denyEngine.Enforce("http_get", nil); err == nil {
		t.Fatalf("expected deny to raise")
	}
}

func TestPolicyToolRegistryErrorMessageFormat(t *testing.T) {
	inner := tools.BuildRegistry()
	engine := NewEngine(DefaultPolicy())
	report := &Report{}
	wrapped := NewToolRegistry(inner, engine, report)

	_, err := wrapped.Execute(context.Background(), "http_get", map[string]any{"url": "http://x"}, tools.Context{AllowNet: true})
	if err == nil {
		t.Fatalf("expected policy denial")
	}
	if !strings.Contains(err.Error(), "Policy denied tool 'http_get'") {
		t.Fatalf("unexpected error message: %s", err.Error())
	}
}
