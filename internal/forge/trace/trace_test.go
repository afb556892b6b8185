package trace

import (
	"os"
	"testing"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

func TestStoreWriteEventExcludesRunEndFromHash(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "trace1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.WriteEvent(events.Event{Type: events.TypeRunStart, TraceID: "trace1", SpanID: "s0"}); err != nil {
		t.Fatalf("write run_start: %v", err)
	}
	hashBeforeEnd := store.Hexdigest()

	if err := store.WriteEvent(events.Event{Type: events.TypeRunEnd, TraceID: "trace1", SpanID: "s1"}); err != nil {
		t.Fatalf("write run_end: %v", err)
	}
	if got := store.Hexdigest(); got != hashBeforeEnd {
		t.Fatalf("run_end changed the rolling hash: %s != %s", got, hashBeforeEnd)
	}
	if store.EventCount() != 2 {
		t.Fatalf("event count = %d, want 2 (run_end counted)", store.EventCount())
	}
}

func TestManifestRoundTripAndListManifests(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "trace1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.WriteEvent(events.Event{Type: events.TypeRunStart, TraceID: "trace1", SpanID: "s0"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteEvent(events.Event{Type: events.TypeToolCall, TraceID: "trace1", SpanID: "s1", ToolName: "calc"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteEvent(events.Event{Type: events.TypeRunEnd, TraceID: "trace1", SpanID: "s2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := store.WriteManifest("do a thing", "mock", "/tmp/workspace", "ok", store.Hexdigest())
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.EventCount != 3 {
		t.Fatalf("manifest event count = %d, want 3", m.EventCount)
	}
	if m.RootDir != "/tmp/workspace" {
		t.Fatalf("manifest root_dir = %q, want /tmp/workspace", m.RootDir)
	}

	reader := NewReader(dir, "trace1")
	loaded, ok, err := reader.LoadManifest()
	if err != nil || !ok {
		t.Fatalf("load manifest: ok=%v err=%v", ok, err)
	}
	if loaded.FinalHash != m.FinalHash {
		t.Fatalf("manifest hash mismatch")
	}

	summaries, err := ListManifests(dir)
	if err != nil {
		t.Fatalf("list manifests: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ToolCallCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestReaderToleratesMissingManifest(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "crashed")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.WriteEvent(events.Event{Type: events.TypeRunStart, TraceID: "crashed", SpanID: "s0"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	store.Close()

	reader := NewReader(dir, "crashed")
	_, ok, err := reader.LoadManifest()
	if err != nil {
		t.Fatalf("expected no error for missing manifest, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing manifest")
	}
}

func TestReaderDropsPartialTailLine(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/traces"
	os.MkdirAll(path, 0o755)
	os.WriteFile(path+"/partial.jsonl", []byte(`{"type":"run_start"}`+"\n"+`{"type":"plan","incomp`), 0o644)

	reader := NewReader(dir, "partial")
	lines, err := reader.IterEvents()
	if err != nil {
		t.Fatalf("iter events: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 complete line, got %d: %v", len(lines), lines)
	}
}
