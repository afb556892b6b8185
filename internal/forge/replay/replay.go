// Package replay implements trace integrity verification and
// pairwise trace comparison. Grounded on the Python original's
// xaiforge/forge_trace/{replay,diff}.py, built on top of the Trace
// Store's Reader and the Event Model's RollingHasher.
package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
	"github.com/haasonsaas/xaiforge/internal/forge/trace"
)

// Result is the outcome of verifying one trace's recorded final hash
// against an independently recomputed rolling hash over its body.
type Result struct {
	TraceID      string `json:"trace_id"`
	IntegrityOK  bool   `json:"integrity_ok"`
	ExpectedHash string `json:"expected_hash"`
	ComputedHash string `json:"computed_hash"`
	EventCount   int    `json:"event_count"`
}

// resolveLatest returns the trace ID of the most recently modified
// manifest under baseDir/traces, matching the Python original's
// mtime-sorted resolution of the "latest" sentinel.
func resolveLatest(baseDir string) (string, error) {
	dir := filepath.Join(baseDir, "traces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no traces found for replay verification: %w", err)
	}
	type candidate struct {
		traceID string
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".manifest.json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			traceID: strings.TrimSuffix(name, ".manifest.json"),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no traces found for replay verification")
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime < candidates[j].modTime })
	return candidates[len(candidates)-1].traceID, nil
}

// VerifyTrace recomputes traceID's rolling hash from its persisted
// JSONL body and compares it against the hash recorded in its
// manifest. Passing "latest" for traceID resolves to the
// most-recently-modified manifest under baseDir/traces.
func VerifyTrace(baseDir, traceID string) (Result, error) {
	if traceID == "latest" {
		resolved, err := resolveLatest(baseDir)
		if err != nil {
			return Result{}, err
		}
		traceID = resolved
	}

	reader := trace.NewReader(baseDir, traceID)
	manifest, _, err := reader.LoadManifest()
	if err != nil {
		return Result{}, fmt.Errorf("load manifest: %w", err)
	}
	lines, err := reader.IterEvents()
	if err != nil {
		return Result{}, fmt.Errorf("iterate trace events: %w", err)
	}

	hasher := events.NewRollingHasher()
	eventCount := 0
	for _, line := range lines {
		e, err := events.Unmarshal(line)
		if err != nil {
			return Result{}, fmt.Errorf("decode event: %w", err)
		}
		if e.Type != events.TypeRunEnd {
			hasher.Update(line)
		}
		eventCount++
	}

	computed := hasher.Hexdigest()
	return Result{
		TraceID:      traceID,
		IntegrityOK:  manifest.FinalHash == computed,
		ExpectedHash: manifest.FinalHash,
		ComputedHash: computed,
		EventCount:   eventCount,
	}, nil
}

// ReplayTrace re-reads a trace's full event sequence in order, giving
// a caller (e.g. a CLI replay command, outside this module's scope) a
// simple way to walk a completed run without re-executing it. The
// rolling hash is recomputed over every line except run_end as it is
// replayed, and the trailing run_end event's IntegrityOK is
// overwritten with the result of comparing it against the trace's
// manifest final_hash, regardless of what (if anything) was recorded
// on that field during the live run.
func ReplayTrace(baseDir, traceID string) ([]events.Event, error) {
	reader := trace.NewReader(baseDir, traceID)
	manifest, _, err := reader.LoadManifest()
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	lines, err := reader.IterEvents()
	if err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}

	hasher := events.NewRollingHasher()
	out := make([]events.Event, 0, len(lines))
	for _, line := range lines {
		e, err := events.Unmarshal(line)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if e.Type != events.TypeRunEnd {
			hasher.Update(line)
		}
		out = append(out, e)
	}

	if len(out) > 0 && out[len(out)-1].Type == events.TypeRunEnd {
		ok := hasher.Hexdigest() == manifest.FinalHash
		out[len(out)-1].IntegrityOK = &ok
	}
	return out, nil
}
