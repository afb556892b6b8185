// Package trace implements the append-only trace log: a writer that
// streams one JSON event per line per trace, a manifest and markdown
// report written alongside it, and a reader that tolerates crashed
// (partially written, manifest-less) traces. Grounded on the Python
// original's xaiforge/trace_store.py and structurally on the teacher's
// internal/agent/trace.go (writer+header+fsync, reader+decoder shape).
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

// Manifest summarizes one completed (or crashed) trace.
type Manifest struct {
	TraceID    string  `json:"trace_id"`
	Task       string  `json:"task"`
	Provider   string  `json:"provider"`
	RootDir    string  `json:"root_dir"`
	StartedAt  string  `json:"started_at"`
	EndedAt    string  `json:"ended_at"`
	Status     string  `json:"status"`
	FinalHash  string  `json:"final_hash"`
	EventCount int     `json:"event_count"`
	DurationS  float64 `json:"duration_s,omitempty"`
}

// Store is an append-only writer for a single trace's JSONL event log.
type Store struct {
	baseDir    string
	traceID    string
	file       *os.File
	writer     *bufio.Writer
	hasher     *events.RollingHasher
	eventCount int
	startedAt  time.Time
}

// Open creates (or appends to) the JSONL log for traceID under
// baseDir/traces/.
func Open(baseDir, traceID string) (*Store, error) {
	dir := filepath.Join(baseDir, "traces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	path := filepath.Join(dir, traceID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	return &Store{
		baseDir:   baseDir,
		traceID:   traceID,
		file:      f,
		writer:    bufio.NewWriter(f),
		hasher:    events.NewRollingHasher(),
		startedAt: time.Now().UTC(),
	}, nil
}

// WriteEvent appends one event, flushing immediately, updating the
// rolling hash for every event except run_end, and incrementing the
// event count unconditionally.
func (s *Store) WriteEvent(e events.Event) error {
	line, err := e.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.writer.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	if e.Type != events.TypeRunEnd {
		s.hasher.Update(line)
	}
	s.eventCount++
	return nil
}

// EventCount returns the number of events persisted so far, including
// run_end once it has been written.
func (s *Store) EventCount() int {
	return s.eventCount
}

// Hexdigest returns the current rolling hash, excluding run_end lines.
func (s *Store) Hexdigest() string {
	return s.hasher.Hexdigest()
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// WriteManifest persists the trace manifest atomically (write to a temp
// file, then rename over the final path).
func (s *Store) WriteManifest(task, provider, rootDir, status, finalHash string) (Manifest, error) {
	m := Manifest{
		TraceID:    s.traceID,
		Task:       task,
		Provider:   provider,
		RootDir:    rootDir,
		StartedAt:  s.startedAt.Format(time.RFC3339Nano),
		EndedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Status:     status,
		FinalHash:  finalHash,
		EventCount: s.eventCount,
		DurationS:  time.Since(s.startedAt).Seconds(),
	}
	dir := filepath.Join(s.baseDir, "traces")
	finalPath := filepath.Join(dir, s.traceID+".manifest.json")
	tmpPath := finalPath + ".tmp"
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Manifest{}, fmt.Errorf("rename manifest into place: %w", err)
	}
	return m, nil
}

// WriteReport renders a short markdown summary for the trace.
func (s *Store) WriteReport(m Manifest) error {
	dir := filepath.Join(s.baseDir, "traces")
	path := filepath.Join(dir, s.traceID+".report.md")
	var b strings.Builder
	fmt.Fprintf(&b, "# Trace Report: %s\n\n", m.TraceID)
	fmt.Fprintf(&b, "- Task: %s\n", m.Task)
	fmt.Fprintf(&b, "- Provider: %s\n", m.Provider)
	fmt.Fprintf(&b, "- Status: %s\n", m.Status)
	fmt.Fprintf(&b, "- Events: %d\n", m.EventCount)
	fmt.Fprintf(&b, "- Duration: %.3fs\n", m.DurationS)
	fmt.Fprintf(&b, "- Final hash: %s\n", m.FinalHash)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Reader reads back a persisted trace's events and manifest, tolerating
// a partially-written tail line and an absent manifest (a crashed trace).
type Reader struct {
	baseDir string
	traceID string
}

// NewReader returns a Reader for traceID under baseDir/traces/.
func NewReader(baseDir, traceID string) *Reader {
	return &Reader{baseDir: baseDir, traceID: traceID}
}

// IterEvents returns every complete line of the trace log, in order,
// skipping blank lines. A line that is not valid JSON (a partial tail
// left by a crash mid-write) ends the read: it and anything after it are
// silently dropped rather than surfaced as an error.
func (r *Reader) IterEvents() ([]string, error) {
	path := filepath.Join(r.baseDir, "traces", r.traceID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace log: %w", err)
	}
	var lines []string
	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			// Partial tail line from a crash mid-write; stop here.
			break
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// LoadManifest loads the trace's manifest. If the manifest file is
// absent (the run crashed before it could be written), ok is false and
// err is nil.
func (r *Reader) LoadManifest() (m Manifest, ok bool, err error) {
	path := filepath.Join(r.baseDir, "traces", r.traceID+".manifest.json")
	data, readErr := os.ReadFile(path)
	if os.IsNotExist(readErr) {
		return Manifest{}, false, nil
	}
	if readErr != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", readErr)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest: %w", err)
	}
	return m, true, nil
}

// Summary augments a Manifest with fields derived from scanning the
// trace body, rather than trusting any embedded summary.
type Summary struct {
	Manifest
	ToolCallCount int     `json:"tool_call_count"`
	ErrorCount    int     `json:"error_count"`
	DurationS     float64 `json:"duration_s"`
}

// ListManifests scans baseDir/traces for manifests, derives per-trace
// counters by replaying each trace's event log, and returns them sorted
// by StartedAt descending (most recent first).
func ListManifests(baseDir string) ([]Summary, error) {
	dir := filepath.Join(baseDir, "traces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list trace dir: %w", err)
	}
	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".manifest.json") {
			continue
		}
		traceID := strings.TrimSuffix(name, ".manifest.json")
		reader := NewReader(baseDir, traceID)
		manifest, ok, err := reader.LoadManifest()
		if err != nil || !ok {
			continue
		}
		lines, err := reader.IterEvents()
		if err != nil {
			continue
		}
		summary := Summary{Manifest: manifest, DurationS: manifest.DurationS}
		for _, line := range lines {
			e, err := events.Unmarshal(line)
			if err != nil {
				continue
			}
			switch e.Type {
			case events.TypeToolCall:
				summary.ToolCallCount++
			case events.TypeToolError:
				summary.ErrorCount++
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt > out[j].StartedAt
	})
	return out, nil
}
