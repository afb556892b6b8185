// Package events defines the xaiforge trace event model: a small tagged
// union of run-lifecycle events plus the rolling content hash used for
// tamper-evident (not cryptographically signed) trace verification.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
)

// Type discriminates the seven event variants that can appear in a trace.
type Type string

const (
	TypeRunStart  Type = "run_start"
	TypePlan      Type = "plan"
	TypeMessage   Type = "message"
	TypeToolCall  Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeToolError Type = "tool_error"
	TypeRunEnd    Type = "run_end"
)

// Event is the tagged union of all trace event variants. Common fields are
// always populated; exactly one of the variant-specific payload groups
// below is meaningful for a given Type. This mirrors the Python original's
// pydantic discriminated union more closely than a one-struct-per-concern
// design, since every event line in a trace file is the same JSON shape.
type Event struct {
	TraceID       string `json:"trace_id"`
	TS            string `json:"ts"`
	Type          Type   `json:"type"`
	SpanID        string `json:"span_id"`
	ParentSpanID  string `json:"parent_span_id,omitempty"`

	// run_start
	Task     string `json:"task,omitempty"`
	Provider string `json:"provider,omitempty"`
	RootDir  string `json:"root_dir,omitempty"`

	// plan
	Steps []string `json:"steps,omitempty"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// tool_call
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`

	// tool_result
	ToolResult json.RawMessage `json:"tool_result,omitempty"`

	// tool_error
	ToolErrorMessage string `json:"tool_error_message,omitempty"`

	// run_end
	Status      string `json:"status,omitempty"`
	Summary     string `json:"summary,omitempty"`
	FinalHash   string `json:"final_hash,omitempty"`
	EventCount  int    `json:"event_count,omitempty"`
	IntegrityOK *bool  `json:"integrity_ok,omitempty"`
}

// Marshal renders the event as a single compact JSON line (no trailing
// newline), matching the Trace Store's one-event-per-line convention.
func (e Event) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses a single trace line back into an Event.
func Unmarshal(line string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}

// RollingHasher accumulates a SHA-256 digest over every event line except
// run_end. It is not safe for concurrent use — callers own serialization,
// matching the single-producer emit path in the Agent Runner.
type RollingHasher struct {
	h     hash.Hash
	count int
}

// NewRollingHasher returns a fresh hasher with no accumulated state.
func NewRollingHasher() *RollingHasher {
	return &RollingHasher{h: sha256.New()}
}

// Update folds one more line into the running digest. Callers must not
// call Update with a run_end event's line — the Trace Store is
// responsible for excluding it.
func (r *RollingHasher) Update(line string) {
	r.h.Write([]byte(line + "\n"))
	r.count++
}

// Hexdigest returns the current digest as a lowercase hex string. It may
// be called at any time without mutating the hasher's state: hash.Hash's
// Sum appends to its argument without resetting internal state.
func (r *RollingHasher) Hexdigest() string {
	return hex.EncodeToString(r.h.Sum(nil))
}

// Count returns the number of lines folded into the digest so far.
func (r *RollingHasher) Count() int {
	return r.count
}

// Schema returns a minimal JSON Schema describing the Event union, ported
// from the Python original's event_schema(). It is not consulted by any
// runtime path; it exists for documentation.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"trace_id":       map[string]any{"type": "string"},
			"ts":             map[string]any{"type": "string"},
			"type": map[string]any{
				"type": "string",
				"enum": []string{
					string(TypeRunStart), string(TypePlan), string(TypeMessage),
					string(TypeToolCall), string(TypeToolResult), string(TypeToolError),
					string(TypeRunEnd),
				},
			},
			"span_id":        map[string]any{"type": "string"},
			"parent_span_id": map[string]any{"type": "string"},
		},
		"required": []string{"trace_id", "ts", "type", "span_id"},
	}
}
