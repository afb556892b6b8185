package plugins

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

var (
	emailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	tokenRe  = regexp.MustCompile(`(?:sk|xai)-[A-Za-z0-9]{16,}`)
	bearerRe = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
)

var secretKeys = map[string]bool{
	"authorization": true,
	"token":         true,
	"api_key":       true,
	"secret":        true,
}

const redactedPlaceholder = "[redacted]"

// Redactor scrubs emails, bearer tokens, and provider API-key-shaped
// strings from event text fields, and blanks any map value whose key
// (case-insensitively) names a known secret field. Grounded on the
// Python original's xaiforge/plugins/redactor.py.
type Redactor struct{ Base }

func (Redactor) Name() string { return "redactor" }

func (r Redactor) OnEvent(_ context.Context, _ Context, e events.Event) (events.Event, error) {
	return redactEvent(e), nil
}

func (r Redactor) OnRunEnd(_ context.Context, _ Context, e events.Event) (events.Event, error) {
	return redactEvent(e), nil
}

func redactString(s string) string {
	s = emailRe.ReplaceAllString(s, redactedPlaceholder)
	s = bearerRe.ReplaceAllString(s, redactedPlaceholder)
	s = tokenRe.ReplaceAllString(s, redactedPlaceholder)
	return s
}

// redactEvent reconstructs the same concrete event, with every free-text
// field (task, plan steps, message content, tool error, run_end summary)
// scrubbed and any JSON payload recursively walked for secret keys,
// adapted from the Python original's _redact_payload walk. Identifiers,
// timestamps and hashes are left as they are.
func redactEvent(e events.Event) events.Event {
	out := e
	out.Task = redactString(e.Task)
	if len(e.Steps) > 0 {
		out.Steps = make([]string, len(e.Steps))
		for i, step := range e.Steps {
			out.Steps[i] = redactString(step)
		}
	}
	out.Content = redactString(e.Content)
	out.ToolErrorMessage = redactString(e.ToolErrorMessage)
	out.Summary = redactString(e.Summary)
	if len(e.ToolArgs) > 0 {
		out.ToolArgs = redactRaw(e.ToolArgs)
	}
	if len(e.ToolResult) > 0 {
		out.ToolResult = redactRaw(e.ToolResult)
	}
	return out
}

func redactRaw(raw json.RawMessage) json.RawMessage {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return json.RawMessage(redactString(string(raw)))
	}
	redacted := redactValue(value)
	encoded, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return encoded
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if secretKeys[strings.ToLower(key)] {
				out[key] = redactedPlaceholder
				continue
			}
			out[key] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	case string:
		return redactString(v)
	default:
		return v
	}
}
