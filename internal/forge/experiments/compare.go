package experiments

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/haasonsaas/xaiforge/internal/forge/gateway"
)

// compareText scores how similar two response texts are, matching the
// Python original's use of difflib.SequenceMatcher.ratio(): twice the
// matched-character count over the combined length of both strings.
// diffmatchpatch operates on runs of equal/inserted/deleted text
// rather than difflib's opcodes, but the ratio formula is the same.
func compareText(primary, secondary string) (score float64, summary string) {
	if primary == "" && secondary == "" {
		return 1.0, "no_diff"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(primary, secondary, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var matched int
	var changes []string
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			matched += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			changes = append(changes, fmt.Sprintf("-%q", d.Text))
		case diffmatchpatch.DiffInsert:
			changes = append(changes, fmt.Sprintf("+%q", d.Text))
		}
	}

	total := utf8.RuneCountInString(primary) + utf8.RuneCountInString(secondary)
	if total == 0 {
		score = 1.0
	} else {
		score = 2 * float64(matched) / float64(total)
	}

	summary = "no_diff"
	if len(changes) > 0 {
		summary = strings.Join(changes, " | ")
	}
	return score, summary
}

func toolCallName(tc gateway.ToolCall) string { return tc.Name }

// compareToolCalls reports which tool names the secondary response
// added or dropped relative to the primary, and where a
// same-position, same-named call's arguments diverged.
func compareToolCalls(primary, secondary []gateway.ToolCall) ToolCallDiff {
	primaryNames := make(map[string]bool, len(primary))
	for _, tc := range primary {
		primaryNames[toolCallName(tc)] = true
	}
	secondaryNames := make(map[string]bool, len(secondary))
	for _, tc := range secondary {
		secondaryNames[toolCallName(tc)] = true
	}

	var added, removed []string
	for name := range secondaryNames {
		if !primaryNames[name] {
			added = append(added, name)
		}
	}
	for name := range primaryNames {
		if !secondaryNames[name] {
			removed = append(removed, name)
		}
	}

	var mismatched []ToolCallMismatch
	for i := 0; i < len(primary) && i < len(secondary); i++ {
		p, s := primary[i], secondary[i]
		if p.Name != s.Name {
			continue
		}
		if !argsEqual(p.Arguments, s.Arguments) {
			mismatched = append(mismatched, ToolCallMismatch{
				Index:         i,
				PrimaryArgs:   p.Arguments,
				SecondaryArgs: s.Arguments,
			})
		}
	}

	return ToolCallDiff{Added: added, Removed: removed, Mismatched: mismatched}
}

func argsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != fmt.Sprint(other) {
			return false
		}
	}
	return true
}

// buildComparison derives a full Comparison between a primary and
// secondary provider result, covering text stability, latency delta,
// and tool call divergence.
func buildComparison(primary, secondary ProviderResult) Comparison {
	score, summary := compareText(primary.Text, secondary.Text)
	return Comparison{
		StabilityScore: score,
		LatencyDeltaMS: secondary.LatencyMS - primary.LatencyMS,
		DiffSummary:    summary,
		ToolCallDiff:   compareToolCalls(primary.ToolCalls, secondary.ToolCalls),
	}
}
