package experiments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// writeJSONAtomic writes to a temp file then renames over the final
// path, the same crash-safe pattern the Trace Store uses for its
// manifest.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s temp file: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

func experimentDir(baseDir string) string {
	return filepath.Join(baseDir, "experiments")
}

func reportDir(baseDir string) string {
	return filepath.Join(baseDir, "reports", "experiments")
}

// SaveExperimentArtifacts persists a completed run's config, manifest,
// and markdown report under baseDir/experiments and
// baseDir/reports/experiments.
func SaveExperimentArtifacts(baseDir string, cfg Config, res Result) (Manifest, error) {
	summary := Summarize(cfg, res)

	configPath := filepath.Join(experimentDir(baseDir), cfg.ExperimentID+".config.json")
	if err := writeJSONAtomic(configPath, cfg); err != nil {
		return Manifest{}, err
	}

	reportPath := filepath.Join(reportDir(baseDir), cfg.ExperimentID+".md")
	if err := os.MkdirAll(filepath.Dir(reportPath), 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(reportPath, []byte(RenderMarkdownReport(cfg, res)), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write experiment report: %w", err)
	}

	manifest := Manifest{
		ExperimentID: cfg.ExperimentID,
		CreatedAt:    cfg.CreatedAt,
		ReportPath:   reportPath,
		ConfigPath:   configPath,
		Summary:      summary,
	}
	manifestPath := filepath.Join(experimentDir(baseDir), cfg.ExperimentID+".manifest.json")
	if err := writeJSONAtomic(manifestPath, manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// LoadExperimentManifest reads back a previously saved experiment's
// manifest.
func LoadExperimentManifest(baseDir, experimentID string) (Manifest, error) {
	path := filepath.Join(experimentDir(baseDir), experimentID+".manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read experiment manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode experiment manifest: %w", err)
	}
	return m, nil
}

// ListExperiments returns every saved experiment ID under baseDir,
// sorted lexically.
func ListExperiments(baseDir string) ([]string, error) {
	dir := experimentDir(baseDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".manifest.json") {
			ids = append(ids, strings.TrimSuffix(name, ".manifest.json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RenderMarkdownReport renders a human-readable summary of an
// experiment run, mirroring the Trace Store's report format.
func RenderMarkdownReport(cfg Config, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Experiment Report: %s\n\n", cfg.ExperimentID)
	fmt.Fprintf(&b, "- Mode: %s\n", cfg.Mode)
	fmt.Fprintf(&b, "- Providers: %s\n", strings.Join(cfg.Providers, ", "))
	fmt.Fprintf(&b, "- Request: %s\n", res.RequestID)
	fmt.Fprintf(&b, "- Started: %s\n", res.StartedAt)
	fmt.Fprintf(&b, "- Ended: %s\n\n", res.EndedAt)

	b.WriteString("## Primary\n\n")
	fmt.Fprintf(&b, "- Provider: %s\n", res.Primary.Provider)
	fmt.Fprintf(&b, "- Latency: %dms\n", res.Primary.LatencyMS)
	if res.Primary.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", res.Primary.Error)
	} else {
		fmt.Fprintf(&b, "- Text: %s\n", res.Primary.Text)
	}

	if res.Secondary != nil {
		b.WriteString("\n## Secondary\n\n")
		fmt.Fprintf(&b, "- Provider: %s\n", res.Secondary.Provider)
		fmt.Fprintf(&b, "- Latency: %dms\n", res.Secondary.LatencyMS)
		if res.Secondary.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", res.Secondary.Error)
		} else {
			fmt.Fprintf(&b, "- Text: %s\n", res.Secondary.Text)
		}
	}

	if res.Comparison != nil {
		b.WriteString("\n## Comparison\n\n")
		fmt.Fprintf(&b, "- Stability score: %.3f\n", res.Comparison.StabilityScore)
		fmt.Fprintf(&b, "- Latency delta: %dms\n", res.Comparison.LatencyDeltaMS)
		fmt.Fprintf(&b, "- Diff: %s\n", res.Comparison.DiffSummary)
		if len(res.Comparison.ToolCallDiff.Added) > 0 {
			fmt.Fprintf(&b, "- Tool calls added: %s\n", strings.Join(res.Comparison.ToolCallDiff.Added, ", "))
		}
		if len(res.Comparison.ToolCallDiff.Removed) > 0 {
			fmt.Fprintf(&b, "- Tool calls removed: %s\n", strings.Join(res.Comparison.ToolCallDiff.Removed, ", "))
		}
		for _, mismatch := range res.Comparison.ToolCallDiff.Mismatched {
			fmt.Fprintf(&b, "- Tool call #%d arguments diverged\n", mismatch.Index)
		}
	}

	if len(res.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}
