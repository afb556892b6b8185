// Package tools implements the built-in tool registry: a calculator
// restricted to a whitelisted arithmetic grammar, a regex search, a
// path-safe file reader, a repository grep, and an optional HTTP GET.
// Grounded on the Python original's xaiforge/tools/registry.py, with the
// file-path safety check adapted from the teacher's
// internal/tools/files/resolver.go.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Context is the execution context passed to every tool handler. It is
// deliberately narrow: handlers are pure functions of (arguments,
// Context).
type Context struct {
	Root     string
	AllowNet bool
	TraceID  string
}

// Handler is a tool's implementation.
type Handler func(ctx context.Context, args map[string]any, tc Context) (any, error)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler

	schema *jsonschema.Schema
}

func (s *Spec) compileSchema() error {
	if s.Parameters == nil {
		return nil
	}
	raw, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("encode schema for %s: %w", s.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(s.Name+".json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", s.Name, err)
	}
	schema, err := compiler.Compile(s.Name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", s.Name, err)
	}
	s.schema = schema
	return nil
}

// ValidateArguments checks args against the tool's JSON parameter schema,
// if one was provided.
func (s *Spec) ValidateArguments(args map[string]any) error {
	if s.schema == nil {
		return nil
	}
	if err := s.schema.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", s.Name, err)
	}
	return nil
}

// Registry holds the set of tools available to a run, in registration
// order.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a tool, compiling its parameter schema if present.
func (r *Registry) Register(spec Spec) error {
	if err := spec.compileSchema(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	s := spec
	r.specs[spec.Name] = &s
	return nil
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute validates arguments and invokes the named tool's handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tc Context) (any, error) {
	spec, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if err := spec.ValidateArguments(args); err != nil {
		return nil, err
	}
	return spec.Handler(ctx, args, tc)
}

// BuildRegistry registers the five built-in tools in the required order:
// calc, regex_search, file_read, repo_grep, http_get.
func BuildRegistry() *Registry {
	reg := NewRegistry()
	_ = reg.Register(Spec{
		Name:        "calc",
		Description: "Evaluate a restricted arithmetic expression.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
			"required":   []string{"expression"},
		},
		Handler: toolCalc,
	})
	_ = reg.Register(Spec{
		Name:        "regex_search",
		Description: "Search text for a regular expression match.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"text":    map[string]any{"type": "string"},
			},
			"required": []string{"pattern", "text"},
		},
		Handler: toolRegexSearch,
	})
	_ = reg.Register(Spec{
		Name:        "file_read",
		Description: "Read a file relative to the workspace root.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Handler: toolFileRead,
	})
	_ = reg.Register(Spec{
		Name:        "repo_grep",
		Description: "Grep files under the workspace root matching glob patterns.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":        map[string]any{"type": "string"},
				"globs":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"max_bytes_each": map[string]any{"type": "integer"},
			},
			"required": []string{"pattern"},
		},
		Handler: toolRepoGrep,
	})
	_ = reg.Register(Spec{
		Name:        "http_get",
		Description: "Fetch a URL over HTTP GET. Requires network access to be allowed.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []string{"url"},
		},
		Handler: toolHTTPGet,
	})
	return reg
}

func toolCalc(_ context.Context, args map[string]any, _ Context) (any, error) {
	expr, _ := args["expression"].(string)
	value, err := EvalArithmetic(expr)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": value}, nil
}

func toolRegexSearch(_ context.Context, args map[string]any, _ Context) (any, error) {
	pattern, _ := args["pattern"].(string)
	text, _ := args["text"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	match := re.FindString(text)
	return map[string]any{"match": match, "found": match != "" || re.MatchString(text)}, nil
}

// resolvePath resolves path against root, rejecting any resolution that
// escapes root. Adapted from the teacher's internal/tools/files/resolver.go.
func resolvePath(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes root")
	}
	return targetAbs, nil
}

func toolFileRead(_ context.Context, args map[string]any, tc Context) (any, error) {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(tc.Root, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return map[string]any{"path": path, "content": string(data)}, nil
}

const repoGrepHitLimit = 200

func toolRepoGrep(_ context.Context, args map[string]any, tc Context) (any, error) {
	pattern, _ := args["pattern"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	globs := []string{"**/*"}
	if raw, ok := args["globs"].([]any); ok && len(raw) > 0 {
		globs = globs[:0]
		for _, g := range raw {
			if s, ok := g.(string); ok {
				globs = append(globs, s)
			}
		}
	}
	maxBytesEach := 65536
	if v, ok := args["max_bytes_each"].(float64); ok && v > 0 {
		maxBytesEach = int(v)
	}

	var files []string
	for _, glob := range globs {
		matches, err := walkGlob(tc.Root, glob)
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	type hit struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var hits []hit
	for _, f := range files {
		if len(hits) >= repoGrepHitLimit {
			break
		}
		resolved, err := resolvePath(tc.Root, f)
		if err != nil {
			continue
		}
		data, err := readBounded(resolved, maxBytesEach)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if len(hits) >= repoGrepHitLimit {
				break
			}
			if re.MatchString(line) {
				hits = append(hits, hit{Path: f, Line: i + 1, Text: line})
			}
		}
	}
	return map[string]any{"hits": hits, "truncated": len(hits) >= repoGrepHitLimit}, nil
}

func readBounded(path string, maxBytes int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, int64(maxBytes)))
}

// walkGlob expands a simple "**/*"-style glob relative to root into a
// list of root-relative file paths.
func walkGlob(root, glob string) ([]string, error) {
	var out []string
	pattern := strings.TrimPrefix(glob, "**/")
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if pattern == "*" || pattern == "" {
			out = append(out, rel)
			return nil
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

func toolHTTPGet(ctx context.Context, args map[string]any, tc Context) (any, error) {
	if !tc.AllowNet {
		return nil, fmt.Errorf("network access is not allowed for this run")
	}
	url, _ := args["url"].(string)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
}
