// Package language describes how each program panel language is executed:
// either in-process, or by an external interpreter fed a generated preamble.
package language

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/datastation/internal/panelerr"
)

// EvalContext is what a program needs to find its own and earlier results.
type EvalContext struct {
	// ResultsPrefix is prepended to a panel id to form its result file path.
	ResultsPrefix string
	PanelID       string
	// IndexIDs maps panel position on the page to panel id.
	IndexIDs []string
	// Stdout receives console output of in-process programs. When nil the
	// evaluator buffers it and returns it in EvalResult.Stdout.
	Stdout io.Writer
}

// output returns where console output goes and how to collect what was
// buffered locally.
func (c EvalContext) output() (io.Writer, func() string) {
	if c.Stdout != nil {
		return c.Stdout, func() string { return "" }
	}
	buf := &strings.Builder{}
	return buf, buf.String
}

// IndexOf returns the position of id on the page, or -1.
func (c EvalContext) IndexOf(id string) int {
	for i, candidate := range c.IndexIDs {
		if candidate == id {
			return i
		}
	}
	return -1
}

// ReadPanel loads the stored result of the panel at index.
func (c EvalContext) ReadPanel(index int) (any, error) {
	raw, err := c.ReadPanelJSON(index)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &panelerr.UpstreamPanelError{Index: index, PanelID: c.IndexIDs[index]}
	}
	return value, nil
}

// ReadPanelJSON returns the raw result file contents of the panel at index.
func (c EvalContext) ReadPanelJSON(index int) ([]byte, error) {
	if index < 0 || index >= len(c.IndexIDs) {
		return nil, fmt.Errorf("language: no panel at index %d", index)
	}
	id := c.IndexIDs[index]
	raw, err := os.ReadFile(c.ResultsPrefix + id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &panelerr.UpstreamPanelError{Index: index, PanelID: id}
		}
		return nil, fmt.Errorf("language: read panel %d: %w", index, err)
	}
	return raw, nil
}

// EvalResult is the outcome of an in-process evaluation.
type EvalResult struct {
	Value  any    `json:"value"`
	Stdout string `json:"stdout"`
}

// InProcessEvaluator runs program text without spawning a process.
type InProcessEvaluator func(ctx context.Context, content string, ec EvalContext) (EvalResult, error)

// Language is one registry entry.
type Language struct {
	ID   string
	Name string
	// DefaultPath is the interpreter used when no override is configured.
	// Empty means the language runs in-process through Eval.
	DefaultPath string
	// Extension is the temp script suffix, including the dot.
	Extension string

	Preamble     func(ec EvalContext) string
	RewriteError func(message, scriptPath string) string
	Eval         InProcessEvaluator
}

// InProcess reports whether programs run without a subprocess.
func (l *Language) InProcess() bool {
	return l.DefaultPath == "" && l.Eval != nil
}

// Rewrite applies the language's error rewriter, or the default one.
func (l *Language) Rewrite(message, scriptPath string) string {
	if l.RewriteError != nil {
		return l.RewriteError(message, scriptPath)
	}
	return stripScriptPath(message, scriptPath)
}

// Registry is the set of known languages, keyed by id.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]*Language
}

// NewRegistry returns a registry holding the given languages.
func NewRegistry(langs ...*Language) *Registry {
	r := &Registry{languages: make(map[string]*Language)}
	for _, l := range langs {
		r.Register(l)
	}
	return r
}

// Default returns a registry with every built-in language.
func Default() *Registry {
	return NewRegistry(JavaScript(), Go(), Python(), Node(), Ruby(), Shell())
}

// Register adds or replaces a language.
func (r *Registry) Register(l *Language) {
	if l == nil || strings.TrimSpace(l.ID) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[strings.ToLower(l.ID)] = l
}

// Lookup returns the language for id.
func (r *Registry) Lookup(id string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.languages[strings.ToLower(strings.TrimSpace(id))]
	return l, ok
}

// All returns languages sorted by id.
func (r *Registry) All() []*Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Language, 0, len(r.languages))
	for _, l := range r.languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func stripScriptPath(message, scriptPath string) string {
	if scriptPath == "" {
		return message
	}
	message = strings.ReplaceAll(message, scriptPath+": ", "")
	return strings.ReplaceAll(message, scriptPath, "<program>")
}

// normalize converts a Go value into the shape it has after a JSON round
// trip, so in-process and external results look the same to callers.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("language: result is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c EvalContext) ids() []string {
	if c.IndexIDs == nil {
		return []string{}
	}
	return c.IndexIDs
}
