// Package program runs program panels, either in-process or by spawning the
// language interpreter on a generated script.
package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/kingrea/datastation/internal/language"
	"github.com/kingrea/datastation/internal/panelerr"
)

// DefaultStdoutMaxSize caps combined output when settings leave it unset.
const DefaultStdoutMaxSize = 5000

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// Settings tune subprocess execution.
type Settings struct {
	StdoutMaxSize int
	// Timeout kills the interpreter after this long; zero means no limit.
	Timeout time.Duration
	// TempDir holds generated scripts; empty means os.TempDir.
	TempDir string
}

// PathResolver returns a user configured interpreter path for a language.
type PathResolver interface {
	LanguagePath(id string) string
}

// Logger matches the Printf-style logger used across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Request identifies one program panel run.
type Request struct {
	Language string
	Content  string
	Context  language.EvalContext
}

// Result is the value a program produced plus its captured output.
type Result struct {
	Value  any    `json:"value"`
	Stdout string `json:"stdout"`
	// Spawned is true when an interpreter process ran and wrote the result
	// file itself.
	Spawned bool `json:"-"`
}

// Executor evaluates program panels.
type Executor struct {
	languages *language.Registry
	settings  Settings
	paths     PathResolver
	logger    Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithPaths sets the interpreter override source.
func WithPaths(p PathResolver) Option {
	return func(e *Executor) {
		if p != nil {
			e.paths = p
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor builds an executor over the given languages.
func NewExecutor(languages *language.Registry, settings Settings, opts ...Option) *Executor {
	if languages == nil {
		languages = language.Default()
	}
	if settings.StdoutMaxSize <= 0 {
		settings.StdoutMaxSize = DefaultStdoutMaxSize
	}
	e := &Executor{
		languages: languages,
		settings:  settings,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Languages exposes the registry the executor resolves against.
func (e *Executor) Languages() *language.Registry {
	return e.languages
}

// Evaluate runs one program panel.
func (e *Executor) Evaluate(ctx context.Context, req Request) (Result, error) {
	lang, ok := e.languages.Lookup(req.Language)
	if !ok {
		return Result{}, fmt.Errorf("program: unknown language %q", req.Language)
	}
	if lang.InProcess() {
		return e.evaluateInProcess(ctx, lang, req)
	}
	return e.evaluateExternal(ctx, lang, req)
}

func (e *Executor) evaluateInProcess(ctx context.Context, lang *language.Language, req Request) (Result, error) {
	buf := newCappedBuffer(e.settings.StdoutMaxSize)
	ec := req.Context
	ec.Stdout = buf
	out, err := lang.Eval(ctx, req.Content, ec)
	if out.Stdout != "" {
		_, _ = buf.Write([]byte(out.Stdout))
	}
	stdout := buf.String()
	res := Result{Value: out.Value, Stdout: stdout}
	if err == nil {
		return res, nil
	}
	var upstream *panelerr.UpstreamPanelError
	if errors.As(err, &upstream) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return res, err
	}
	return res, &panelerr.ExecutionError{Message: err.Error(), ExitCode: -1, Stdout: stdout}
}

// InterpreterPath returns the executable used for lang: the configured
// override, else the language default. In-process languages return "".
func (e *Executor) InterpreterPath(lang *language.Language) string {
	if lang == nil || lang.InProcess() {
		return ""
	}
	if e.paths != nil {
		if override := strings.TrimSpace(e.paths.LanguagePath(lang.ID)); override != "" {
			return override
		}
	}
	return lang.DefaultPath
}

func (e *Executor) evaluateExternal(ctx context.Context, lang *language.Language, req Request) (Result, error) {
	interpreter := e.InterpreterPath(lang)

	script, err := e.writeScript(lang, req)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(script)

	resultPath := req.Context.ResultsPrefix + req.Context.PanelID
	if err := os.Remove(resultPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, fmt.Errorf("program: clear previous result: %w", err)
	}

	if e.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.Timeout)
		defer cancel()
	}

	combined := newCappedBuffer(e.settings.StdoutMaxSize)
	stderr := newCappedBuffer(e.settings.StdoutMaxSize)
	cmd := exec.CommandContext(ctx, interpreter, script)
	cmd.Stdout = combined
	cmd.Stderr = io.MultiWriter(combined, stderr)
	cmd.WaitDelay = time.Second

	started := time.Now()
	runErr := cmd.Run()
	e.logger.Printf("program: %s panel %s finished in %s", lang.ID, req.Context.PanelID, time.Since(started).Round(time.Millisecond))
	res := Result{Stdout: combined.String(), Spawned: true}

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		message := strings.TrimSpace(stderr.String())
		switch {
		case ctx.Err() != nil:
			message = fmt.Sprintf("program stopped: %v", ctx.Err())
		case message == "":
			message = runErr.Error()
		}
		return res, e.remap(lang, req.Context, script, message, exitCode, res.Stdout)
	}

	raw, err := os.ReadFile(resultPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, &panelerr.NoResultError{PanelID: req.Context.PanelID}
		}
		return res, fmt.Errorf("program: read result: %w", err)
	}
	if err := json.Unmarshal(raw, &res.Value); err != nil {
		return res, &panelerr.ExecutionError{
			Message: fmt.Sprintf("result is not valid JSON: %v", err),
			Stdout:  res.Stdout,
		}
	}
	return res, nil
}

func (e *Executor) writeScript(lang *language.Language, req Request) (string, error) {
	file, err := os.CreateTemp(e.settings.TempDir, "dm-program-*"+lang.Extension)
	if err != nil {
		return "", fmt.Errorf("program: create script: %w", err)
	}
	var source strings.Builder
	if lang.Preamble != nil {
		source.WriteString(lang.Preamble(req.Context))
	}
	source.WriteString(lineEnding())
	source.WriteString(req.Content)
	if _, err := file.WriteString(source.String()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("program: write script: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("program: write script: %w", err)
	}
	return file.Name(), nil
}

// remap attributes a failure to the panel that actually caused it. The
// preamble's error envelope wins; otherwise any result file path of another
// panel mentioned in the message points at the culprit.
func (e *Executor) remap(lang *language.Language, ec language.EvalContext, script, message string, exitCode int, stdout string) error {
	if env, ok := language.ParseEnvelope(message); ok && env.PanelID != ec.PanelID {
		return &panelerr.UpstreamPanelError{Index: ec.IndexOf(env.PanelID), PanelID: env.PanelID}
	}
	if ec.ResultsPrefix != "" {
		pattern := regexp.MustCompile(regexp.QuoteMeta(filepath.Base(ec.ResultsPrefix)) + `(` + uuidPattern + `)`)
		for _, match := range pattern.FindAllStringSubmatch(message, -1) {
			if match[1] != ec.PanelID {
				return &panelerr.UpstreamPanelError{Index: ec.IndexOf(match[1]), PanelID: match[1]}
			}
		}
	}
	return &panelerr.ExecutionError{
		Message:  lang.Rewrite(message, script),
		ExitCode: exitCode,
		Stdout:   stdout,
	}
}

func lineEnding() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}
