// Package eval evaluates panels in page order, routing each type to its
// evaluator and recording per-panel outcomes.
package eval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/kingrea/datastation/internal/language"
	"github.com/kingrea/datastation/internal/panelerr"
	"github.com/kingrea/datastation/internal/program"
	"github.com/kingrea/datastation/internal/sqlconn"
	"github.com/kingrea/datastation/internal/state"
	"github.com/kingrea/datastation/internal/store"
)

// Logger is the leveled logger used by the evaluator.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Evaluator runs panels of projects held in a Store.
type Evaluator struct {
	store    *store.Store
	executor *program.Executor
	session  *Session
	client   *http.Client
	logger   Logger
	now      func() time.Time
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHTTPClient sets the client used by http panels.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.client = c
		}
	}
}

// WithSession shares a result cache between evaluators.
func WithSession(s *Session) Option {
	return func(e *Evaluator) {
		if s != nil {
			e.session = s
		}
	}
}

// New builds an Evaluator.
func New(st *store.Store, executor *program.Executor, opts ...Option) *Evaluator {
	if executor == nil {
		executor = program.NewExecutor(nil, program.Settings{})
	}
	e := &Evaluator{
		store:    st,
		executor: executor,
		session:  NewSession(),
		client:   &http.Client{Timeout: time.Minute},
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Session returns the result cache.
func (e *Evaluator) Session() *Session { return e.session }

// Languages returns the program language registry.
func (e *Evaluator) Languages() *language.Registry { return e.executor.Languages() }

// EvaluatePanel evaluates the panel at panelIndex on page pageIndex. The
// outcome is recorded in the session whether or not it failed; the returned
// error is the same failure.
func (e *Evaluator) EvaluatePanel(ctx context.Context, projectID string, project *state.Project, pageIndex, panelIndex int) (PanelResult, error) {
	page, err := project.Page(pageIndex)
	if err != nil {
		return PanelResult{}, err
	}
	panel, err := page.Panel(panelIndex)
	if err != nil {
		return PanelResult{}, err
	}
	e.session.Use(projectID)

	prefix := e.store.ResultsPrefix(projectID)
	started := e.now()
	out, err := e.evaluate(ctx, prefix, project, page, panelIndex)
	if err == nil && !out.written {
		err = store.WriteResult(prefix, panel.ID, out.value)
	}
	if err != nil {
		// Programs read result files directly; a failed panel must not
		// leave its last good value behind for them.
		if rmErr := store.RemoveResult(prefix, panel.ID); rmErr != nil {
			e.logger.Printf("eval: clear result %s: %v", panel.ID, rmErr)
		}
	}
	result := PanelResult{
		Value:     out.value,
		Stdout:    out.stdout,
		LastRun:   started,
		Elapsed:   e.now().Sub(started),
		Exception: failure(err),
		err:       err,
	}
	if err != nil {
		e.logger.Printf("eval: %s page %d panel %d (%s): %v", projectID, pageIndex, panelIndex, panel.Type, err)
	}
	e.session.record(page.ID, panelIndex, result)
	return result, err
}

// EvaluatePage runs every panel of the page in order. A failing panel does
// not stop later ones.
func (e *Evaluator) EvaluatePage(ctx context.Context, projectID string, project *state.Project, pageIndex int) ([]PanelResult, error) {
	page, err := project.Page(pageIndex)
	if err != nil {
		return nil, err
	}
	results := make([]PanelResult, len(page.Panels))
	for i := range page.Panels {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results[i], _ = e.EvaluatePanel(ctx, projectID, project, pageIndex, i)
	}
	return results, nil
}

type outcome struct {
	value   any
	stdout  string
	written bool
}

func (e *Evaluator) evaluate(ctx context.Context, prefix string, project *state.Project, page *state.Page, index int) (outcome, error) {
	panel := &page.Panels[index]
	if !panel.HasPayload() {
		return outcome{}, fmt.Errorf("eval: %s panel %d has no %s settings", panel.Type, index, panel.Type)
	}
	switch panel.Type {
	case state.PanelLiteral:
		value, err := parseLiteral(panel.Literal.Type, panel.Content)
		return outcome{value: value}, err
	case state.PanelTable:
		rows, err := e.sourceRows(prefix, page, index, panel.Table.PanelSource)
		if err != nil {
			return outcome{}, err
		}
		return outcome{value: selectColumns(rows, panel.Table.Columns)}, nil
	case state.PanelGraph:
		rows, err := e.sourceRows(prefix, page, index, panel.Graph.PanelSource)
		if err != nil {
			return outcome{}, err
		}
		return outcome{value: graphSeries(rows, panel.Graph)}, nil
	case state.PanelHTTP:
		value, err := e.fetch(ctx, project, panel)
		return outcome{value: value}, err
	case state.PanelSQL:
		value, err := e.query(ctx, project, panel)
		return outcome{value: value}, err
	case state.PanelProgram:
		res, err := e.executor.Evaluate(ctx, program.Request{
			Language: panel.Program.Type,
			Content:  panel.Content,
			Context: language.EvalContext{
				ResultsPrefix: prefix,
				PanelID:       panel.ID,
				IndexIDs:      page.IndexIDs(),
			},
		})
		return outcome{value: res.Value, stdout: res.Stdout, written: res.Spawned}, err
	default:
		return outcome{}, fmt.Errorf("eval: unsupported panel type %q", panel.Type)
	}
}

// sourceValue returns the value of the panel at source, which must sit
// before index. Session results win; the result file is the fallback.
func (e *Evaluator) sourceValue(prefix string, page *state.Page, index, source int) (any, error) {
	if source < 0 || source >= index {
		return nil, &panelerr.InvalidPanelSourceError{Index: index, Source: source}
	}
	upstream := &page.Panels[source]
	if prior, ok := e.session.Result(page.ID, source); ok {
		if prior.Err() != nil || prior.Exception != nil {
			return nil, &panelerr.UpstreamPanelError{Index: source, PanelID: upstream.ID}
		}
		return prior.Value, nil
	}
	value, err := store.ReadResult(prefix, upstream.ID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &panelerr.UpstreamPanelError{Index: source, PanelID: upstream.ID}
		}
		return nil, err
	}
	return value, nil
}

func (e *Evaluator) sourceRows(prefix string, page *state.Page, index, source int) ([]map[string]any, error) {
	value, err := e.sourceValue(prefix, page, index, source)
	if err != nil {
		return nil, err
	}
	rows, err := toRows(value)
	if err != nil {
		return nil, fmt.Errorf("panel %d: %w", source, err)
	}
	return rows, nil
}

func (e *Evaluator) query(ctx context.Context, project *state.Project, panel *state.Panel) (any, error) {
	conn := panel.SQL.SQLConnection
	if id := panel.SQL.ConnectorID; id != "" {
		connector, ok := project.Connector(id)
		if !ok || connector.SQL == nil {
			return nil, fmt.Errorf("eval: sql connector %q not found", id)
		}
		conn = *connector.SQL
	}
	password, err := e.store.DecryptSecret(conn.Password)
	if err != nil {
		return nil, fmt.Errorf("eval: open sql password: %w", err)
	}
	return sqlconn.Query(ctx, sqlconn.Params{
		Driver:   conn.Type,
		Database: conn.Database,
		Username: conn.Username,
		Password: password,
		Address:  conn.Address,
	}, e.store.Root(), panel.Content)
}
