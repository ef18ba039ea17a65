package eval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/datastation/internal/language"
	"github.com/kingrea/datastation/internal/panelerr"
	"github.com/kingrea/datastation/internal/program"
	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/secret"
	"github.com/kingrea/datastation/internal/state"
	"github.com/kingrea/datastation/internal/store"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *store.Store) {
	t.Helper()
	root := t.TempDir()
	box, err := secret.LoadOrCreate(filepath.Join(root, ".datastation", "secret.key"))
	require.NoError(t, err)
	st := store.New(root, store.NewWriter(time.Hour), box)
	exec := program.NewExecutor(language.Default(), program.Settings{TempDir: t.TempDir()})
	return New(st, exec), st
}

func literalCSV(content string) state.Panel {
	p := state.NewPanel(state.PanelLiteral)
	p.Content = content
	return p
}

func tableOf(source int) state.Panel {
	p := state.NewPanel(state.PanelTable)
	p.Table.PanelSource = source
	return p
}

func programPanel(lang, content string) state.Panel {
	p := state.NewPanel(state.PanelProgram)
	p.Program.Type = lang
	p.Content = content
	return p
}

func projectWith(panels ...state.Panel) *state.Project {
	p := state.DefaultProject("test")
	p.Pages = []state.Page{state.NewPage("one", panels...)}
	return p
}

func TestCSVLiteralFeedsTable(t *testing.T) {
	e, _ := newTestEvaluator(t)
	project := projectWith(literalCSV("name,age\nPhil,12\nJames,17"), tableOf(0))

	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	require.Nil(t, results[1].Exception)
	rows, ok := results[1].Value.([]map[string]any)
	require.True(t, ok, "got %T", results[1].Value)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"name": "Phil", "age": "12"}, rows[0])
	assert.Equal(t, map[string]any{"name": "James", "age": "17"}, rows[1])
}

func TestTableColumnsSelectFields(t *testing.T) {
	e, _ := newTestEvaluator(t)
	table := tableOf(0)
	table.Table.Columns = []state.TableColumn{{Label: "Name", Field: "name"}}
	project := projectWith(literalCSV("name,age\nPhil,12"), table)

	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Phil"}}, results[1].Value)
}

func TestPanelSourceMustBeEarlier(t *testing.T) {
	e, _ := newTestEvaluator(t)
	project := projectWith(tableOf(0), literalCSV("a\n1"))

	_, err := e.EvaluatePanel(context.Background(), "p", project, 0, 0)
	var invalid *panelerr.InvalidPanelSourceError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, 0, invalid.Source)
}

func TestFailedSourceIsUpstreamError(t *testing.T) {
	e, _ := newTestEvaluator(t)
	broken := state.NewPanel(state.PanelLiteral)
	broken.Literal.Type = state.LiteralJSON
	broken.Content = "{"
	project := projectWith(broken, tableOf(0))

	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	require.NotNil(t, results[0].Exception)
	require.NotNil(t, results[1].Exception)
	assert.Equal(t, "InvalidDependentPanelError", results[1].Exception.Name)
	assert.Equal(t, 0, results[1].Exception.Fields["panelIndex"])
}

func TestInProcessProgramReadsLiteral(t *testing.T) {
	e, _ := newTestEvaluator(t)
	project := projectWith(
		literalCSV("name,age\nPhil,12\nJames,17"),
		programPanel("javascript", "DM_getPanel(0).map(function (r) { return r.name; })"),
	)
	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	require.Nil(t, results[1].Exception)
	assert.Equal(t, []any{"Phil", "James"}, results[1].Value)
}

func TestExternalProgramReadsLiteral(t *testing.T) {
	e, st := newTestEvaluator(t)
	project := projectWith(
		literalCSV("n\n1"),
		programPanel("shell", `rows=$(DM_getPanel 0) || exit 1
DM_setPanel "$rows"`),
	)
	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	require.Nil(t, results[1].Exception, "%+v", results[1].Exception)
	assert.Equal(t, []any{map[string]any{"n": "1"}}, results[1].Value)

	onDisk, err := store.ReadResult(st.ResultsPrefix("p"), project.Pages[0].Panels[1].ID)
	require.NoError(t, err)
	assert.Equal(t, results[1].Value, onDisk)
}

func TestSessionResetsOnProjectChange(t *testing.T) {
	e, _ := newTestEvaluator(t)
	project := projectWith(literalCSV("a\n1"))
	_, err := e.EvaluatePanel(context.Background(), "first", project, 0, 0)
	require.NoError(t, err)
	_, ok := e.Session().Result(project.Pages[0].ID, 0)
	require.True(t, ok)

	other := projectWith(literalCSV("b\n2"))
	_, err = e.EvaluatePanel(context.Background(), "second", other, 0, 0)
	require.NoError(t, err)
	_, ok = e.Session().Result(project.Pages[0].ID, 0)
	assert.False(t, ok, "results of the previous project must be dropped")
}

func TestPagesHaveIndependentResults(t *testing.T) {
	e, _ := newTestEvaluator(t)
	project := state.DefaultProject("two")
	project.Pages = []state.Page{
		state.NewPage("a", literalCSV("x\n1")),
		state.NewPage("b", literalCSV("y\n2"), literalCSV("z\n3")),
	}
	_, err := e.EvaluatePage(context.Background(), "p", project, 1)
	require.NoError(t, err)
	assert.False(t, e.Session().Results(project.Pages[0].ID, 1)[0].Ran())
	assert.True(t, e.Session().Results(project.Pages[1].ID, 2)[1].Ran())
}

func TestYAMLLiteral(t *testing.T) {
	value, err := parseLiteral(state.LiteralYAML, "- name: a\n  n: 1\n")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "a", "n": float64(1)}}, value)
}

func TestHTTPPanel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`[{"id": 1}]`))
	}))
	t.Cleanup(ts.Close)

	e, _ := newTestEvaluator(t)
	panel := state.NewPanel(state.PanelHTTP)
	panel.HTTP.URL = ts.URL
	panel.HTTP.Headers = []state.HTTPHeader{{Name: "X-Test", Value: "yes"}}
	project := projectWith(panel, tableOf(0))

	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, results[0].Value)
	assert.Len(t, results[1].Value, 1)
}

func TestSQLPanelUsesConnector(t *testing.T) {
	e, st := newTestEvaluator(t)
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(st.Root(), "db.sqlite"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (v INTEGER); INSERT INTO t VALUES (7);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	connector := state.NewConnector(state.ConnectorSQL)
	connector.SQL.Type = state.SQLSQLite
	connector.SQL.Database = "db.sqlite"
	connector.SQL.Password = state.PlainSecret("unused")
	panel := state.NewPanel(state.PanelSQL)
	panel.SQL.ConnectorID = connector.ID
	panel.Content = "SELECT v FROM t"
	project := projectWith(panel)
	project.Connectors = []state.Connector{connector}

	saved, err := st.UpdateProject("sqlp", project)
	require.NoError(t, err)
	require.True(t, saved.Connectors[0].SQL.Password.Encrypted)

	result, err := e.EvaluatePanel(context.Background(), "sqlp", saved, 0, 0)
	require.NoError(t, err)
	rows := result.Value.([]map[string]any)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 7, rows[0]["v"])
}

func TestHandlersEvaluateThroughDispatch(t *testing.T) {
	e, st := newTestEvaluator(t)
	d := rpc.NewDispatcher()
	d.Register(st.Handlers()...)
	d.Register(e.Handlers()...)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, rpc.Request{Resource: ResourceEvalPanel, ProjectID: "demo", Body: json.RawMessage(`{"pageIndex":0,"panelIndex":1}`)}, true)
	var upstream *panelerr.UpstreamPanelError
	require.True(t, errors.As(err, &upstream), "graph before its source must fail, got %v", err)

	_, err = d.Dispatch(ctx, rpc.Request{Resource: ResourceEvalPanel, ProjectID: "demo", Body: json.RawMessage(`{"pageIndex":0,"panelIndex":0}`)}, true)
	require.NoError(t, err)
	got, err := d.Dispatch(ctx, rpc.Request{Resource: ResourceEvalPanel, ProjectID: "demo", Body: json.RawMessage(`{"pageIndex":0,"panelIndex":1}`)}, true)
	require.NoError(t, err)
	result := got.(PanelResult)
	assert.Equal(t, []map[string]any{{"x": "Phil", "y": "12"}, {"x": "James", "y": "17"}}, result.Value)

	got, err = d.Dispatch(ctx, rpc.Request{Resource: ResourceGetResults, ProjectID: "demo", Body: json.RawMessage(`{"pageIndex":0}`)}, true)
	require.NoError(t, err)
	slots := got.([]PanelResult)
	require.Len(t, slots, 2)
	assert.True(t, slots[1].Ran())

	got, err = d.Dispatch(ctx, rpc.Request{Resource: ResourceListLanguages}, true)
	require.NoError(t, err)
	langs := got.([]LanguageInfo)
	require.NotEmpty(t, langs)
	assert.Equal(t, "go", langs[0].ID)
	assert.True(t, langs[0].InProcess)
}

func TestFailedPanelClearsItsResultFile(t *testing.T) {
	e, st := newTestEvaluator(t)
	literal := state.NewPanel(state.PanelLiteral)
	literal.Literal.Type = state.LiteralJSON
	literal.Content = `[{"v":"old"}]`
	project := projectWith(
		literal,
		programPanel("javascript", "DM_getPanel(0)"),
		programPanel("shell", `rows=$(DM_getPanel 0) || exit 1
DM_setPanel "$rows"`),
		tableOf(0),
	)

	results, err := e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	for i, r := range results {
		require.Nil(t, r.Exception, "panel %d: %+v", i, r.Exception)
	}

	project.Pages[0].Panels[0].Content = "{"
	results, err = e.EvaluatePage(context.Background(), "p", project, 0)
	require.NoError(t, err)
	require.NotNil(t, results[0].Exception)
	_, err = store.ReadResult(st.ResultsPrefix("p"), project.Pages[0].Panels[0].ID)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "stale result must be removed, got %v", err)
	for i := 1; i < len(results); i++ {
		require.NotNil(t, results[i].Exception, "panel %d must not read the stale value", i)
		assert.Equal(t, "InvalidDependentPanelError", results[i].Exception.Name, "panel %d", i)
		assert.Equal(t, 0, results[i].Exception.Fields["panelIndex"], "panel %d", i)
	}
}

func TestNilPayloadIsAnErrorNotAPanic(t *testing.T) {
	e, _ := newTestEvaluator(t)
	panel := state.NewPanel(state.PanelLiteral)
	panel.Literal = nil
	project := projectWith(panel)

	_, err := e.EvaluatePanel(context.Background(), "p", project, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no literal settings")
}
