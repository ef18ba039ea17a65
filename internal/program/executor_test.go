package program

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/datastation/internal/language"
	"github.com/kingrea/datastation/internal/panelerr"
)

type fixture struct {
	tmp      string
	executor *Executor
	ec       language.EvalContext
	upstream string
}

func newFixture(t *testing.T, settings Settings) fixture {
	t.Helper()
	root := t.TempDir()
	tmp := t.TempDir()
	settings.TempDir = tmp
	upstream := uuid.NewString()
	current := uuid.NewString()
	return fixture{
		tmp:      tmp,
		executor: NewExecutor(language.Default(), settings),
		upstream: upstream,
		ec: language.EvalContext{
			ResultsPrefix: filepath.Join(root, ".proj.results"),
			PanelID:       current,
			IndexIDs:      []string{upstream, current},
		},
	}
}

func (f fixture) run(t *testing.T, lang, content string) (Result, error) {
	t.Helper()
	return f.executor.Evaluate(context.Background(), Request{Language: lang, Content: content, Context: f.ec})
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected no leftover scripts in %s", dir)
}

func TestInProcessNeverSpawns(t *testing.T) {
	f := newFixture(t, Settings{})
	res, err := f.run(t, "javascript", "42")
	require.NoError(t, err)
	assert.Equal(t, float64(42), res.Value)
	assert.Equal(t, "", res.Stdout)
	assert.False(t, res.Spawned)
	assertDirEmpty(t, f.tmp)
}

func TestInProcessRuntimeErrorIsExecutionError(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "javascript", "throw new Error('nope')")
	var execErr *panelerr.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Contains(t, execErr.Message, "nope")
}

func TestExternalResultMatchesFile(t *testing.T) {
	f := newFixture(t, Settings{})
	res, err := f.run(t, "shell", `echo working
DM_setPanel '{"rows":[1,2]}'`)
	require.NoError(t, err)
	assert.True(t, res.Spawned)
	assert.Equal(t, map[string]any{"rows": []any{float64(1), float64(2)}}, res.Value)
	assert.Equal(t, "working\n", res.Stdout)

	onDisk, err := os.ReadFile(f.ec.ResultsPrefix + f.ec.PanelID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[1,2]}`, string(onDisk))
	assertDirEmpty(t, f.tmp)
}

func TestExternalReadsEarlierPanel(t *testing.T) {
	f := newFixture(t, Settings{})
	require.NoError(t, os.WriteFile(f.ec.ResultsPrefix+f.upstream, []byte(`[3]`), 0o644))
	res, err := f.run(t, "shell", `x=$(DM_getPanel 0) || exit 1
DM_setPanel "$x"`)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(3)}, res.Value)
}

func TestMissingUpstreamUsesEnvelope(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", `x=$(DM_getPanel 0) || exit 1
DM_setPanel "$x"`)
	var upstream *panelerr.UpstreamPanelError
	require.True(t, errors.As(err, &upstream), "got %v", err)
	assert.Equal(t, 0, upstream.Index)
	assert.Equal(t, f.upstream, upstream.PanelID)
}

func TestUpstreamFromResultPathInMessage(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", `echo "open $DM_PREFIX`+f.upstream+`: no such file or directory" >&2
exit 1`)
	var upstream *panelerr.UpstreamPanelError
	require.True(t, errors.As(err, &upstream), "got %v", err)
	assert.Equal(t, 0, upstream.Index)
	assert.NotContains(t, err.Error(), "no such file")
}

func TestOwnResultPathIsNotUpstream(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", `echo "cannot write $DM_PREFIX$DM_PANEL_ID" >&2
exit 3`)
	var execErr *panelerr.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, 3, execErr.ExitCode)
}

func TestNonZeroExitIsExecutionError(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", `echo partial
echo boom >&2
exit 1`)
	var execErr *panelerr.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, "boom", execErr.Message)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Contains(t, execErr.Stdout, "partial")
	assertDirEmpty(t, f.tmp)
}

func TestExecutionErrorHidesScriptPath(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", "definitely_not_a_command_dm")
	var execErr *panelerr.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Contains(t, execErr.Message, "definitely_not_a_command_dm")
	assert.NotContains(t, execErr.Message, f.tmp)
}

func TestNoResultError(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "shell", "true")
	var noResult *panelerr.NoResultError
	require.True(t, errors.As(err, &noResult), "got %v", err)
}

func TestStaleResultIsNotReused(t *testing.T) {
	f := newFixture(t, Settings{})
	require.NoError(t, os.WriteFile(f.ec.ResultsPrefix+f.ec.PanelID, []byte(`"old"`), 0o644))
	_, err := f.run(t, "shell", "true")
	var noResult *panelerr.NoResultError
	assert.True(t, errors.As(err, &noResult), "got %v", err)
}

func TestOutputIsTruncatedOnce(t *testing.T) {
	f := newFixture(t, Settings{StdoutMaxSize: 25})
	res, err := f.run(t, "shell", `i=0
while [ $i -lt 50 ]; do echo 0123456789; echo err >&2; i=$((i+1)); done
DM_setPanel 1`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stdout, TruncatedMarker))
	assert.Equal(t, 1, strings.Count(res.Stdout, TruncatedMarker))
	assert.LessOrEqual(t, len(strings.TrimSuffix(res.Stdout, TruncatedMarker)), 25)
	assert.Equal(t, float64(1), res.Value)
}

func TestInProcessOutputSharesCap(t *testing.T) {
	f := newFixture(t, Settings{StdoutMaxSize: 25})
	res, err := f.run(t, "javascript", `for (var i = 0; i < 50; i++) { console.log("0123456789"); }
DM_setPanel(1);`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stdout, TruncatedMarker))
	assert.Equal(t, 1, strings.Count(res.Stdout, TruncatedMarker))
	assert.LessOrEqual(t, len(strings.TrimSuffix(res.Stdout, TruncatedMarker)), 25)
	assert.Equal(t, float64(1), res.Value)
}

func TestTimeoutStopsProgram(t *testing.T) {
	f := newFixture(t, Settings{Timeout: 100 * time.Millisecond})
	started := time.Now()
	_, err := f.run(t, "shell", "exec sleep 5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program stopped")
	assert.Less(t, time.Since(started), 4*time.Second)
}

type staticPaths map[string]string

func (p staticPaths) LanguagePath(id string) string { return p[id] }

func TestInterpreterOverride(t *testing.T) {
	f := newFixture(t, Settings{})
	f.executor = NewExecutor(language.Default(), Settings{TempDir: f.tmp}, WithPaths(staticPaths{"shell": "/does/not/exist"}))
	_, err := f.run(t, "shell", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/does/not/exist")
}

func TestUnknownLanguage(t *testing.T) {
	f := newFixture(t, Settings{})
	_, err := f.run(t, "cobol", "")
	require.Error(t, err)
}

func TestCappedBufferAcrossWrites(t *testing.T) {
	b := newCappedBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	_, _ = b.Write([]byte("hij"))
	assert.Equal(t, "abcde"+TruncatedMarker, b.String())
	assert.True(t, b.Truncated())
}
