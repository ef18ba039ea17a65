package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/secret"
	"github.com/kingrea/datastation/internal/state"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	root := t.TempDir()
	box, err := secret.LoadOrCreate(filepath.Join(root, ".datastation", "secret.key"))
	require.NoError(t, err)
	return New(root, NewWriter(time.Hour), box, opts...)
}

func readDisk(t *testing.T, s *Store, id string) *state.Project {
	t.Helper()
	require.NoError(t, s.Writer().FlushAll())
	path, err := s.ProjectPath(id)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var p state.Project
	require.NoError(t, json.Unmarshal(data, &p))
	return &p
}

func TestResultsPrefix(t *testing.T) {
	assert.Equal(t, filepath.Join("/r", ".sales.results"), ResultsPrefix("/r", "sales.dsproj"))
	assert.Equal(t, filepath.Join("/r", ".sales.results"), ResultsPrefix("/r", "sales"))
}

func TestResultRoundTripAndPrune(t *testing.T) {
	prefix := ResultsPrefix(t.TempDir(), "p")
	live, gone := state.NewID(), state.NewID()
	require.NoError(t, WriteResult(prefix, live, []int{1}))
	require.NoError(t, WriteResult(prefix, gone, "x"))

	value, err := ReadResult(prefix, live)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1)}, value)

	removed, err := PruneResults(prefix, []string{live}, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = ReadResult(prefix, gone)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	removed, err = PruneResults(prefix, []string{live}, time.Minute, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPruneLeavesSiblingProjectResults(t *testing.T) {
	root := t.TempDir()
	own := ResultsPrefix(root, "a")
	sibling := ResultsPrefix(root, "a.results")
	siblingPanel := state.NewID()
	require.NoError(t, WriteResult(sibling, siblingPanel, "theirs"))

	removed, err := PruneResults(own, nil, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	value, err := ReadResult(sibling, siblingPanel)
	require.NoError(t, err)
	assert.Equal(t, "theirs", value)
}

func TestRemoveResultIgnoresMissing(t *testing.T) {
	prefix := ResultsPrefix(t.TempDir(), "p")
	id := state.NewID()
	require.NoError(t, RemoveResult(prefix, id))
	require.NoError(t, WriteResult(prefix, id, 1))
	require.NoError(t, RemoveResult(prefix, id))
	_, err := ReadResult(prefix, id)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestEnsureProjectFile(t *testing.T) {
	s := newTestStore(t)
	path, err := s.EnsureProjectFile("demo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "demo.dsproj"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	same, err := s.EnsureProjectFile("demo.dsproj")
	require.NoError(t, err)
	assert.Equal(t, path, same)
}

func TestGetProjectMaterializesDefault(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetProject("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", p.ProjectName)
	require.Len(t, p.Pages, 1)

	again, err := s.GetProject("fresh")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID, "second load must see the buffered document")
}

func TestGetProjectCorruptFile(t *testing.T) {
	s := newTestStore(t)
	path, err := s.ProjectPath("broken")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = s.GetProject("broken")
	var persistence *PersistenceError
	require.True(t, errors.As(err, &persistence), "got %v", err)
	assert.Equal(t, "PersistenceError", persistence.Name())
}

func TestSecretRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetProject("secrets")
	require.NoError(t, err)
	conn := state.NewConnector(state.ConnectorSQL)
	conn.SQL.Password = state.PlainSecret("hunter2")
	p.Connectors = append(p.Connectors, conn)

	_, err = s.UpdateProject("secrets", p)
	require.NoError(t, err)
	first := readDisk(t, s, "secrets").Connectors[0].SQL.Password
	require.True(t, first.Encrypted)
	require.NotEqual(t, "hunter2", first.String())
	plain, err := s.DecryptSecret(first)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	unchanged, err := readDisk(t, s, "secrets").Redacted()
	require.NoError(t, err)
	_, err = s.UpdateProject("secrets", unchanged)
	require.NoError(t, err)
	assert.Equal(t, first.String(), readDisk(t, s, "secrets").Connectors[0].SQL.Password.String())

	next := readDisk(t, s, "secrets")
	next.Connectors[0].SQL.Password = state.PlainSecret("hunter3")
	_, err = s.UpdateProject("secrets", next)
	require.NoError(t, err)
	rotated := readDisk(t, s, "secrets").Connectors[0].SQL.Password
	assert.True(t, rotated.Encrypted)
	assert.NotEqual(t, first.String(), rotated.String())
}

func TestEncryptedSecretPassesThrough(t *testing.T) {
	s := newTestStore(t)
	p := state.DefaultProject("x")
	panel := state.NewPanel(state.PanelSQL)
	cipher := "already-sealed"
	panel.SQL.Password = state.Secret{Value: &cipher, Encrypted: true}
	p.Pages[0].Panels = append(p.Pages[0].Panels, panel)

	_, err := s.MakeProject("x", p)
	require.NoError(t, err)
	stored := readDisk(t, s, "x").Pages[0].Panels[2].SQL.Password
	assert.Equal(t, "already-sealed", stored.String())
}

func TestGetProjectPrunesStaleResults(t *testing.T) {
	s := newTestStore(t, WithRetention(time.Hour))
	p, err := s.GetProject("pruned")
	require.NoError(t, err)
	prefix := s.ResultsPrefix("pruned")
	require.NoError(t, WriteResult(prefix, p.Pages[0].Panels[0].ID, "keep"))
	orphan := state.NewID()
	require.NoError(t, WriteResult(prefix, orphan, "drop"))

	_, err = s.GetProject("pruned")
	require.NoError(t, err)
	_, err = ReadResult(prefix, p.Pages[0].Panels[0].ID)
	assert.NoError(t, err)
	_, err = ReadResult(prefix, orphan)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestHandlersRedactExternally(t *testing.T) {
	s := newTestStore(t)
	d := rpc.NewDispatcher()
	d.Register(s.Handlers()...)

	p := state.DefaultProject("h")
	conn := state.NewConnector(state.ConnectorSQL)
	conn.SQL.Password = state.PlainSecret("pw")
	p.Connectors = append(p.Connectors, conn)
	body, err := json.Marshal(p)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), rpc.Request{Resource: ResourceUpdateProject, ProjectID: "h", Body: body}, true)
	require.NoError(t, err)

	external, err := d.Dispatch(context.Background(), rpc.Request{Resource: ResourceGetProject, ProjectID: "h"}, true)
	require.NoError(t, err)
	assert.Nil(t, external.(*state.Project).Connectors[0].SQL.Password.Value)

	internal, err := d.Dispatch(context.Background(), rpc.Request{Resource: ResourceGetProject, ProjectID: "h"}, false)
	require.NoError(t, err)
	assert.NotNil(t, internal.(*state.Project).Connectors[0].SQL.Password.Value)
}

func TestUpdateProjectRequiresBody(t *testing.T) {
	s := newTestStore(t)
	d := rpc.NewDispatcher()
	d.Register(s.Handlers()...)
	_, err := d.Dispatch(context.Background(), rpc.Request{Resource: ResourceUpdateProject, ProjectID: "h"}, true)
	var bad *rpc.BadRequestError
	assert.True(t, errors.As(err, &bad), "got %v", err)
}
