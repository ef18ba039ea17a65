package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kingrea/datastation/internal/config"
	"github.com/kingrea/datastation/internal/secret"
	"github.com/kingrea/datastation/internal/state"
)

// PersistenceError means a project file exists but cannot be used.
type PersistenceError struct {
	ProjectID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("project %s could not be loaded: %v", e.ProjectID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Name() string { return "PersistenceError" }

// Store reads and writes project documents under one root directory.
type Store struct {
	root      string
	writer    *Writer
	crypt     secret.Encrypter
	logger    Logger
	retention time.Duration
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetention enables pruning of result files older than d on load.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

// WithClock allows tests to control the pruning clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// New builds a Store rooted at root. writer buffers project writes and crypt
// seals secret fields.
func New(root string, writer *Writer, crypt secret.Encrypter, opts ...Option) *Store {
	if writer == nil {
		writer = NewWriter(DefaultSyncPeriod)
	}
	s := &Store{
		root:   root,
		writer: writer,
		crypt:  crypt,
		logger: nopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Root returns the directory holding project files.
func (s *Store) Root() string { return s.root }

// Writer returns the write buffer so shutdown can flush it.
func (s *Store) Writer() *Writer { return s.writer }

// Encrypter returns the secret sealer, used to open secrets before use.
func (s *Store) Encrypter() secret.Encrypter { return s.crypt }

// ResultsPrefix returns the result file prefix for a project.
func (s *Store) ResultsPrefix(projectID string) string {
	return ResultsPrefix(s.root, projectID)
}

// ProjectPath resolves a project id to its file. Ids already ending in the
// project extension are used as given; others get the extension appended.
func (s *Store) ProjectPath(projectID string) (string, error) {
	id := strings.TrimSpace(projectID)
	if id == "" {
		return "", fmt.Errorf("store: project id is required")
	}
	if !strings.HasSuffix(id, "."+config.ProjectExtension) {
		id += "." + config.ProjectExtension
	}
	if filepath.IsAbs(id) {
		return filepath.Clean(id), nil
	}
	return filepath.Join(s.root, id), nil
}

// EnsureProjectFile resolves the project path and creates an empty file
// there when nothing exists yet.
func (s *Store) EnsureProjectFile(projectID string) (string, error) {
	path, err := s.ProjectPath(projectID)
	if err != nil {
		return "", err
	}
	exists, err := fileExists(path)
	if err != nil {
		return "", fmt.Errorf("store: stat %s: %w", path, err)
	}
	if exists || s.isPending(path) {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("store: create project dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return "", fmt.Errorf("store: create %s: %w", path, err)
	}
	return path, nil
}

func (s *Store) isPending(path string) bool {
	for _, name := range s.writer.Pending() {
		if name == path {
			return true
		}
	}
	return false
}

// GetProject loads a project, materializing the default project when the
// file is new or empty.
func (s *Store) GetProject(projectID string) (*state.Project, error) {
	path, err := s.EnsureProjectFile(projectID)
	if err != nil {
		return nil, err
	}
	data, err := s.writer.Read(path)
	if err != nil {
		s.logger.Printf("store: read %s: %v", path, err)
		return nil, &PersistenceError{ProjectID: projectID, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		name := strings.TrimSuffix(filepath.Base(path), "."+config.ProjectExtension)
		return s.MakeProject(projectID, state.DefaultProject(name))
	}
	var project state.Project
	if err := json.Unmarshal(data, &project); err != nil {
		s.logger.Printf("store: parse %s: %v", path, err)
		return nil, &PersistenceError{ProjectID: projectID, Err: err}
	}
	project.Normalize()
	s.prune(projectID, &project)
	return &project, nil
}

// MakeProject writes project as a new document, encrypting any plaintext
// secrets it carries.
func (s *Store) MakeProject(projectID string, project *state.Project) (*state.Project, error) {
	path, err := s.ProjectPath(projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		project = state.DefaultProject(strings.TrimSuffix(filepath.Base(path), "."+config.ProjectExtension))
	}
	project.Normalize()
	if err := s.resolveSecrets(project, nil); err != nil {
		return nil, err
	}
	if err := s.write(path, project); err != nil {
		return nil, err
	}
	return project, nil
}

// UpdateProject replaces the stored document with project. Secrets sent
// without a value keep the stored ciphertext; new plaintext is encrypted.
func (s *Store) UpdateProject(projectID string, project *state.Project) (*state.Project, error) {
	if project == nil {
		return nil, fmt.Errorf("store: project is required")
	}
	path, err := s.EnsureProjectFile(projectID)
	if err != nil {
		return nil, err
	}
	var existing *state.Project
	if data, err := s.writer.Read(path); err == nil && len(bytes.TrimSpace(data)) > 0 {
		var stored state.Project
		if err := json.Unmarshal(data, &stored); err != nil {
			s.logger.Printf("store: existing %s unreadable, secrets will not carry over: %v", path, err)
		} else {
			existing = &stored
		}
	}
	project.Normalize()
	if err := s.resolveSecrets(project, existing); err != nil {
		return nil, err
	}
	if err := s.write(path, project); err != nil {
		return nil, err
	}
	return project, nil
}

// DecryptSecret returns the cleartext of a stored secret.
func (s *Store) DecryptSecret(sec state.Secret) (string, error) {
	if sec.Value == nil {
		return "", nil
	}
	if !sec.Encrypted {
		return *sec.Value, nil
	}
	if s.crypt == nil {
		return "", fmt.Errorf("store: no encryption key configured")
	}
	return s.crypt.Decrypt(*sec.Value)
}

func (s *Store) resolveSecrets(project, existing *state.Project) error {
	for _, field := range project.Secrets() {
		sec := field.Secret
		switch {
		case sec.Value == nil:
			if prev := existing.SecretAt(field.Path); prev != nil {
				*sec = *prev
			}
		case !sec.Encrypted:
			if s.crypt == nil {
				return fmt.Errorf("store: no encryption key configured for %s", field.Path)
			}
			sealed, err := s.crypt.Encrypt(*sec.Value)
			if err != nil {
				return fmt.Errorf("store: encrypt %s: %w", field.Path, err)
			}
			sec.Value = &sealed
			sec.Encrypted = true
		}
	}
	return nil
}

func (s *Store) write(path string, project *state.Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode project: %w", err)
	}
	return s.writer.Write(path, data)
}

func (s *Store) prune(projectID string, project *state.Project) {
	if s.retention <= 0 {
		return
	}
	removed, err := PruneResults(s.ResultsPrefix(projectID), project.PanelIDs(), s.retention, s.now())
	if err != nil {
		s.logger.Printf("store: prune results for %s: %v", projectID, err)
	}
	if removed > 0 {
		s.logger.Printf("store: pruned %d stale result files for %s", removed, projectID)
	}
}
