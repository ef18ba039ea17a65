package eval

import (
	"sync"
	"time"

	"github.com/kingrea/datastation/internal/panelerr"
)

// ErrorInfo is the serializable form of a panel failure.
type ErrorInfo struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// PanelResult is the last outcome of one panel. It lives only in memory.
type PanelResult struct {
	Value     any           `json:"value"`
	Stdout    string        `json:"stdout,omitempty"`
	LastRun   time.Time     `json:"lastRun"`
	Elapsed   time.Duration `json:"elapsed"`
	Exception *ErrorInfo    `json:"exception,omitempty"`

	err error
}

// Err returns the failure that produced this result, if any.
func (r PanelResult) Err() error { return r.err }

// Ran reports whether the slot holds an evaluation at all.
func (r PanelResult) Ran() bool { return !r.LastRun.IsZero() }

func failure(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Name:    panelerr.NameOf(err),
		Message: err.Error(),
		Fields:  panelerr.FieldsOf(err),
	}
}

// Session caches panel results per page for the active project. Switching to
// another project drops everything.
type Session struct {
	mu        sync.RWMutex
	projectID string
	pages     map[string][]PanelResult
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{pages: map[string][]PanelResult{}}
}

// Use makes projectID the active project, clearing results on change.
func (s *Session) Use(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID == projectID {
		return
	}
	s.projectID = projectID
	s.pages = map[string][]PanelResult{}
}

// ProjectID returns the active project.
func (s *Session) ProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectID
}

// Results returns a copy of the page's result slots, sized to panels.
func (s *Session) Results(pageID string, panels int) []PanelResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PanelResult, panels)
	copy(out, s.pages[pageID])
	return out
}

// Result returns the slot at index on the page.
func (s *Session) Result(pageID string, index int) (PanelResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.pages[pageID]
	if index < 0 || index >= len(results) || !results[index].Ran() {
		return PanelResult{}, false
	}
	return results[index], true
}

func (s *Session) record(pageID string, index int, result PanelResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.pages[pageID]
	if index >= len(results) {
		grown := make([]PanelResult, index+1)
		copy(grown, results)
		results = grown
	}
	results[index] = result
	s.pages[pageID] = results
}
