package eval

import (
	"fmt"

	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/state"
	"github.com/kingrea/datastation/internal/store"
)

// Resource names served by the evaluator.
const (
	ResourceEvalPanel     = "evalPanel"
	ResourceGetResults    = "getResults"
	ResourceListLanguages = "listLanguages"
)

// PanelRef locates a panel by id or, when ids are empty, by position.
type PanelRef struct {
	PageID     string `json:"pageId,omitempty"`
	PageIndex  int    `json:"pageIndex"`
	PanelID    string `json:"panelId,omitempty"`
	PanelIndex int    `json:"panelIndex"`
}

// Resolve returns the page and panel indexes ref points at.
func (ref PanelRef) Resolve(project *state.Project) (int, int, error) {
	pageIndex := ref.PageIndex
	if ref.PageID != "" {
		_, idx, ok := project.PageByID(ref.PageID)
		if !ok {
			return 0, 0, fmt.Errorf("eval: page %q not found", ref.PageID)
		}
		pageIndex = idx
	}
	page, err := project.Page(pageIndex)
	if err != nil {
		return 0, 0, err
	}
	panelIndex := ref.PanelIndex
	if ref.PanelID != "" {
		panelIndex = -1
		for i, panel := range page.Panels {
			if panel.ID == ref.PanelID {
				panelIndex = i
				break
			}
		}
		if panelIndex < 0 {
			return 0, 0, fmt.Errorf("eval: panel %q not found", ref.PanelID)
		}
	}
	if _, err := page.Panel(panelIndex); err != nil {
		return 0, 0, err
	}
	return pageIndex, panelIndex, nil
}

// LanguageInfo describes one program language to clients.
type LanguageInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	InProcess bool   `json:"inProcess"`
	Path      string `json:"path,omitempty"`
}

// Handlers returns the evaluation handlers. They read projects by
// dispatching getProject, so the store handlers must be registered too.
func (e *Evaluator) Handlers() []rpc.Handler {
	return []rpc.Handler{
		{Resource: ResourceEvalPanel, Handle: e.handleEvalPanel},
		{Resource: ResourceGetResults, Handle: e.handleGetResults},
		{Resource: ResourceListLanguages, Handle: e.handleListLanguages},
	}
}

func loadProject(call *rpc.Call) (*state.Project, error) {
	got, err := call.Dispatch(store.ResourceGetProject, nil)
	if err != nil {
		return nil, err
	}
	project, ok := got.(*state.Project)
	if !ok || project == nil {
		return nil, fmt.Errorf("eval: project %s unavailable", call.ProjectID)
	}
	return project, nil
}

func (e *Evaluator) handleEvalPanel(call *rpc.Call) (any, error) {
	var ref PanelRef
	if err := call.Decode(&ref); err != nil {
		return nil, err
	}
	project, err := loadProject(call)
	if err != nil {
		return nil, err
	}
	pageIndex, panelIndex, err := ref.Resolve(project)
	if err != nil {
		return nil, err
	}
	result, err := e.EvaluatePanel(call.Context, call.ProjectID, project, pageIndex, panelIndex)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Evaluator) handleGetResults(call *rpc.Call) (any, error) {
	var ref PanelRef
	if err := call.Decode(&ref); err != nil {
		return nil, err
	}
	project, err := loadProject(call)
	if err != nil {
		return nil, err
	}
	pageIndex := ref.PageIndex
	if ref.PageID != "" {
		_, idx, ok := project.PageByID(ref.PageID)
		if !ok {
			return nil, fmt.Errorf("eval: page %q not found", ref.PageID)
		}
		pageIndex = idx
	}
	page, err := project.Page(pageIndex)
	if err != nil {
		return nil, err
	}
	e.session.Use(call.ProjectID)
	return e.session.Results(page.ID, len(page.Panels)), nil
}

func (e *Evaluator) handleListLanguages(*rpc.Call) (any, error) {
	langs := e.Languages().All()
	out := make([]LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageInfo{
			ID:        l.ID,
			Name:      l.Name,
			InProcess: l.InProcess(),
			Path:      e.executor.InterpreterPath(l),
		})
	}
	return out, nil
}
