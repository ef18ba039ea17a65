package store

import (
	"errors"

	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/state"
)

// Resource names served by the store.
const (
	ResourceGetProject    = "getProject"
	ResourceMakeProject   = "makeProject"
	ResourceUpdateProject = "updateProject"
)

var errEmptyProject = errors.New("project body is required")

// Handlers returns the project CRUD handlers.
func (s *Store) Handlers() []rpc.Handler {
	return []rpc.Handler{
		{Resource: ResourceGetProject, Handle: s.handleGetProject},
		{Resource: ResourceMakeProject, Handle: s.handleMakeProject},
		{Resource: ResourceUpdateProject, Handle: s.handleUpdateProject},
	}
}

// handleGetProject hides secret values from callers outside the process.
func (s *Store) handleGetProject(call *rpc.Call) (any, error) {
	project, err := s.GetProject(call.ProjectID)
	if err != nil {
		return nil, err
	}
	if call.External {
		return project.Redacted()
	}
	return project, nil
}

func (s *Store) handleMakeProject(call *rpc.Call) (any, error) {
	var project *state.Project
	if len(call.Body) > 0 && string(call.Body) != "null" {
		project = &state.Project{}
		if err := call.Decode(project); err != nil {
			return nil, err
		}
	}
	made, err := s.MakeProject(call.ProjectID, project)
	if err != nil {
		return nil, err
	}
	return made.Redacted()
}

func (s *Store) handleUpdateProject(call *rpc.Call) (any, error) {
	if len(call.Body) == 0 || string(call.Body) == "null" {
		return nil, &rpc.BadRequestError{Resource: call.Resource, Err: errEmptyProject}
	}
	var project state.Project
	if err := call.Decode(&project); err != nil {
		return nil, err
	}
	updated, err := s.UpdateProject(call.ProjectID, &project)
	if err != nil {
		return nil, err
	}
	return updated.Redacted()
}
