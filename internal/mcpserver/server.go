// Package mcpserver exposes the RPC resources as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kingrea/datastation/internal/eval"
	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/store"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Tools holds what the tool handlers need.
type Tools struct {
	Dispatcher *rpc.Dispatcher
}

type ProjectInput struct {
	Project string `json:"project" jsonschema:"Project id, the .dsproj file name relative to the data root"`
}

type EvalPanelInput struct {
	Project    string `json:"project" jsonschema:"Project id"`
	PageIndex  int    `json:"pageIndex,omitempty" jsonschema:"Zero-based page index"`
	PanelIndex int    `json:"panelIndex,omitempty" jsonschema:"Zero-based panel index within the page"`
	PanelID    string `json:"panelId,omitempty" jsonschema:"Panel id, overrides panelIndex"`
}

type ResultsInput struct {
	Project   string `json:"project" jsonschema:"Project id"`
	PageIndex int    `json:"pageIndex,omitempty" jsonschema:"Zero-based page index"`
}

type EmptyInput struct{}

// New creates an MCP server with every tool registered.
func New(d *rpc.Dispatcher) *mcp.Server {
	t := &Tools{Dispatcher: d}
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "datastation",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_project",
		Description: "Read a project with its secrets redacted, creating the default project if the file is empty",
	}, t.GetProject)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "eval_panel",
		Description: "Evaluate one panel and return its value, stdout and any exception",
	}, t.EvalPanel)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_results",
		Description: "Return the last result of every panel on a page",
	}, t.GetResults)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_languages",
		Description: "List program panel languages and whether they run in-process",
	}, t.ListLanguages)
	return srv
}

// Run serves the tools on stdin/stdout until ctx is done.
func Run(ctx context.Context, d *rpc.Dispatcher) error {
	return New(d).Run(ctx, &mcp.StdioTransport{})
}

func (t *Tools) GetProject(ctx context.Context, _ *mcp.CallToolRequest, in ProjectInput) (*mcp.CallToolResult, any, error) {
	if in.Project == "" {
		return toolError("project is required"), nil, nil
	}
	return t.dispatch(ctx, store.ResourceGetProject, in.Project, nil)
}

func (t *Tools) EvalPanel(ctx context.Context, _ *mcp.CallToolRequest, in EvalPanelInput) (*mcp.CallToolResult, any, error) {
	if in.Project == "" {
		return toolError("project is required"), nil, nil
	}
	ref := eval.PanelRef{PageIndex: in.PageIndex, PanelIndex: in.PanelIndex, PanelID: in.PanelID}
	return t.dispatch(ctx, eval.ResourceEvalPanel, in.Project, ref)
}

func (t *Tools) GetResults(ctx context.Context, _ *mcp.CallToolRequest, in ResultsInput) (*mcp.CallToolResult, any, error) {
	if in.Project == "" {
		return toolError("project is required"), nil, nil
	}
	return t.dispatch(ctx, eval.ResourceGetResults, in.Project, eval.PanelRef{PageIndex: in.PageIndex})
}

func (t *Tools) ListLanguages(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return t.dispatch(ctx, eval.ResourceListLanguages, "", nil)
}

// dispatch crosses the same boundary as the HTTP transport, so internal
// resources stay unreachable and projects come back redacted.
func (t *Tools) dispatch(ctx context.Context, resource, projectID string, body any) (*mcp.CallToolResult, any, error) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return toolError("encode %s: %v", resource, err), nil, nil
		}
		raw = data
	}
	got, err := t.Dispatcher.Dispatch(ctx, rpc.Request{Resource: resource, ProjectID: projectID, Body: raw}, true)
	if err != nil {
		data, _ := json.Marshal(rpc.ErrorBody(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
			IsError: true,
		}, nil, nil
	}
	return jsonResult(got)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("encode result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
