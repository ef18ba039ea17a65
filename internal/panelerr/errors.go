// Package panelerr holds the typed failures a panel evaluation can produce.
// Each type reports a stable Name so the RPC boundary can preserve its kind.
package panelerr

import (
	"errors"
	"fmt"
)

// Named is implemented by errors that keep their kind across the transport.
type Named interface {
	error
	Name() string
}

// Fielded errors contribute extra JSON fields to the transport error body.
type Fielded interface {
	Fields() map[string]any
}

// UpstreamPanelError means an earlier panel the current one depends on failed
// or has no usable result.
type UpstreamPanelError struct {
	Index   int
	PanelID string
}

func (e *UpstreamPanelError) Error() string {
	return fmt.Sprintf("panel %d must be evaluated first or is in error", e.Index)
}

func (e *UpstreamPanelError) Name() string { return "InvalidDependentPanelError" }

func (e *UpstreamPanelError) Fields() map[string]any {
	return map[string]any{"panelIndex": e.Index}
}

// NoResultError means the program exited cleanly without writing a result.
type NoResultError struct {
	PanelID string
}

func (e *NoResultError) Error() string {
	return "program did not produce a result; call DM_setPanel with the value to return"
}

func (e *NoResultError) Name() string { return "NoResultError" }

// ExecutionError is a non-zero exit or runtime failure of a program.
type ExecutionError struct {
	Message  string
	ExitCode int
	Stdout   string
}

func (e *ExecutionError) Error() string { return e.Message }

func (e *ExecutionError) Name() string { return "ExecutionError" }

func (e *ExecutionError) Fields() map[string]any {
	return map[string]any{"exitCode": e.ExitCode, "stdout": e.Stdout}
}

// InvalidPanelSourceError is a table or graph reading a panel that is not
// strictly before it on the page.
type InvalidPanelSourceError struct {
	Index  int
	Source int
}

func (e *InvalidPanelSourceError) Error() string {
	return fmt.Sprintf("panel %d reads panel %d; a panel may only read earlier panels", e.Index, e.Source)
}

func (e *InvalidPanelSourceError) Name() string { return "InvalidPanelSourceError" }

// NameOf returns the kind of err, falling back to "Error".
func NameOf(err error) string {
	var named Named
	if errors.As(err, &named) {
		return named.Name()
	}
	return "Error"
}

// FieldsOf returns extra transport fields of err, if any.
func FieldsOf(err error) map[string]any {
	var fielded Fielded
	if errors.As(err, &fielded) {
		return fielded.Fields()
	}
	return nil
}
