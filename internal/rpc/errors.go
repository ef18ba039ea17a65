package rpc

import (
	"fmt"

	"github.com/kingrea/datastation/internal/panelerr"
)

// DispatchError means no handler serves the resource for this caller.
type DispatchError struct {
	Resource string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("no handler for resource %q", e.Resource)
}

func (e *DispatchError) Name() string { return "DispatchError" }

// BadRequestError wraps a body that does not decode.
type BadRequestError struct {
	Resource string
	Err      error
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("invalid body for %s: %v", e.Resource, e.Err)
}

func (e *BadRequestError) Unwrap() error { return e.Err }

func (e *BadRequestError) Name() string { return "BadRequestError" }

// ErrorBody is the JSON shape of a failed call. Typed errors keep their name.
func ErrorBody(err error) map[string]any {
	body := map[string]any{}
	for k, v := range panelerr.FieldsOf(err) {
		body[k] = v
	}
	body["name"] = panelerr.NameOf(err)
	body["message"] = err.Error()
	return body
}
