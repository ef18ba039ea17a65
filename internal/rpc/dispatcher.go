// Package rpc routes resource-named requests to handlers. Handlers receive a
// Call that can dispatch further resources on the same registry.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Request is one RPC invocation as it arrives at the transport.
type Request struct {
	Resource  string          `json:"resource"`
	ProjectID string          `json:"projectId"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// HandlerFunc serves a single resource.
type HandlerFunc func(call *Call) (any, error)

// Handler binds a resource name to its implementation. Internal handlers are
// only reachable through Call.Dispatch, never from the transport.
type Handler struct {
	Resource string
	Internal bool
	Handle   HandlerFunc
}

// Call carries one invocation into a handler.
type Call struct {
	Context   context.Context
	Resource  string
	ProjectID string
	Body      json.RawMessage
	// External is true only for the top-level call that crossed the
	// process boundary.
	External bool

	dispatcher *Dispatcher
}

// Decode unmarshals the request body into v. An empty body leaves v as is.
func (c *Call) Decode(v any) error {
	if len(c.Body) == 0 || string(c.Body) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Body, v); err != nil {
		return &BadRequestError{Resource: c.Resource, Err: err}
	}
	return nil
}

// Dispatch invokes another resource as an internal call on the same project.
func (c *Call) Dispatch(resource string, body any) (any, error) {
	raw, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return c.dispatcher.Dispatch(c.Context, Request{Resource: resource, ProjectID: c.ProjectID, Body: raw}, false)
}

// Logger is the Printf-style logger accepted across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Dispatcher is an ordered handler registry. Lookup is first match by name.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher returns an empty registry.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Register appends handlers. An earlier handler for the same resource wins.
func (d *Dispatcher) Register(handlers ...Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range handlers {
		if strings.TrimSpace(h.Resource) == "" || h.Handle == nil {
			continue
		}
		d.handlers = append(d.handlers, h)
	}
}

// Resources lists the registered resource names in registration order.
func (d *Dispatcher) Resources() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for _, h := range d.handlers {
		names = append(names, h.Resource)
	}
	return names
}

func (d *Dispatcher) lookup(resource string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.handlers {
		if h.Resource == resource {
			return h, true
		}
	}
	return Handler{}, false
}

// Dispatch runs the handler for req.Resource.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, external bool) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	h, ok := d.lookup(req.Resource)
	if !ok || (external && h.Internal) {
		return nil, &DispatchError{Resource: req.Resource}
	}
	call := &Call{
		Context:    ctx,
		Resource:   req.Resource,
		ProjectID:  req.ProjectID,
		Body:       req.Body,
		External:   external,
		dispatcher: d,
	}
	result, err := h.Handle(call)
	if err != nil && external {
		d.logger.Printf("rpc: %s failed: %v", req.Resource, err)
	}
	return result, err
}

func encodeBody(body any) (json.RawMessage, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode body: %w", err)
	}
	return raw, nil
}
