// Package tools resolves and executes the function calls a realtime agent
// requests, and reports each result back over the session.
//
// Handlers are registered by tool name in a [Registry]. A name the registry
// does not know, or a tool the agent script does not declare, resolves to the
// [Fallback] handler, which acknowledges the call with {"result": true}.
package tools

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Call is one function call requested by the remote agent. It is built from
// a response.done event and consumed synchronously.
type Call struct {
	Name      string
	CallID    string
	Arguments string
}

// Func is the uniform handler signature. The returned value is marshalled to
// JSON as the call output.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Kind tags a [Handler] variant.
type Kind int

const (
	// KindBuiltin is an in-process Go function.
	KindBuiltin Kind = iota

	// KindMCP is a tool served by an MCP server.
	KindMCP

	// KindFallback acknowledges declared-only tools.
	KindFallback
)

// String returns a short label for k.
func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindMCP:
		return "mcp"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Handler is a registered tool implementation.
type Handler struct {
	Name string
	Kind Kind

	// Server names the MCP server for KindMCP handlers.
	Server string

	Fn Func
}

// Builtin returns an in-process handler.
func Builtin(name string, fn Func) Handler {
	return Handler{Name: name, Kind: KindBuiltin, Fn: fn}
}

// Fallback returns the handler used for tools without an implementation.
func Fallback(name string) Handler {
	return Handler{Name: name, Kind: KindFallback, Fn: func(context.Context, map[string]any) (any, error) {
		return map[string]any{"result": true}, nil
	}}
}

// Registry maps tool names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h, replacing any handler with the same name.
func (r *Registry) Register(h Handler) error {
	if h.Name == "" {
		return fmt.Errorf("tools: handler must have a non-empty name")
	}
	if h.Fn == nil {
		return fmt.Errorf("tools: handler %q must have a non-nil func", h.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name] = h
	return nil
}

// Unregister removes every handler served by the named MCP server.
func (r *Registry) Unregister(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range r.handlers {
		if h.Kind == KindMCP && h.Server == server {
			delete(r.handlers, name)
		}
	}
}

// Lookup returns the handler for name, or [Fallback] when none is registered.
func (r *Registry) Lookup(name string) Handler {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Fallback(name)
	}
	return h
}

// Handlers returns all registered handlers sorted by name.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Handler) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
