package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler executes one action. Every handler is invoked the same way, on
// its own goroutine, whether or not it blocks.
type Handler interface {
	Handle(ctx context.Context, data json.RawMessage) (Result, error)
}

// HandlerFunc lets a plain function satisfy Handler.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (Result, error)

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, data json.RawMessage) (Result, error) {
	if f == nil {
		return Result{}, fmt.Errorf("handler func nil")
	}
	return f(ctx, data)
}

// Typed binds a handler to a concrete payload type. A missing or null
// payload decodes to the zero value of In.
func Typed[In any](fn func(ctx context.Context, in In) (Result, error)) Handler {
	return HandlerFunc(func(ctx context.Context, data json.RawMessage) (Result, error) {
		var in In
		if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			if err := json.Unmarshal(data, &in); err != nil {
				return Result{}, fmt.Errorf("invalid payload: %w", err)
			}
		}
		return fn(ctx, in)
	})
}

// NoInput wraps a handler that ignores its payload.
func NoInput(fn func(ctx context.Context) (Result, error)) Handler {
	return HandlerFunc(func(ctx context.Context, _ json.RawMessage) (Result, error) {
		return fn(ctx)
	})
}

// Routes is a group of actions contributed by one manager.
type Routes map[string]Handler

// Table is the immutable action -> handler lookup built once at startup.
type Table struct {
	handlers map[string]Handler
}

// NewTable merges route groups. Registering the same action twice is a
// programming error and is reported instead of silently overwritten.
func NewTable(groups ...Routes) (*Table, error) {
	handlers := make(map[string]Handler)
	for _, group := range groups {
		for action, h := range group {
			if action == "" {
				return nil, fmt.Errorf("bridge: empty action name")
			}
			if h == nil {
				return nil, fmt.Errorf("bridge: nil handler for %s", action)
			}
			if _, dup := handlers[action]; dup {
				return nil, fmt.Errorf("bridge: action %s registered twice", action)
			}
			handlers[action] = h
		}
	}
	return &Table{handlers: handlers}, nil
}

// Lookup finds the handler for an action.
func (t *Table) Lookup(action string) (Handler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := t.handlers[action]
	return h, ok
}

// Actions lists the registered action names in sorted order.
func (t *Table) Actions() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
