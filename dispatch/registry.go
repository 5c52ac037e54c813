package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/c360studio/trawler/core"
)

// Request is one task invocation as seen by a handler.
type Request struct {
	Task   string
	ID     string
	Kwargs core.Kwargs
	// Attempt is the 1-based delivery attempt, MaxAttempts the
	// configured ceiling.
	Attempt     int
	MaxAttempts int

	raw json.RawMessage
}

// Decode unmarshals the keyword arguments into a typed value.
func (r *Request) Decode(v any) error {
	raw := r.raw
	if raw == nil {
		data, err := json.Marshal(r.Kwargs)
		if err != nil {
			return fmt.Errorf("marshal kwargs: %w", err)
		}
		raw = data
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode kwargs of %s: %w", r.Task, err)
	}
	return nil
}

// Handler executes one task invocation. The returned value is
// serialised into the result entry when the caller awaits it.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Lifecycle receives the execution milestones of a task, keyed off
// the request kwargs. The crawler tasks use it to keep execution
// tokens current.
type Lifecycle interface {
	BeforeStart(ctx context.Context, req Request)
	OnSuccess(ctx context.Context, req Request)
	OnRetry(ctx context.Context, req Request, err error)
	OnFailure(ctx context.Context, req Request, err error)
}

// Registry maps task names to handlers. It doubles as the local
// executor for tasks that run synchronously inside another task, like
// terminators inside the stage processor.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	lifecycles map[string]Lifecycle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]Handler),
		lifecycles: make(map[string]Lifecycle),
	}
}

// Register binds a handler to a task name.
func (r *Registry) Register(task string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[task] = handler
}

// RegisterFunc binds a handler function to a task name.
func (r *Registry) RegisterFunc(task string, fn HandlerFunc) {
	r.Register(task, fn)
}

// RegisterLifecycle binds lifecycle hooks to a task name.
func (r *Registry) RegisterLifecycle(task string, lifecycle Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycles[task] = lifecycle
}

// Handler returns the handler bound to a task name.
func (r *Registry) Handler(task string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[task]
	return handler, ok
}

// Lifecycle returns the lifecycle hooks bound to a task name, nil
// when none are registered.
func (r *Registry) Lifecycle(task string) Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lifecycles[task]
}

// Tasks returns the registered task names, sorted.
func (r *Registry) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]string, 0, len(r.handlers))
	for task := range r.handlers {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}

// Apply executes a task synchronously in-process, bypassing the
// queue. One attempt, no retries.
func (r *Registry) Apply(ctx context.Context, task string, kwargs core.Kwargs) (any, error) {
	handler, ok := r.Handler(task)
	if !ok {
		return nil, fmt.Errorf("no handler registered for task %q", task)
	}
	return handler.Handle(ctx, Request{
		Task:        task,
		ID:          "local",
		Kwargs:      kwargs,
		Attempt:     1,
		MaxAttempts: 1,
	})
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an error as final. The worker terminates the
// delivery instead of scheduling a retry.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err carries the NonRetryable marker.
func IsNonRetryable(err error) bool {
	var marker *nonRetryableError
	return errors.As(err, &marker)
}
