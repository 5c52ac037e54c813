// Package crawler executes crawl tasks: it drives the spider
// continuation protocol against request tasks, runs stages through
// the stage processor and keeps execution tokens current.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/trawler/core"
)

// Caller joins a task invocation synchronously.
type Caller interface {
	Call(ctx context.Context, task string, kwargs core.Kwargs) (json.RawMessage, error)
}

// Submitter publishes a task invocation fire-and-forget.
type Submitter interface {
	Submit(ctx context.Context, task string, kwargs core.Kwargs) (string, error)
}

// Applier executes a task synchronously in-process.
type Applier interface {
	Apply(ctx context.Context, task string, kwargs core.Kwargs) (any, error)
}

// Spider produces the lazy sequence of request results for one
// target. Continuation parameters start from the target's kwargs and
// are extended by each result's subsequent kwargs. State lives in
// memory for the duration of one crawl task; spiders are not
// restartable.
type Spider struct {
	request core.TaskSignature
	caller  Caller
	params  core.Kwargs

	notFound  bool
	exhausted bool
}

// NewSpider builds a spider for one target and its request task.
func NewSpider(target core.SlimTarget, request core.TaskSignature, caller Caller) *Spider {
	params := target.Kwargs.Clone()
	if params == nil {
		params = core.Kwargs{}
	}
	return &Spider{request: request, caller: caller, params: params}
}

// Next issues the next request and returns its result, or (nil, nil)
// once the target is exhausted or gone. The terminating result itself
// is still returned; only the following call ends the sequence.
func (s *Spider) Next(ctx context.Context) (*core.RequestResult, error) {
	if s.notFound || s.exhausted {
		return nil, nil
	}

	signature := s.request.WithKwargs(s.params)
	raw, err := s.caller.Call(ctx, signature.Task, signature.Kwargs)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", signature.Task, err)
	}
	result, err := core.DecodeRequestResult(raw)
	if err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", signature.Task, err)
	}

	if result.TargetNotFound {
		s.notFound = true
	} else if result.Exhausted() {
		s.exhausted = true
	}
	if !s.notFound && !s.exhausted {
		s.params.Merge(result.SubsequentKwargs)
	}
	return result, nil
}

// TargetNotFound reports whether the source declared the target gone.
func (s *Spider) TargetNotFound() bool { return s.notFound }

// TargetExhausted reports whether the target has no further data.
func (s *Spider) TargetExhausted() bool { return s.exhausted }
