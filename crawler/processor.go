package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/trawler/core"
)

// Dependencies bundles the task plumbing a stage processor needs:
// pipelines are joined through the caller, terminators run in-process
// through the applier and callbacks go out fire-and-forget through the
// submitter.
type Dependencies struct {
	Caller    Caller
	Submitter Submitter
	Applier   Applier
	Logger    *slog.Logger
}

// StageProcessor runs one stage for one target: it drives the spider,
// fans each request result out to the stage's pipelines, checks the
// terminators after every step and fires the callbacks once the stage
// is done. Progress accumulates on the stage itself so that callers
// can persist it between steps.
type StageProcessor struct {
	stage      *core.Stage
	crawlID    string
	finalStage bool
	deps       Dependencies
	logger     *slog.Logger
}

// NewStageProcessor wires a processor to one stage. The stage is
// mutated in place: its Progress carries the accumulated result.
func NewStageProcessor(stage *core.Stage, crawlID string, finalStage bool, deps Dependencies) *StageProcessor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("stage", stage.Name, "crawl", crawlID)
	return &StageProcessor{
		stage:      stage,
		crawlID:    crawlID,
		finalStage: finalStage,
		deps:       deps,
		logger:     logger,
	}
}

// Process executes the stage to completion. After every request step
// the current progress is handed to yield, giving the caller a chance
// to persist it; a yield error aborts the stage. Callbacks run exactly
// once, also when the spider ends the stage naturally.
func (p *StageProcessor) Process(ctx context.Context, yield func(*core.StageResult) error) error {
	spider := NewSpider(p.stage.Target, p.stage.Request, p.deps.Caller)

	for {
		result, err := spider.Next(ctx)
		if err != nil {
			return err
		}
		if result == nil {
			break
		}

		p.stage.Progress.Cost += result.Cost
		p.stage.Progress.Gain += result.Gain

		if !result.TargetNotFound {
			step, err := p.executePipelines(ctx, result)
			if err != nil {
				return err
			}
			p.stage.Progress.AbsorbPipelineResults(step)
		}

		if yield != nil {
			if err := yield(&p.stage.Progress); err != nil {
				return fmt.Errorf("record stage progress: %w", err)
			}
		}

		if err := p.executeTerminators(ctx); err != nil {
			return err
		}
		if spider.TargetNotFound() {
			p.stage.Progress.Terminate(core.TerminatorKeyTargetNotFound)
		}
		if spider.TargetExhausted() {
			p.stage.Progress.Terminate(core.TerminatorKeyTargetExhausted)
		}

		if p.stage.Progress.Terminated() {
			break
		}
	}

	p.executeCallbacks(ctx)
	return nil
}

// executePipelines runs all pipelines of the stage against one request
// result in parallel and returns their results keyed by task name. One
// failing pipeline fails the whole step.
func (p *StageProcessor) executePipelines(ctx context.Context, result *core.RequestResult) (map[string]core.PipelineResult, error) {
	if len(p.stage.Pipelines) == 0 {
		return nil, nil
	}

	step := make([]core.PipelineResult, len(p.stage.Pipelines))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, pipeline := range p.stage.Pipelines {
		signature := pipeline.WithKwargs(core.Kwargs{
			"request_result": result,
			"crawl_id":       p.crawlID,
		})
		group.Go(func() error {
			raw, err := p.deps.Caller.Call(groupCtx, signature.Task, signature.Kwargs)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", signature.Task, err)
			}
			var pipelineResult core.PipelineResult
			if err := json.Unmarshal(raw, &pipelineResult); err != nil {
				return fmt.Errorf("decode result of pipeline %s: %w", signature.Task, err)
			}
			step[i] = pipelineResult
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	results := make(map[string]core.PipelineResult, len(step))
	for i, pipeline := range p.stage.Pipelines {
		results[pipeline.Task] = step[i]
	}
	return results, nil
}

// executeTerminators applies each terminator to the current stage
// state and records the ones that trigger. Terminators run locally;
// they only inspect accumulated progress and must not do I/O of their
// own.
func (p *StageProcessor) executeTerminators(ctx context.Context) error {
	for _, terminator := range p.stage.Terminators {
		signature := terminator.WithKwargs(core.Kwargs{"stage": p.stage})
		value, err := p.deps.Applier.Apply(ctx, signature.Task, signature.Kwargs)
		if err != nil {
			return fmt.Errorf("terminator %s: %w", signature.Task, err)
		}
		if truthy(value) {
			p.stage.Progress.Terminate(signature.Task)
		}
	}
	return nil
}

// executeCallbacks submits the stage's callbacks without waiting for
// them. A callback that cannot be submitted loses its datapoint, not
// the crawl.
func (p *StageProcessor) executeCallbacks(ctx context.Context) {
	for _, callback := range p.stage.Callbacks {
		signature := callback.WithKwargs(core.Kwargs{
			"stage":       p.stage,
			"crawl_id":    p.crawlID,
			"final_stage": p.finalStage,
		})
		if _, err := p.deps.Submitter.Submit(ctx, signature.Task, signature.Kwargs); err != nil {
			p.logger.Warn("failed to submit callback", "task", signature.Task, "error", err)
		}
	}
}

// truthy interprets a terminator verdict: booleans count as they are,
// numbers count when non-zero.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}
