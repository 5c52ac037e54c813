// Package terminator implements the predicates that end a stage. A
// terminator inspects the stage's accumulated progress and returns 1
// to terminate or 0 to continue; the stage processor runs them after
// every spider step.
//
// All terminators read the data storage pipeline's results by its
// registered task name. A stage configured with a terminator but
// without that pipeline fails loudly instead of crawling forever.
package terminator

import (
	"context"
	"fmt"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
)

// Defaults applied when a stage configures a terminator without
// parameters.
const (
	DefaultLimit           = 1000
	DefaultOverlap         = 100
	DefaultBudget          = 100.0
	DefaultBudgetIncrement = 10.0
	DefaultBudgetDecrement = 1.0
	DefaultBudgetModel     = "bfm"
)

// Register binds the terminator tasks to the registry.
func Register(registry *dispatch.Registry) {
	registry.RegisterFunc(dispatch.TaskStaticTerminator, Static)
	registry.RegisterFunc(dispatch.TaskOverlapTerminator, Overlap)
	registry.RegisterFunc(dispatch.TaskBudgetTerminator, Budget)
}

// Static terminates once the stage has processed limit documents.
func Static(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		Stage core.Stage `json:"stage"`
		Limit *int       `json:"limit"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	limit := DefaultLimit
	if args.Limit != nil {
		limit = *args.Limit
	}

	processed, err := storageStatistic(&args.Stage, "processed_documents")
	if err != nil {
		return nil, err
	}
	return verdict(processed >= float64(limit)), nil
}

// Overlap terminates once the stage has re-processed overlap documents
// that were already known, the signal that a paginated listing has
// reached previously crawled ground.
func Overlap(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		Stage   core.Stage `json:"stage"`
		Overlap *int       `json:"overlap"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	overlap := DefaultOverlap
	if args.Overlap != nil {
		overlap = *args.Overlap
	}

	processed, err := storageStatistic(&args.Stage, "processed_documents")
	if err != nil {
		return nil, err
	}
	newDocuments, err := storageStatistic(&args.Stage, "new_documents")
	if err != nil {
		return nil, err
	}
	return verdict(processed-newDocuments >= float64(overlap)), nil
}

// Budget terminates when the spent budget exceeds the acquired one.
// Every processed document spends budget_dec; every point of the
// freshness model metric earns budget_inc on top of the initial
// budget. A stage that keeps finding fresh documents keeps earning the
// right to continue.
func Budget(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		Stage           core.Stage `json:"stage"`
		Budget          *float64   `json:"budget"`
		BudgetIncrement *float64   `json:"budget_inc"`
		BudgetDecrement *float64   `json:"budget_dec"`
		Model           string     `json:"model"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	budget := DefaultBudget
	if args.Budget != nil {
		budget = *args.Budget
	}
	increment := DefaultBudgetIncrement
	if args.BudgetIncrement != nil {
		increment = *args.BudgetIncrement
	}
	decrement := DefaultBudgetDecrement
	if args.BudgetDecrement != nil {
		decrement = *args.BudgetDecrement
	}
	model := args.Model
	if model == "" {
		model = DefaultBudgetModel
	}

	result, err := storageResult(&args.Stage)
	if err != nil {
		return nil, err
	}
	metric, err := numericField(result.Metrics, model, "metric")
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", args.Stage.Name, err)
	}
	processed, err := numericField(result.Statistics, "processed_documents", "statistic")
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", args.Stage.Name, err)
	}

	acquired := budget + metric*increment
	spent := processed * decrement
	return verdict(spent > acquired), nil
}

func verdict(terminate bool) int {
	if terminate {
		return 1
	}
	return 0
}

// storageResult returns the aggregated data storage pipeline result of
// the stage.
func storageResult(stage *core.Stage) (core.PipelineResult, error) {
	result, ok := stage.Progress.PipelineResults[dispatch.TaskDataStorage]
	if !ok {
		return core.PipelineResult{}, fmt.Errorf("stage %q has no %s results", stage.Name, dispatch.TaskDataStorage)
	}
	return result, nil
}

// storageStatistic returns one numeric statistic of the data storage
// pipeline result.
func storageStatistic(stage *core.Stage, key string) (float64, error) {
	result, err := storageResult(stage)
	if err != nil {
		return 0, err
	}
	value, err := numericField(result.Statistics, key, "statistic")
	if err != nil {
		return 0, fmt.Errorf("stage %q: %w", stage.Name, err)
	}
	return value, nil
}

func numericField(doc map[string]any, key, kind string) (float64, error) {
	value, ok := doc[key]
	if !ok {
		return 0, fmt.Errorf("missing %s %q", kind, key)
	}
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("%s %q is not numeric", kind, key)
	}
}
