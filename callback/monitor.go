// Package callback implements the tasks that run once after a stage,
// currently the target monitor that folds stage results back into the
// target document.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/storage"
)

// Tasks holds the callback task handlers.
type Tasks struct {
	store  storage.MetadataStore
	crawls *storage.CrawlCache
	logger *slog.Logger
	now    func() time.Time
}

// NewTasks wires the callback handlers to their dependencies.
func NewTasks(store storage.MetadataStore, crawls *storage.CrawlCache, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{
		store:  store,
		crawls: crawls,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the callback tasks to the registry.
func (t *Tasks) Register(registry *dispatch.Registry) {
	registry.RegisterFunc(dispatch.TaskTargetMonitor, t.TargetMonitor)
}

// TargetMonitor writes the outcome of one stage onto its target: the
// current cost, gain, weight, metrics and result under
// statistics.<series>.<stage>, a timestamped history entry for each of
// them, and a processed timestamp for the series. Everything goes into
// one atomic update so that a monitor invocation is either fully
// recorded or not at all.
func (t *Tasks) TargetMonitor(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		Stage      core.Stage `json:"stage"`
		CrawlID    string     `json:"crawl_id"`
		FinalStage bool       `json:"final_stage"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.CrawlID == "" {
		return nil, dispatch.NonRetryable(errors.New("target monitor without a crawl"))
	}
	if args.Stage.Target.ID == "" {
		// Ad-hoc targets are not persisted, there is nothing to
		// monitor.
		t.logger.Debug("skipping monitor for unpersisted target", "stage", args.Stage.Name)
		return nil, nil
	}

	crawl, err := t.crawls.Get(ctx, args.CrawlID)
	if err != nil {
		return nil, err
	}

	update := storage.NewUpdate()
	t.recordStage(update, crawl.SeriesID, &args.Stage)
	if err := t.store.UpdateTarget(ctx, args.Stage.Target.ID, update); err != nil {
		return nil, err
	}
	return nil, nil
}

// recordStage translates a stage result into field operators under the
// statistics path of the series and stage.
func (t *Tasks) recordStage(update *storage.Update, seriesID string, stage *core.Stage) {
	now := t.now()
	base := storage.FieldPath("statistics", seriesID, stage.Name)
	progress := &stage.Progress

	update.Set(base+"__cost", progress.Cost)
	update.Push(base+"__cost_history", core.TimedValue{Value: progress.Cost, Timestamp: now})
	update.Set(base+"__gain", progress.Gain)
	update.Push(base+"__gain_history", core.TimedValue{Value: progress.Gain, Timestamp: now})

	// Several pipelines may weigh the target; iteration is sorted so
	// reruns pick the same winner.
	names := make([]string, 0, len(progress.PipelineResults))
	for name := range progress.PipelineResults {
		names = append(names, name)
	}
	sort.Strings(names)

	var weight *int
	metrics := make(map[string]any)
	for _, name := range names {
		result := progress.PipelineResults[name]
		if result.Weight != nil {
			w := *result.Weight
			weight = &w
		}
		for metric, value := range result.Metrics {
			metrics[metric] = value
		}
	}
	if weight != nil {
		update.Set(base+"__weight", *weight)
		update.Push(base+"__weight_history", core.TimedValue{Value: *weight, Timestamp: now})
	}
	metricNames := make([]string, 0, len(metrics))
	for name := range metrics {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)
	for _, name := range metricNames {
		path := base + "__metrics__" + storage.SanitizeKey(name)
		update.Set(path, metrics[name])
		update.Push(base+"__metrics_history__"+storage.SanitizeKey(name), core.TimedValue{Value: metrics[name], Timestamp: now})
	}

	update.Set(base+"__result", stageResultDocument(progress))
	update.Push(base+"__result_history", core.TimedValue{Value: stageResultDocument(progress), Timestamp: now})

	// Pushed on every monitored stage, final or not.
	update.Push(storage.FieldPath("processed", seriesID), now)
}

// stageResultDocument renders a stage result as a generic document.
func stageResultDocument(result *core.StageResult) map[string]any {
	doc := map[string]any{
		"cost": result.Cost,
		"gain": result.Gain,
	}
	if len(result.PipelineResults) > 0 {
		pipelines := make(map[string]any, len(result.PipelineResults))
		for name, pr := range result.PipelineResults {
			entry := map[string]any{}
			if pr.Weight != nil {
				entry["weight"] = *pr.Weight
			}
			if len(pr.Statistics) > 0 {
				entry["statistics"] = pr.Statistics
			}
			if len(pr.Metrics) > 0 {
				entry["metrics"] = pr.Metrics
			}
			pipelines[storage.SanitizeKey(name)] = entry
		}
		doc["pipeline_results"] = pipelines
	}
	if len(result.TerminatedBy) > 0 {
		terminated := make(map[string]any, len(result.TerminatedBy))
		for name, fired := range result.TerminatedBy {
			terminated[storage.SanitizeKey(name)] = fired
		}
		doc["terminated_by"] = terminated
	}
	return doc
}
