package crawler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/storage"
)

// Tasks holds the crawler task handlers. A multi stage crawl runs the
// configured stages in order against one target; a single stage crawl
// runs one ad-hoc stage without a surrounding crawl.
type Tasks struct {
	store  storage.MetadataStore
	deps   Dependencies
	logger *slog.Logger
}

// NewTasks wires the crawler handlers to their storage and dispatch
// dependencies.
func NewTasks(store storage.MetadataStore, deps Dependencies, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{store: store, deps: deps, logger: logger}
}

// Register binds the crawler tasks and their token lifecycle to the
// registry.
func (t *Tasks) Register(registry *dispatch.Registry) {
	registry.RegisterFunc(dispatch.TaskMultiStageCrawler, t.MultiStage)
	registry.RegisterFunc(dispatch.TaskSingleStageCrawler, t.SingleStage)

	lifecycle := &tokenLifecycle{store: t.store, logger: t.logger}
	registry.RegisterLifecycle(dispatch.TaskMultiStageCrawler, lifecycle)
	registry.RegisterLifecycle(dispatch.TaskSingleStageCrawler, lifecycle)
}

// MultiStage runs the stages of one scheduled target in order. After
// every spider step the whole stage slice, including accumulated
// progress, is written to the execution token. The handler returns the
// executed stages.
func (t *Tasks) MultiStage(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		CrawlID          string       `json:"crawl_id"`
		Stages           []core.Stage `json:"stages"`
		ExecutionTokenID string       `json:"execution_token_id"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if len(args.Stages) == 0 {
		return nil, dispatch.NonRetryable(errors.New("multi stage crawl without stages"))
	}

	for i := range args.Stages {
		finalStage := i == len(args.Stages)-1
		processor := NewStageProcessor(&args.Stages[i], args.CrawlID, finalStage, t.deps)
		err := processor.Process(ctx, func(*core.StageResult) error {
			return t.saveProgress(ctx, args.ExecutionTokenID, args.Stages)
		})
		if err != nil {
			return nil, err
		}
	}
	return args.Stages, nil
}

// SingleStage runs one stage outside of any crawl. Pipelines still
// run, but without a crawl to attribute their work to; callbacks see
// final_stage false.
func (t *Tasks) SingleStage(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		Stage            core.Stage `json:"stage"`
		ExecutionTokenID string     `json:"execution_token_id"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.Stage.Name == "" {
		return nil, dispatch.NonRetryable(errors.New("single stage crawl without a stage"))
	}

	processor := NewStageProcessor(&args.Stage, "", false, t.deps)
	err := processor.Process(ctx, func(*core.StageResult) error {
		return t.saveProgress(ctx, args.ExecutionTokenID, []core.Stage{args.Stage})
	})
	if err != nil {
		return nil, err
	}
	return args.Stage, nil
}

// saveProgress snapshots the stages onto the execution token. Tasks
// submitted without a token skip the write.
func (t *Tasks) saveProgress(ctx context.Context, tokenID string, stages []core.Stage) error {
	if tokenID == "" {
		return nil
	}
	return t.store.UpdateToken(ctx, tokenID, storage.NewUpdate().Set("progress", stages))
}

// tokenLifecycle keeps execution tokens and crawl counters in step
// with task execution. Hooks are best-effort: a failed bookkeeping
// write is logged, never raised, so it cannot take a crawl down. Tasks
// submitted without token or crawl kwargs are left alone.
type tokenLifecycle struct {
	store  storage.MetadataStore
	logger *slog.Logger
}

func (l *tokenLifecycle) BeforeStart(ctx context.Context, req dispatch.Request) {
	tokenID, ok := req.Kwargs.String("execution_token_id")
	if !ok || tokenID == "" {
		return
	}
	update := storage.NewUpdate().Set("started", time.Now().UTC())
	if err := l.store.UpdateToken(ctx, tokenID, update); err != nil {
		l.logger.Warn("failed to mark execution token started", "token", tokenID, "error", err)
	}
}

func (l *tokenLifecycle) OnSuccess(ctx context.Context, req dispatch.Request) {
	if tokenID, ok := req.Kwargs.String("execution_token_id"); ok && tokenID != "" {
		if err := l.store.DeleteToken(ctx, tokenID); err != nil {
			l.logger.Warn("failed to delete execution token", "token", tokenID, "error", err)
		}
	}
	l.incrementCrawl(ctx, req, "targets_finished")
}

func (l *tokenLifecycle) OnRetry(ctx context.Context, req dispatch.Request, taskErr error) {
	if tokenID, ok := req.Kwargs.String("execution_token_id"); ok && tokenID != "" {
		update := storage.NewUpdate().
			Inc("retries", 1).
			Push("retry_infos", taskErr.Error())
		if err := l.store.UpdateToken(ctx, tokenID, update); err != nil {
			l.logger.Warn("failed to record execution token retry", "token", tokenID, "error", err)
		}
	}
	l.incrementCrawl(ctx, req, "targets_retried")
}

func (l *tokenLifecycle) OnFailure(ctx context.Context, req dispatch.Request, taskErr error) {
	if tokenID, ok := req.Kwargs.String("execution_token_id"); ok && tokenID != "" {
		update := storage.NewUpdate().
			Set("failed", time.Now().UTC()).
			Set("fail_info", taskErr.Error())
		if err := l.store.UpdateToken(ctx, tokenID, update); err != nil {
			l.logger.Warn("failed to record execution token failure", "token", tokenID, "error", err)
		}
	}
	l.incrementCrawl(ctx, req, "targets_failed")
}

func (l *tokenLifecycle) incrementCrawl(ctx context.Context, req dispatch.Request, counter string) {
	crawlID, ok := req.Kwargs.String("crawl_id")
	if !ok || crawlID == "" {
		return
	}
	update := storage.NewUpdate().Inc(counter, 1)
	if err := l.store.UpdateCrawl(ctx, crawlID, update); err != nil {
		l.logger.Warn("failed to update crawl counter", "crawl", crawlID, "counter", counter, "error", err)
	}
}
