// Package scheduler paces the hand-off of targets to the crawler
// queue. A scheduler pulls batches from a resource allocator, submits
// one crawl task per target under a fresh execution token, and keeps
// the crawl's counters and expectations current while the workers chew
// through the backlog.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/storage"
)

// Defaults of the scheduling loop.
const (
	DefaultStepSize   = 100
	DefaultStepPeriod = time.Minute
)

// Config tunes one scheduler instance.
type Config struct {
	// StepSize is the number of targets submitted per step.
	StepSize int
	// StepPeriod is the pacing interval between steps.
	StepPeriod time.Duration
	// Progress renders a live two-tracker progress display while the
	// scheduler runs. Leave off for non-interactive runs.
	Progress bool
}

func (c *Config) applyDefaults() {
	if c.StepSize <= 0 {
		c.StepSize = DefaultStepSize
	}
	if c.StepPeriod <= 0 {
		c.StepPeriod = DefaultStepPeriod
	}
}

// Status is a point-in-time view of a crawl's counters. Failed is net
// of retried deliveries and may fall below zero while retries are in
// flight; Backpressure is the scheduled work the workers have not
// finished yet.
type Status struct {
	Scheduled    int
	Finished     int
	Retried      int
	Failed       int
	Backpressure int
}

// Scheduler is the submission core shared by the concrete scheduling
// loops: it clones the crawl's stages for each target, persists one
// execution token per submission and paces the loop to the configured
// step period.
type Scheduler struct {
	store      storage.MetadataStore
	dispatcher dispatch.Dispatcher
	crawl      *core.Crawl
	stages     []core.Stage
	stepPeriod time.Duration
	lastStep   time.Time
	logger     *slog.Logger
	now        func() time.Time
}

func newScheduler(store storage.MetadataStore, dispatcher dispatch.Dispatcher, crawl *core.Crawl, cfg Config, logger *slog.Logger) *Scheduler {
	stages := crawl.CloneStages()
	ensureMonitorCallback(stages)
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		crawl:      crawl,
		stages:     stages,
		stepPeriod: cfg.StepPeriod,
		logger:     logger.With("crawl", crawl.Name),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ensureMonitorCallback appends the target monitor to every stage that
// does not already carry it, so each scheduled execution records its
// outcome on the target.
func ensureMonitorCallback(stages []core.Stage) {
	for i := range stages {
		found := false
		for _, callback := range stages[i].Callbacks {
			if callback.Task == dispatch.TaskTargetMonitor {
				found = true
				break
			}
		}
		if !found {
			stages[i].Callbacks = append(stages[i].Callbacks, core.TaskSignature{Task: dispatch.TaskTargetMonitor})
		}
	}
}

// Submit hands one batch to the crawler queue in order: every target
// gets the crawl's stages with itself injected, a persisted execution
// token and one multi stage crawl task. Queue timestamps land per
// target; the scheduled counter and the accumulated expectations land
// in a single crawl update per batch.
func (s *Scheduler) Submit(ctx context.Context, targets []core.Target) error {
	if len(targets) == 0 {
		return nil
	}

	expectations := make(map[string]map[string]any, len(s.stages))
	timestamp := s.now()

	for i := range targets {
		target := &targets[i]
		latest := target.LatestStatistics(s.crawl.SeriesID)

		stages := make([]core.Stage, len(s.stages))
		for j := range s.stages {
			stage := s.stages[j].Clone()
			stage.Target = target.Slim()
			stages[j] = stage
			expectations[stage.Name] = core.CombineByAddition(expectations[stage.Name], latest[stage.Name])
		}

		token := &core.ExecutionToken{CrawlID: s.crawl.ID, Stages: stages, Created: timestamp}
		if err := s.store.InsertToken(ctx, token); err != nil {
			return fmt.Errorf("insert execution token: %w", err)
		}

		kwargs := core.Kwargs{
			"crawl_id":           s.crawl.ID,
			"stages":             stages,
			"execution_token_id": token.ID,
		}
		if _, err := s.dispatcher.Submit(ctx, dispatch.TaskMultiStageCrawler, kwargs); err != nil {
			return fmt.Errorf("submit crawl task: %w", err)
		}

		queued := storage.NewUpdate().Push(storage.FieldPath("queued", s.crawl.SeriesID), timestamp)
		if err := s.store.UpdateTarget(ctx, target.ID, queued); err != nil {
			return fmt.Errorf("mark target %s queued: %w", target.ID, err)
		}
	}

	update := storage.NewUpdate().Inc("targets_scheduled", float64(len(targets)))
	accumulated := make(map[string]any, len(expectations))
	for name, expectation := range expectations {
		if len(expectation) == 0 {
			continue
		}
		accumulated[name] = expectation
	}
	if err := storage.IncrementNested(update, "expectations", accumulated); err != nil {
		return fmt.Errorf("accumulate expectations: %w", err)
	}
	if err := s.store.UpdateCrawl(ctx, s.crawl.ID, update); err != nil {
		return fmt.Errorf("update crawl counters: %w", err)
	}

	s.logger.Debug("submitted targets", "count", len(targets))
	return nil
}

// Wait paces the loop to one step per period. The first call only arms
// the clock; when a step overran the period the scheduler is already
// late, so there is nothing to sleep off and a warning is logged
// instead.
func (s *Scheduler) Wait(ctx context.Context) error {
	now := s.now()
	switch {
	case s.lastStep.IsZero():
		s.lastStep = now
	case !now.Before(s.lastStep.Add(s.stepPeriod)):
		s.lastStep = now
		s.logger.Warn("scheduler is running slower than specified")
	default:
		next := s.lastStep.Add(s.stepPeriod)
		s.logger.Debug("waiting for the next step", "until", next)
		timer := time.NewTimer(next.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		s.lastStep = s.now()
	}
	return nil
}

// Status reloads the crawl and derives the counter view, updating the
// scheduler gauges as a side effect.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	crawl, err := s.store.CrawlByID(ctx, s.crawl.ID)
	if err != nil {
		return Status{}, fmt.Errorf("reload crawl: %w", err)
	}
	status := Status{
		Scheduled:    crawl.TargetsScheduled,
		Finished:     crawl.TargetsFinished,
		Retried:      crawl.TargetsRetried,
		Failed:       crawl.TargetsFailed - crawl.TargetsRetried,
		Backpressure: crawl.TargetsScheduled - crawl.TargetsFinished,
	}
	targetsScheduled.WithLabelValues(crawl.Name).Set(float64(status.Scheduled))
	backpressure.WithLabelValues(crawl.Name).Set(float64(status.Backpressure))
	return status, nil
}

func (s *Scheduler) logStatus(status Status) {
	s.logger.Info("crawl status",
		"scheduled", status.Scheduled,
		"finished", status.Finished,
		"retried", status.Retried,
		"failed", status.Failed,
		"backpressure", status.Backpressure,
	)
}
