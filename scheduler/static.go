package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/c360studio/trawler/allocator"
	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/storage"
)

// StaticScheduler drains the crawl's eligible targets exactly once and
// then holds the crawl open until every scheduled target is accounted
// for.
type StaticScheduler struct {
	*Scheduler
	allocator *allocator.Static
	filter    map[string]any
	progress  bool
	display   *display
}

// NewStatic builds a drain-once scheduler for the given crawl.
func NewStatic(store storage.MetadataStore, dispatcher dispatch.Dispatcher, crawl *core.Crawl, cfg Config, logger *slog.Logger) (*StaticScheduler, error) {
	cfg.applyDefaults()
	alloc, err := allocator.NewStatic(store, crawl, cfg.StepSize)
	if err != nil {
		return nil, fmt.Errorf("build static allocator: %w", err)
	}
	filter, err := crawl.FilterDocument()
	if err != nil {
		return nil, err
	}
	return &StaticScheduler{
		Scheduler: newScheduler(store, dispatcher, crawl, cfg, logger),
		allocator: alloc,
		filter:    filter,
		progress:  cfg.Progress,
	}, nil
}

// Run schedules until the allocator is exhausted, stamps the crawl
// finished and drains: the workers may still be processing after the
// last submission, so the loop keeps reporting until no execution
// token of the crawl remains open.
func (s *StaticScheduler) Run(ctx context.Context) error {
	defer s.closeDisplay()

	for {
		batch, err := s.allocator.Next(ctx)
		if err != nil {
			return fmt.Errorf("allocate targets: %w", err)
		}
		if batch == nil {
			s.logger.Info("no targets left, crawl fully scheduled")
			break
		}
		if err := s.Submit(ctx, batch); err != nil {
			return err
		}
		if err := s.report(ctx); err != nil {
			return err
		}
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}

	finished := storage.NewUpdate().Set("finished", s.now())
	if err := s.store.UpdateCrawl(ctx, s.crawl.ID, finished); err != nil {
		return fmt.Errorf("finish crawl: %w", err)
	}

	return s.drain(ctx)
}

func (s *StaticScheduler) drain(ctx context.Context) error {
	for {
		if err := s.report(ctx); err != nil {
			return err
		}
		open, err := s.store.CountOpenTokens(ctx, s.crawl.ID)
		if err != nil {
			return fmt.Errorf("count open tokens: %w", err)
		}
		if open == 0 {
			return nil
		}
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
}

func (s *StaticScheduler) report(ctx context.Context) error {
	status, err := s.Status(ctx)
	if err != nil {
		return err
	}
	s.logStatus(status)
	s.updateDisplay(ctx, status)
	return nil
}

func (s *StaticScheduler) updateDisplay(ctx context.Context, status Status) {
	if !s.progress {
		return
	}
	if s.display == nil {
		total, err := s.store.CountTargets(ctx, s.filter)
		if err != nil {
			s.logger.Warn("count targets for progress display", "error", err)
			s.progress = false
			return
		}
		s.display = newDisplay(total)
	}
	s.display.update(status)
}

func (s *StaticScheduler) closeDisplay() {
	if s.display != nil {
		s.display.stop()
	}
}

// display renders the scheduling and processing progress of a draining
// crawl as two trackers over the same target total.
type display struct {
	writer     progress.Writer
	scheduling *progress.Tracker
	processing *progress.Tracker
}

func newDisplay(total int64) *display {
	writer := progress.NewWriter()
	writer.SetAutoStop(false)
	scheduling := &progress.Tracker{Message: "Scheduling", Total: total}
	processing := &progress.Tracker{Message: "Processing", Total: total}
	writer.AppendTracker(scheduling)
	writer.AppendTracker(processing)
	go writer.Render()
	return &display{writer: writer, scheduling: scheduling, processing: processing}
}

func (d *display) update(status Status) {
	d.scheduling.SetValue(int64(status.Scheduled))
	// Processing counts everything the workers are done with, so the
	// raw failure count is the net one plus the retried deliveries.
	d.processing.SetValue(int64(status.Finished + status.Failed + status.Retried))
}

func (d *display) stop() {
	d.scheduling.MarkAsDone()
	d.processing.MarkAsDone()
	d.writer.Stop()
}
