package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/trawler/allocator"
	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/storage"
)

// ContinuousScheduler feeds a continuous allocator until the context
// ends. Continuous crawls have no natural completion: the allocator
// rotates through the weighted targets indefinitely and empty batches
// just skip a step.
type ContinuousScheduler struct {
	*Scheduler
	allocator allocator.Allocator
}

// NewContinuous builds a scheduler around a continuous allocator,
// usually a uniform or proportional one.
func NewContinuous(store storage.MetadataStore, dispatcher dispatch.Dispatcher, crawl *core.Crawl, alloc allocator.Allocator, cfg Config, logger *slog.Logger) *ContinuousScheduler {
	cfg.applyDefaults()
	return &ContinuousScheduler{
		Scheduler: newScheduler(store, dispatcher, crawl, cfg, logger),
		allocator: alloc,
	}
}

// Run loops until the context is cancelled and returns the context's
// error.
func (s *ContinuousScheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.allocator.Next(ctx)
		if err != nil {
			return fmt.Errorf("allocate targets: %w", err)
		}
		if len(batch) > 0 {
			if err := s.Submit(ctx, batch); err != nil {
				return err
			}
		}
		status, err := s.Status(ctx)
		if err != nil {
			return err
		}
		s.logStatus(status)
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
}
