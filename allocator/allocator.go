// Package allocator implements the resource allocators that decide
// which targets receive crawl resources next. An allocator produces a
// sequence of target batches; the scheduler turns each batch into
// crawl tasks at its configured pace.
package allocator

import (
	"context"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// DefaultStepSize bounds a batch when the series does not configure
// one.
const DefaultStepSize = 1000

// Allocator produces the sequence of target batches for one crawl.
// Next returns (nil, nil) once a drain-once allocator is exhausted.
// Continuous allocators never exhaust; they return an empty, non-nil
// batch when no target currently qualifies.
type Allocator interface {
	Next(ctx context.Context) ([]core.Target, error)
}

// Static drains the targets matching the crawl's filter exactly once:
// targets never queued for the series, or last queued before the crawl
// started, least recently queued first. The scheduler's queued
// timestamps move targets out of the query between batches; emitted
// ids are tracked as well, so a target is never returned twice even if
// those timestamps lag.
type Static struct {
	store    storage.TargetStore
	crawl    *core.Crawl
	stepSize int
	filter   map[string]any

	emitted   map[string]struct{}
	exhausted bool
}

// NewStatic builds a drain-once allocator for one crawl.
func NewStatic(store storage.TargetStore, crawl *core.Crawl, stepSize int) (*Static, error) {
	filter, err := crawl.FilterDocument()
	if err != nil {
		return nil, err
	}
	if stepSize <= 0 {
		stepSize = DefaultStepSize
	}
	return &Static{
		store:    store,
		crawl:    crawl,
		stepSize: stepSize,
		filter:   filter,
		emitted:  make(map[string]struct{}),
	}, nil
}

// Next returns the next batch of up to stepSize targets, or (nil, nil)
// once no eligible target remains.
func (a *Static) Next(ctx context.Context) ([]core.Target, error) {
	if a.exhausted {
		return nil, nil
	}
	// Over-fetch by the number of targets already handed out: until
	// their queued timestamps land they still occupy the front of the
	// query, and a plain stepSize window would never move past them.
	targets, err := a.store.StaticTargetBatch(ctx, storage.StaticBatchQuery{
		SeriesID:     a.crawl.SeriesID,
		CrawlStarted: a.crawl.Started,
		Filter:       a.filter,
		Limit:        a.stepSize + len(a.emitted),
	})
	if err != nil {
		return nil, err
	}

	batch := make([]core.Target, 0, a.stepSize)
	for _, target := range targets {
		if _, seen := a.emitted[target.ID]; seen {
			continue
		}
		a.emitted[target.ID] = struct{}{}
		batch = append(batch, target)
		if len(batch) == a.stepSize {
			break
		}
	}
	if len(batch) == 0 {
		a.exhausted = true
		return nil, nil
	}
	return batch, nil
}
