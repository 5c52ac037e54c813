package allocator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// Defaults of the bucketed allocators.
const (
	DefaultBucketTTL     = 10
	DefaultMinAllocation = 1
	defaultBucketCount   = 64
)

// ImportanceFunc weighs a bucket by its 1-based position among the
// non-empty buckets, lowest weight range first.
type ImportanceFunc func(position int) float64

// SqrtImportance grows bucket importance with the square root of its
// position, the uniform allocation curve: heavier buckets matter more,
// but sub-linearly.
func SqrtImportance(position int) float64 {
	return math.Sqrt(float64(position))
}

// BucketedConfig configures a bucketed allocator.
type BucketedConfig struct {
	// WeightPath is the "__"-separated path of the target field the
	// buckets are computed over.
	WeightPath string
	// StepSize is the total resource budget of one batch, distributed
	// across the buckets by their normalised weight share.
	StepSize int
	// BucketTTL is the number of batches served between bucket
	// recomputations.
	BucketTTL int
	// Boundaries of the weight histogram, ascending. Defaults to 0
	// followed by the powers of two up to 2^62.
	Boundaries []int64
	// MinAllocation keeps small buckets from starving. A bucket's
	// allocation never drops below it, so a batch may exceed
	// StepSize.
	MinAllocation int
	// Filter restricts the target set, usually the crawl's filter.
	Filter map[string]any
}

func (c *BucketedConfig) applyDefaults() {
	if c.StepSize <= 0 {
		c.StepSize = DefaultStepSize
	}
	if c.BucketTTL <= 0 {
		c.BucketTTL = DefaultBucketTTL
	}
	if c.MinAllocation <= 0 {
		c.MinAllocation = DefaultMinAllocation
	}
	if len(c.Boundaries) == 0 {
		c.Boundaries = DefaultBoundaries()
	}
}

// DefaultBoundaries returns 0 followed by the powers of two up to
// 2^62: 64 boundaries forming 63 weight slices.
func DefaultBoundaries() []int64 {
	boundaries := make([]int64, 0, defaultBucketCount)
	boundaries = append(boundaries, 0)
	for exp := 0; exp < defaultBucketCount-1; exp++ {
		boundaries = append(boundaries, int64(1)<<exp)
	}
	return boundaries
}

// Bucketed allocates resources across weight buckets, continuously.
// Every batch takes up to its share from each bucket, preferring
// targets never queued for this crawl and then the longest unqueued
// ones; emitted targets get their last_queued timestamp set so the
// rotation moves on. It never exhausts: when nothing qualifies the
// batch is empty.
type Bucketed struct {
	store      storage.TargetStore
	crawl      *core.Crawl
	cfg        BucketedConfig
	importance ImportanceFunc

	buckets   []core.Bucket
	iteration int
	now       func() time.Time
}

// NewUniform builds a bucketed allocator with the square root
// importance curve.
func NewUniform(store storage.TargetStore, crawl *core.Crawl, cfg BucketedConfig) (*Bucketed, error) {
	return NewProportional(store, crawl, cfg, SqrtImportance)
}

// NewProportional builds a bucketed allocator with a caller-supplied
// importance curve.
func NewProportional(store storage.TargetStore, crawl *core.Crawl, cfg BucketedConfig, importance ImportanceFunc) (*Bucketed, error) {
	if cfg.WeightPath == "" {
		return nil, fmt.Errorf("bucketed allocator requires a weight path")
	}
	if importance == nil {
		return nil, fmt.Errorf("bucketed allocator requires an importance function")
	}
	cfg.applyDefaults()
	return &Bucketed{
		store:      store,
		crawl:      crawl,
		cfg:        cfg,
		importance: importance,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next assembles one batch from the buckets' shares.
func (a *Bucketed) Next(ctx context.Context) ([]core.Target, error) {
	if a.iteration%a.cfg.BucketTTL == 0 {
		buckets, err := a.recomputeBuckets(ctx)
		if err != nil {
			return nil, err
		}
		a.buckets = buckets
	}
	a.iteration++

	batch := make([]core.Target, 0, a.cfg.StepSize)
	seen := make(map[string]struct{}, a.cfg.StepSize)
	for i := range a.buckets {
		bucket := &a.buckets[i]
		limit, err := bucket.Allocation(a.cfg.StepSize, a.cfg.MinAllocation)
		if err != nil {
			return nil, err
		}
		chunk, err := a.store.BucketTargetBatch(ctx, storage.BucketBatchQuery{
			Path:       bucket.Path,
			LowerBound: bucket.LowerBound,
			UpperBound: bucket.UpperBound,
			CrawlName:  a.crawl.Name,
			Filter:     a.cfg.Filter,
			Limit:      limit,
		})
		if err != nil {
			return nil, err
		}
		for _, target := range chunk {
			if _, dup := seen[target.ID]; dup {
				continue
			}
			seen[target.ID] = struct{}{}
			batch = append(batch, target)
		}
	}

	if len(batch) > 0 {
		if err := a.markQueued(ctx, batch); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// recomputeBuckets rebuilds the weight histogram and normalises the
// buckets' resource shares. Empty weight slices vanish; each remaining
// bucket's range extends to the next non-empty one, so no weight value
// falls between buckets.
func (a *Bucketed) recomputeBuckets(ctx context.Context) ([]core.Bucket, error) {
	counts, err := a.store.AggregateWeightBuckets(ctx, storage.BucketAggregationQuery{
		Path:       a.cfg.WeightPath,
		Boundaries: a.cfg.Boundaries,
		Filter:     a.cfg.Filter,
	})
	if err != nil {
		return nil, err
	}

	weighted := make([]storage.BucketCount, 0, len(counts))
	for _, count := range counts {
		if count.Unweighted {
			continue
		}
		weighted = append(weighted, count)
	}
	if len(weighted) == 0 {
		return nil, nil
	}

	maxBoundary := a.cfg.Boundaries[len(a.cfg.Boundaries)-1]
	buckets := make([]core.Bucket, 0, len(weighted))
	for i, count := range weighted {
		upper := maxBoundary
		if i+1 < len(weighted) {
			upper = weighted[i+1].Lower
		}
		buckets = append(buckets, core.Bucket{
			Path:             a.cfg.WeightPath,
			ImportanceFactor: a.importance(i + 1),
			LowerBound:       count.Lower,
			UpperBound:       upper,
			AbsoluteSize:     count.Count,
		})
	}

	var total float64
	for i := range buckets {
		total += buckets[i].Weight()
	}
	for i := range buckets {
		if err := buckets[i].Normalise(total); err != nil {
			return nil, err
		}
	}
	return buckets, nil
}

// markQueued stamps the emitted targets with the crawl's queue time so
// subsequent batches rotate onward.
func (a *Bucketed) markQueued(ctx context.Context, batch []core.Target) error {
	ids := make([]string, len(batch))
	for i, target := range batch {
		ids[i] = target.ID
	}
	update := storage.NewUpdate().Set(storage.FieldPath("last_queued", a.crawl.Name), a.now())
	if err := a.store.UpdateTargets(ctx, ids, update); err != nil {
		return fmt.Errorf("mark targets queued: %w", err)
	}
	return nil
}
