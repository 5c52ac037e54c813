package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage/memstore"
)

func targetIDs(batch []core.Target) []string {
	ids := make([]string, len(batch))
	for i, target := range batch {
		ids[i] = target.ID
	}
	return ids
}

func drainCrawl() *core.Crawl {
	return &core.Crawl{
		ID:       "crawl-1",
		Name:     "s_1",
		SeriesID: "series-1",
		Started:  time.Now().UTC(),
	}
}

func TestStaticAllocatorDrainsInBatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		require.NoError(t, store.InsertTarget(ctx, &core.Target{ID: id, Kwargs: core.Kwargs{"app_id": id}}))
	}

	static, err := NewStatic(store, drainCrawl(), 2)
	require.NoError(t, err)

	first, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1", "t-2"}, targetIDs(first))

	second, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-3"}, targetIDs(second))

	done, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, done)

	// Exhaustion is sticky.
	done, err = static.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestStaticAllocatorQueueEligibility(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	crawl := drainCrawl()

	// Queued long before this crawl: eligible, but after fresh ones.
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		ID:     "t-stale",
		Kwargs: core.Kwargs{"app_id": "a"},
		Queued: map[string][]time.Time{"series-1": {crawl.Started.Add(-time.Hour)}},
	}))
	// Queued after the crawl started: this crawl already handled it.
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		ID:     "t-current",
		Kwargs: core.Kwargs{"app_id": "b"},
		Queued: map[string][]time.Time{"series-1": {crawl.Started.Add(time.Minute)}},
	}))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		ID:     "t-fresh",
		Kwargs: core.Kwargs{"app_id": "c"},
	}))

	static, err := NewStatic(store, crawl, 10)
	require.NoError(t, err)

	batch, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-fresh", "t-stale"}, targetIDs(batch))
}

func TestStaticAllocatorAppliesCrawlFilter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		ID: "t-in", Tags: []string{"store"}, Kwargs: core.Kwargs{"app_id": "a"},
	}))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		ID: "t-out", Tags: []string{"beta"}, Kwargs: core.Kwargs{"app_id": "b"},
	}))

	crawl := drainCrawl()
	require.NoError(t, crawl.SetFilterDocument(map[string]any{"tags": "store"}))

	static, err := NewStatic(store, crawl, 10)
	require.NoError(t, err)

	batch, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-in"}, targetIDs(batch))
}

func weightedTarget(id string, weight int) *core.Target {
	return &core.Target{
		ID:     id,
		Kwargs: core.Kwargs{"app_id": id},
		Statistics: map[string]map[string]*core.StageStatistics{
			"series-1": {"details": {Weight: weight}},
		},
	}
}

const weightPath = "statistics__series-1__details__weight"

func TestBucketedAllocatorDistributesByShare(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-a", 1)))
	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-b", 3)))
	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-c", 5)))
	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-d", 6)))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{ID: "t-e", Kwargs: core.Kwargs{"app_id": "e"}}))

	crawl := drainCrawl()
	uniform, err := NewUniform(store, crawl, BucketedConfig{WeightPath: weightPath, StepSize: 3})
	require.NoError(t, err)

	batch, err := uniform.Next(ctx)
	require.NoError(t, err)

	// Buckets [1,2), [2,4) and [4,2^62) share the step 1/1/2; the
	// unweighted target never qualifies.
	assert.Equal(t, []string{"t-a", "t-b", "t-c", "t-d"}, targetIDs(batch))

	queued, err := store.TargetByID(ctx, "t-a")
	require.NoError(t, err)
	assert.False(t, queued.LastQueued["s_1"].IsZero())
	unweighted, err := store.TargetByID(ctx, "t-e")
	require.NoError(t, err)
	assert.Empty(t, unweighted.LastQueued)

	// Continuous: everything is queued now, the rotation starts over
	// with the longest unqueued targets instead of exhausting.
	again, err := uniform.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 4)
}

func TestBucketedAllocatorEmptySetKeepsRunning(t *testing.T) {
	store := memstore.New()
	uniform, err := NewUniform(store, drainCrawl(), BucketedConfig{WeightPath: weightPath})
	require.NoError(t, err)

	batch, err := uniform.Next(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, batch, "an empty batch is not exhaustion")
	assert.Empty(t, batch)
}

func TestBucketedAllocatorRecomputesBuckets(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-a", 1)))

	uniform, err := NewUniform(store, drainCrawl(), BucketedConfig{
		WeightPath: weightPath,
		StepSize:   4,
		BucketTTL:  1,
	})
	require.NoError(t, err)

	batch, err := uniform.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-a"}, targetIDs(batch))

	require.NoError(t, store.InsertTarget(ctx, weightedTarget("t-heavy", 16)))

	batch, err = uniform.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, targetIDs(batch), "t-heavy", "a TTL of one recomputes buckets every step")
}

// The drain and continuous families record queue state on different
// target paths: Static reads and the scheduler pushes queued.<series>,
// Bucketed reads and stamps last_queued.<crawl>. Neither sees the
// other's bookkeeping.
func TestAllocatorQueuePathsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	crawl := drainCrawl()

	seriesQueued := weightedTarget("t-series-queued", 2)
	seriesQueued.Queued = map[string][]time.Time{"series-1": {crawl.Started.Add(time.Minute)}}
	require.NoError(t, store.InsertTarget(ctx, seriesQueued))

	crawlQueued := weightedTarget("t-crawl-queued", 2)
	crawlQueued.LastQueued = map[string]time.Time{"s_1": crawl.Started.Add(time.Minute)}
	require.NoError(t, store.InsertTarget(ctx, crawlQueued))

	static, err := NewStatic(store, crawl, 10)
	require.NoError(t, err)
	batch, err := static.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-crawl-queued"}, targetIDs(batch))

	uniform, err := NewUniform(store, crawl, BucketedConfig{WeightPath: weightPath, StepSize: 1})
	require.NoError(t, err)
	batch, err = uniform.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-series-queued"}, targetIDs(batch))
}

func TestProportionalAllocatorImportanceCurve(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, id := range []string{"l-1", "l-2", "l-3", "l-4"} {
		require.NoError(t, store.InsertTarget(ctx, weightedTarget(id, 1)))
	}
	for _, id := range []string{"h-1", "h-2", "h-3", "h-4"} {
		require.NoError(t, store.InsertTarget(ctx, weightedTarget(id, 2)))
	}

	quadratic := func(position int) float64 { return float64(position * position) }
	proportional, err := NewProportional(store, drainCrawl(), BucketedConfig{
		WeightPath: weightPath,
		StepSize:   4,
	}, quadratic)
	require.NoError(t, err)

	batch, err := proportional.Next(ctx)
	require.NoError(t, err)

	// Bucket weights 1*4 and 4*4 split the step 1:3 once rounded.
	var light, heavy int
	for _, target := range batch {
		if target.StageStatistics("series-1", "details").Weight == 1 {
			light++
		} else {
			heavy++
		}
	}
	assert.Equal(t, 1, light)
	assert.Equal(t, 3, heavy)
}

func TestDefaultBoundaries(t *testing.T) {
	boundaries := DefaultBoundaries()
	require.Len(t, boundaries, 64)
	assert.EqualValues(t, 0, boundaries[0])
	assert.EqualValues(t, 1, boundaries[1])
	assert.EqualValues(t, int64(1)<<62, boundaries[63])
	for i := 1; i < len(boundaries); i++ {
		assert.Greater(t, boundaries[i], boundaries[i-1])
	}
}
