package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c360studio/trawler/core"
)

// SeriesStore persists series configurations.
type SeriesStore interface {
	// InsertSeries stores a new series, assigning an id when empty.
	// Returns ErrDuplicateKey when the name is taken.
	InsertSeries(ctx context.Context, series *core.Series) error
	// SaveSeries replaces the stored series document.
	SaveSeries(ctx context.Context, series *core.Series) error
	SeriesByID(ctx context.Context, id string) (*core.Series, error)
	SeriesByName(ctx context.Context, name string) (*core.Series, error)
	ListSeries(ctx context.Context) ([]core.Series, error)
}

// CrawlStore persists crawls and their counters.
type CrawlStore interface {
	InsertCrawl(ctx context.Context, crawl *core.Crawl) error
	CrawlByID(ctx context.Context, id string) (*core.Crawl, error)
	// LastCrawl returns the most recently created crawl of a series,
	// or ErrNotFound when the series has none.
	LastCrawl(ctx context.Context, seriesID string) (*core.Crawl, error)
	ListCrawls(ctx context.Context, seriesID string) ([]core.Crawl, error)
	// UpdateCrawl applies field operators to one crawl document.
	UpdateCrawl(ctx context.Context, id string, update *Update) error
}

// StaticBatchQuery selects the next batch for a drain-once allocation:
// targets matching Filter that were never queued for the series or
// whose last queueing predates the crawl start, least recently queued
// first.
type StaticBatchQuery struct {
	SeriesID     string
	CrawlStarted time.Time
	Filter       map[string]any
	Limit        int
}

// BucketCount is one slice of the weight histogram returned by
// AggregateWeightBuckets.
type BucketCount struct {
	// Lower is the inclusive lower boundary of the slice.
	Lower int64
	Count int64
	// Unweighted marks the overflow slice of targets without a value
	// under the aggregated path.
	Unweighted bool
}

// BucketAggregationQuery counts targets per weight boundary slice.
type BucketAggregationQuery struct {
	// Path to the weight field, "__" separated.
	Path       string
	Boundaries []int64
	Filter     map[string]any
}

// BucketBatchQuery selects targets inside one weight bucket: first
// those never queued for the crawl, then the longest unqueued ones.
type BucketBatchQuery struct {
	// Path to the weight field, "__" separated.
	Path       string
	LowerBound int64
	// UpperBound is exclusive.
	UpperBound int64
	CrawlName  string
	Filter     map[string]any
	Limit      int
}

// TargetStore persists targets and serves the allocator queries.
type TargetStore interface {
	// EnsureIndexes creates the store's indexes, most importantly
	// the unique index over the kwargs identity fields of targets.
	EnsureIndexes(ctx context.Context) error
	// InsertTarget stores one target, assigning an id when empty.
	// Returns ErrDuplicateKey when the identity is taken.
	InsertTarget(ctx context.Context, target *core.Target) error
	// InsertTargets stores many targets in one unordered write.
	// Duplicates are skipped; the returned count is the number
	// actually inserted.
	InsertTargets(ctx context.Context, targets []*core.Target) (int, error)
	TargetByID(ctx context.Context, id string) (*core.Target, error)
	// TargetByKwargs matches the whole kwargs document.
	TargetByKwargs(ctx context.Context, kwargs core.Kwargs) (*core.Target, error)
	// TargetsByKwargsFields matches individual kwargs fields and may
	// return several targets.
	TargetsByKwargsFields(ctx context.Context, fields map[string]any) ([]core.Target, error)
	CountTargets(ctx context.Context, filter map[string]any) (int64, error)
	UpdateTarget(ctx context.Context, id string, update *Update) error
	UpdateTargets(ctx context.Context, ids []string, update *Update) error

	StaticTargetBatch(ctx context.Context, q StaticBatchQuery) ([]core.Target, error)
	AggregateWeightBuckets(ctx context.Context, q BucketAggregationQuery) ([]BucketCount, error)
	BucketTargetBatch(ctx context.Context, q BucketBatchQuery) ([]core.Target, error)
}

// TokenStore persists execution tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, token *core.ExecutionToken) error
	TokenByID(ctx context.Context, id string) (*core.ExecutionToken, error)
	UpdateToken(ctx context.Context, id string, update *Update) error
	// DeleteToken removes a token, the success path of a crawler
	// task.
	DeleteToken(ctx context.Context, id string) error
	// CountOpenTokens counts tokens of a crawl that neither finished
	// nor failed.
	CountOpenTokens(ctx context.Context, crawlID string) (int64, error)
	// OpenTokens returns those tokens, oldest first.
	OpenTokens(ctx context.Context, crawlID string) ([]core.ExecutionToken, error)
}

// MetadataStore is the full persistence surface of the engine's own
// documents.
type MetadataStore interface {
	SeriesStore
	CrawlStore
	TargetStore
	TokenStore
}

// DataStore persists harvested documents as opaque JSON, one
// collection per document type.
type DataStore interface {
	// LoadDocument returns the stored document or ErrNotFound.
	LoadDocument(ctx context.Context, collection, id string) (json.RawMessage, error)
	// SaveDocument stores the document under id, replacing any
	// previous version.
	SaveDocument(ctx context.Context, collection, id string, document json.RawMessage) error
}
