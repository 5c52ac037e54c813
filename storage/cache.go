package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360studio/trawler/core"
)

// CrawlCache is a read-through cache over CrawlByID. Pipelines and
// callbacks resolve the crawl of every task invocation; the fields
// they read (series, name, configuration) never change after the crawl
// is created, so entries are kept until evicted.
//
// The mutable counters on a cached crawl are stale by definition. Read
// those through the store.
type CrawlCache struct {
	store MetadataStore
	cache *lru.Cache[string, *core.Crawl]
}

// NewCrawlCache builds a cache holding up to size crawls.
func NewCrawlCache(store MetadataStore, size int) (*CrawlCache, error) {
	cache, err := lru.New[string, *core.Crawl](size)
	if err != nil {
		return nil, fmt.Errorf("create crawl cache: %w", err)
	}
	return &CrawlCache{store: store, cache: cache}, nil
}

// Get returns the crawl with the given id, from cache when possible.
func (c *CrawlCache) Get(ctx context.Context, id string) (*core.Crawl, error) {
	if crawl, ok := c.cache.Get(id); ok {
		return crawl, nil
	}
	crawl, err := c.store.CrawlByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, crawl)
	return crawl, nil
}
