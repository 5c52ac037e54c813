// Package memstore implements the storage interfaces in memory. It
// backs tests and the embedded single-process mode; documents are kept
// as generic JSON-shaped maps so that field-operator updates behave
// like their MongoDB counterparts.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// Store is an in-memory MetadataStore and DataStore.
type Store struct {
	mu sync.RWMutex

	series  map[string]map[string]any
	crawls  map[string]map[string]any
	targets map[string]map[string]any
	tokens  map[string]map[string]any

	// documents holds the data store side: collection -> id -> doc.
	documents map[string]map[string]json.RawMessage

	// identity lists the kwargs fields forming the unique target
	// identity. Empty means the whole kwargs document.
	identity []string

	// insertion counters keep creation order for LastCrawl.
	crawlSeq int
	order    map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithTargetIdentity sets the kwargs fields that identify a target.
func WithTargetIdentity(fields ...string) Option {
	return func(s *Store) {
		s.identity = append([]string(nil), fields...)
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		series:    make(map[string]map[string]any),
		crawls:    make(map[string]map[string]any),
		targets:   make(map[string]map[string]any),
		tokens:    make(map[string]map[string]any),
		documents: make(map[string]map[string]json.RawMessage),
		order:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.MetadataStore = (*Store)(nil)
var _ storage.DataStore = (*Store)(nil)

// EnsureIndexes is a no-op; uniqueness is enforced on every insert.
func (s *Store) EnsureIndexes(ctx context.Context) error { return nil }

// --- series ---

func (s *Store) InsertSeries(ctx context.Context, series *core.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if series.ID == "" {
		series.ID = uuid.NewString()
	}
	for _, doc := range s.series {
		if doc["name"] == series.Name {
			return fmt.Errorf("series name %q: %w", series.Name, storage.ErrDuplicateKey)
		}
	}
	doc, err := toDocument(series)
	if err != nil {
		return err
	}
	s.series[series.ID] = doc
	return nil
}

func (s *Store) SaveSeries(ctx context.Context, series *core.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if series.ID == "" {
		return fmt.Errorf("save series: missing id")
	}
	doc, err := toDocument(series)
	if err != nil {
		return err
	}
	s.series[series.ID] = doc
	return nil
}

func (s *Store) SeriesByID(ctx context.Context, id string) (*core.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.series[id]
	if !ok {
		return nil, fmt.Errorf("series %q: %w", id, storage.ErrNotFound)
	}
	var series core.Series
	if err := fromDocument(doc, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

func (s *Store) SeriesByName(ctx context.Context, name string) (*core.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.series {
		if doc["name"] == name {
			var series core.Series
			if err := fromDocument(doc, &series); err != nil {
				return nil, err
			}
			return &series, nil
		}
	}
	return nil, fmt.Errorf("series %q: %w", name, storage.ErrNotFound)
}

func (s *Store) ListSeries(ctx context.Context) ([]core.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Series, 0, len(s.series))
	for _, doc := range s.series {
		var series core.Series
		if err := fromDocument(doc, &series); err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- crawls ---

func (s *Store) InsertCrawl(ctx context.Context, crawl *core.Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if crawl.ID == "" {
		crawl.ID = uuid.NewString()
	}
	doc, err := toDocument(crawl)
	if err != nil {
		return err
	}
	s.crawls[crawl.ID] = doc
	s.crawlSeq++
	s.order[crawl.ID] = s.crawlSeq
	return nil
}

func (s *Store) CrawlByID(ctx context.Context, id string) (*core.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.crawls[id]
	if !ok {
		return nil, fmt.Errorf("crawl %q: %w", id, storage.ErrNotFound)
	}
	var crawl core.Crawl
	if err := fromDocument(doc, &crawl); err != nil {
		return nil, err
	}
	return &crawl, nil
}

func (s *Store) LastCrawl(ctx context.Context, seriesID string) (*core.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bestID := ""
	bestSeq := -1
	for id, doc := range s.crawls {
		if doc["series"] != seriesID {
			continue
		}
		if seq := s.order[id]; seq > bestSeq {
			bestSeq = seq
			bestID = id
		}
	}
	if bestID == "" {
		return nil, fmt.Errorf("last crawl of series %q: %w", seriesID, storage.ErrNotFound)
	}
	var crawl core.Crawl
	if err := fromDocument(s.crawls[bestID], &crawl); err != nil {
		return nil, err
	}
	return &crawl, nil
}

func (s *Store) ListCrawls(ctx context.Context, seriesID string) ([]core.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, doc := range s.crawls {
		if seriesID == "" || doc["series"] == seriesID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })
	out := make([]core.Crawl, 0, len(ids))
	for _, id := range ids {
		var crawl core.Crawl
		if err := fromDocument(s.crawls[id], &crawl); err != nil {
			return nil, err
		}
		out = append(out, crawl)
	}
	return out, nil
}

func (s *Store) UpdateCrawl(ctx context.Context, id string, update *storage.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.crawls[id]
	if !ok {
		return fmt.Errorf("crawl %q: %w", id, storage.ErrNotFound)
	}
	return applyUpdate(doc, update)
}

// --- targets ---

func (s *Store) identityKey(kwargs core.Kwargs) (string, error) {
	subject := map[string]any(kwargs)
	if len(s.identity) > 0 {
		subject = make(map[string]any, len(s.identity))
		for _, field := range s.identity {
			subject[field] = kwargs[field]
		}
	}
	encoded, err := json.Marshal(subject)
	if err != nil {
		return "", fmt.Errorf("encode target identity: %w", err)
	}
	return string(encoded), nil
}

func (s *Store) insertTargetLocked(target *core.Target) error {
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	key, err := s.identityKey(target.Kwargs)
	if err != nil {
		return err
	}
	for _, doc := range s.targets {
		existing, err := s.identityKey(kwargsOf(doc))
		if err != nil {
			return err
		}
		if existing == key {
			return fmt.Errorf("target %v: %w", target.Kwargs, storage.ErrDuplicateKey)
		}
	}
	doc, err := toDocument(target)
	if err != nil {
		return err
	}
	s.targets[target.ID] = doc
	return nil
}

func (s *Store) InsertTarget(ctx context.Context, target *core.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTargetLocked(target)
}

func (s *Store) InsertTargets(ctx context.Context, targets []*core.Target) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, target := range targets {
		if err := s.insertTargetLocked(target); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (s *Store) TargetByID(ctx context.Context, id string) (*core.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %q: %w", id, storage.ErrNotFound)
	}
	var target core.Target
	if err := fromDocument(doc, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (s *Store) TargetByKwargs(ctx context.Context, kwargs core.Kwargs) (*core.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want, err := json.Marshal(map[string]any(kwargs))
	if err != nil {
		return nil, err
	}
	for _, doc := range s.targets {
		got, err := json.Marshal(kwargsOf(doc))
		if err != nil {
			return nil, err
		}
		if string(got) == string(want) {
			var target core.Target
			if err := fromDocument(doc, &target); err != nil {
				return nil, err
			}
			return &target, nil
		}
	}
	return nil, fmt.Errorf("target by kwargs: %w", storage.ErrNotFound)
}

func (s *Store) TargetsByKwargsFields(ctx context.Context, fields map[string]any) ([]core.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Target, 0)
	for _, doc := range s.targets {
		kwargs := kwargsOf(doc)
		match := true
		for field, want := range fields {
			if !looseEqual(kwargs[field], want) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		var target core.Target
		if err := fromDocument(doc, &target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountTargets(ctx context.Context, filter map[string]any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, doc := range s.targets {
		ok, err := matchFilter(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateTarget(ctx context.Context, id string, update *storage.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("target %q: %w", id, storage.ErrNotFound)
	}
	return applyUpdate(doc, update)
}

func (s *Store) UpdateTargets(ctx context.Context, ids []string, update *storage.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		doc, ok := s.targets[id]
		if !ok {
			continue
		}
		if err := applyUpdate(doc, update); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) StaticTargetBatch(ctx context.Context, q storage.StaticBatchQuery) ([]core.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id     string
		queued time.Time
		fresh  bool
	}
	candidates := make([]candidate, 0)
	for id, doc := range s.targets {
		ok, err := matchFilter(doc, q.Filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		last, queuedEver := lastQueuedAt(doc, q.SeriesID)
		if queuedEver && !last.Before(q.CrawlStarted) {
			continue
		}
		candidates = append(candidates, candidate{id: id, queued: last, fresh: !queuedEver})
	}

	// Never-queued targets first, then the least recently queued.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fresh != b.fresh {
			return a.fresh
		}
		if a.fresh {
			return a.id < b.id
		}
		if !a.queued.Equal(b.queued) {
			return a.queued.Before(b.queued)
		}
		return a.id < b.id
	})

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}
	out := make([]core.Target, 0, len(candidates))
	for _, c := range candidates {
		var target core.Target
		if err := fromDocument(s.targets[c.id], &target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

func (s *Store) AggregateWeightBuckets(ctx context.Context, q storage.BucketAggregationQuery) ([]storage.BucketCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int64)
	var unweighted int64
	for _, doc := range s.targets {
		ok, err := matchFilter(doc, q.Filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		weight, found := numericAtPath(doc, q.Path)
		lower, bucketed := bucketLower(weight, q.Boundaries)
		if !found || !bucketed {
			unweighted++
			continue
		}
		counts[lower]++
	}

	lowers := make([]int64, 0, len(counts))
	for lower := range counts {
		lowers = append(lowers, lower)
	}
	sort.Slice(lowers, func(i, j int) bool { return lowers[i] < lowers[j] })

	out := make([]storage.BucketCount, 0, len(lowers)+1)
	for _, lower := range lowers {
		out = append(out, storage.BucketCount{Lower: lower, Count: counts[lower]})
	}
	if unweighted > 0 {
		out = append(out, storage.BucketCount{Count: unweighted, Unweighted: true})
	}
	return out, nil
}

func (s *Store) BucketTargetBatch(ctx context.Context, q storage.BucketBatchQuery) ([]core.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id     string
		queued time.Time
		fresh  bool
	}
	candidates := make([]candidate, 0)
	for id, doc := range s.targets {
		ok, err := matchFilter(doc, q.Filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		weight, found := numericAtPath(doc, q.Path)
		if !found || int64(weight) < q.LowerBound || int64(weight) >= q.UpperBound {
			continue
		}
		last, queuedEver := lastQueuedFor(doc, q.CrawlName)
		candidates = append(candidates, candidate{id: id, queued: last, fresh: !queuedEver})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fresh != b.fresh {
			return a.fresh
		}
		if a.fresh {
			return a.id < b.id
		}
		if !a.queued.Equal(b.queued) {
			return a.queued.Before(b.queued)
		}
		return a.id < b.id
	})

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}
	out := make([]core.Target, 0, len(candidates))
	for _, c := range candidates {
		var target core.Target
		if err := fromDocument(s.targets[c.id], &target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

// --- tokens ---

func (s *Store) InsertToken(ctx context.Context, token *core.ExecutionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	doc, err := toDocument(token)
	if err != nil {
		return err
	}
	s.tokens[token.ID] = doc
	return nil
}

func (s *Store) TokenByID(ctx context.Context, id string) (*core.ExecutionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("execution token %q: %w", id, storage.ErrNotFound)
	}
	var token core.ExecutionToken
	if err := fromDocument(doc, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) UpdateToken(ctx context.Context, id string, update *storage.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("execution token %q: %w", id, storage.ErrNotFound)
	}
	return applyUpdate(doc, update)
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("execution token %q: %w", id, storage.ErrNotFound)
	}
	delete(s.tokens, id)
	return nil
}

func (s *Store) CountOpenTokens(ctx context.Context, crawlID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, doc := range s.tokens {
		if !tokenOpen(doc, crawlID) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) OpenTokens(ctx context.Context, crawlID string) ([]core.ExecutionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []core.ExecutionToken
	for _, doc := range s.tokens {
		if !tokenOpen(doc, crawlID) {
			continue
		}
		var token core.ExecutionToken
		if err := fromDocument(doc, &token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Created.Before(tokens[j].Created) })
	return tokens, nil
}

func tokenOpen(doc map[string]any, crawlID string) bool {
	if doc["crawl"] != crawlID {
		return false
	}
	if _, finished := doc["finished"]; finished {
		return false
	}
	if _, failed := doc["failed"]; failed {
		return false
	}
	return true
}

// --- data store ---

func (s *Store) LoadDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[collection][id]
	if !ok {
		return nil, fmt.Errorf("document %s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (s *Store) SaveDocument(ctx context.Context, collection, id string, document json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.documents[collection] == nil {
		s.documents[collection] = make(map[string]json.RawMessage)
	}
	s.documents[collection][id] = append(json.RawMessage(nil), document...)
	return nil
}

// DocumentCount reports how many documents a collection holds, a test
// convenience.
func (s *Store) DocumentCount(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents[collection])
}

func kwargsOf(doc map[string]any) core.Kwargs {
	kwargs, _ := doc["kwargs"].(map[string]any)
	return core.Kwargs(kwargs)
}
