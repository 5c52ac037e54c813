package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/historic"
	"github.com/c360studio/trawler/storage"
	"github.com/c360studio/trawler/storage/memstore"
)

type storedApp struct {
	historic.History
	AppID string `json:"app_id"`
	Title string `json:"title"`
}

func (d *storedApp) Key() string { return d.AppID }

func (d *storedApp) Collection() string { return "details" }

func (d *storedApp) WCFWeights() map[string]float64 { return nil }

func (d *storedApp) Weight() int { return 1 }

func buildStoredApp(record map[string]any) (historic.Document, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var doc storedApp
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.AppID == "" {
		return nil, fmt.Errorf("record without app_id")
	}
	return &doc, nil
}

func newTestTasks(t *testing.T, store *memstore.Store) *Tasks {
	t.Helper()
	factory := NewFactoryRegistry()
	factory.Register("app_detail", buildStoredApp)
	crawls, err := storage.NewCrawlCache(store, 8)
	require.NoError(t, err)
	return NewTasks(store, historic.NewSaver(store, nil), factory, crawls, nil)
}

func storageRequest(result *core.RequestResult, crawlID string) dispatch.Request {
	return dispatch.Request{
		Task: dispatch.TaskDataStorage,
		Kwargs: core.Kwargs{
			"request_result": result,
			"crawl_id":       crawlID,
			"document_type":  "app_detail",
		},
	}
}

func TestDataStoragePersistsBatchRecords(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertCrawl(ctx, &core.Crawl{ID: "crawl-1", Name: "s_1"}))
	tasks := newTestTasks(t, store)

	batch := core.NewRequestResult(map[string]any{
		"records": []any{
			map[string]any{"app_id": "com.one", "title": "One"},
			map[string]any{"app_id": "com.two", "title": "Two"},
		},
	})
	batch.Batch = true

	value, err := tasks.DataStorage(ctx, storageRequest(batch, "crawl-1"))
	require.NoError(t, err)
	result, ok := value.(core.PipelineResult)
	require.True(t, ok)

	assert.Equal(t, map[string]any{
		"new_documents":       2,
		"updated_documents":   0,
		"processed_documents": 2,
		"total_changes":       0,
	}, result.Statistics)
	require.NotNil(t, result.Weight)
	assert.Equal(t, 2, *result.Weight)
	assert.EqualValues(t, 2, result.Metrics["bfm"])
	assert.EqualValues(t, 2, result.Metrics["cfm"])
}

func TestDataStorageCountsUpdatesAndChanges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertCrawl(ctx, &core.Crawl{ID: "crawl-1", Name: "s_1"}))
	tasks := newTestTasks(t, store)

	first := core.NewRequestResult(map[string]any{"app_id": "com.one", "title": "One"})
	_, err := tasks.DataStorage(ctx, storageRequest(first, "crawl-1"))
	require.NoError(t, err)

	second := core.NewRequestResult(map[string]any{"app_id": "com.one", "title": "One v2"})
	value, err := tasks.DataStorage(ctx, storageRequest(second, "crawl-1"))
	require.NoError(t, err)
	result := value.(core.PipelineResult)

	assert.Equal(t, map[string]any{
		"new_documents":       0,
		"updated_documents":   1,
		"processed_documents": 1,
		"total_changes":       1,
	}, result.Statistics)
	assert.EqualValues(t, 1, result.Metrics["bfm"])
}

func TestDataStorageRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertCrawl(ctx, &core.Crawl{ID: "crawl-1", Name: "s_1"}))
	tasks := newTestTasks(t, store)

	result := core.NewRequestResult(map[string]any{"app_id": "com.one", "title": "One"})
	_, err := tasks.DataStorage(ctx, storageRequest(result, "crawl-1"))
	require.NoError(t, err)

	value, err := tasks.DataStorage(ctx, storageRequest(result, "crawl-1"))
	require.NoError(t, err)
	replay := value.(core.PipelineResult)
	assert.Equal(t, 0, replay.Statistics["new_documents"])
	assert.Equal(t, 0, replay.Statistics["total_changes"])
}

func TestDataStorageRejectsUnknownDocumentType(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertCrawl(ctx, &core.Crawl{ID: "crawl-1", Name: "s_1"}))
	tasks := newTestTasks(t, store)

	req := storageRequest(core.NewRequestResult(map[string]any{"app_id": "x"}), "crawl-1")
	req.Kwargs["document_type"] = "unknown"
	_, err := tasks.DataStorage(ctx, req)
	require.Error(t, err)
	assert.True(t, dispatch.IsNonRetryable(err))
}

func TestDataStorageUnknownCrawlFails(t *testing.T) {
	store := memstore.New()
	tasks := newTestTasks(t, store)

	req := storageRequest(core.NewRequestResult(map[string]any{"app_id": "x"}), "missing")
	_, err := tasks.DataStorage(context.Background(), req)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func discoveryRequest(result *core.RequestResult, defaults []core.SlimTarget) dispatch.Request {
	kwargs := core.Kwargs{
		"request_result": result,
		"crawl_id":       "crawl-1",
	}
	if defaults != nil {
		kwargs["target_defaults"] = defaults
	}
	return dispatch.Request{Task: dispatch.TaskTargetDiscovery, Kwargs: kwargs}
}

func TestTargetDiscoveryProductWithDefaults(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithTargetIdentity("app_id", "lang"))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		Kwargs: core.Kwargs{"app_id": "com.one", "lang": "en"},
	}))
	tasks := newTestTasks(t, store)

	result := core.NewRequestResult(map[string]any{"body": "page"})
	result.AdjacentTargets = []core.SlimTarget{
		{Kwargs: core.Kwargs{"app_id": "com.one"}},
		{Kwargs: core.Kwargs{"app_id": "com.two"}, Tags: []string{"store"}},
		{Kwargs: core.Kwargs{"app_id": "com.one"}}, // duplicate, dropped
	}
	defaults := []core.SlimTarget{
		{Kwargs: core.Kwargs{"lang": "en"}, Tags: []string{"default"}},
		{Kwargs: core.Kwargs{"lang": "de"}},
	}

	value, err := tasks.TargetDiscovery(ctx, discoveryRequest(result, defaults))
	require.NoError(t, err)
	stats := value.(core.PipelineResult).Statistics

	// com.one/en exists already; the other three pairs are new.
	assert.Equal(t, map[string]any{"new_targets": 3, "checked_targets": 4}, stats)

	count, err := store.CountTargets(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	inserted, err := store.TargetByKwargs(ctx, core.Kwargs{"app_id": "com.two", "lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, "crawl-1", inserted.DiscoveredBy)
	assert.False(t, inserted.DiscoveredAt.IsZero())
	assert.ElementsMatch(t, []string{"default", "store"}, inserted.Tags)
}

func TestTargetDiscoveryWithoutDefaults(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithTargetIdentity("app_id"))
	tasks := newTestTasks(t, store)

	result := core.NewRequestResult(map[string]any{})
	result.AdjacentTargets = []core.SlimTarget{
		{Kwargs: core.Kwargs{"app_id": "com.one"}},
		{Kwargs: core.Kwargs{"app_id": "com.two"}},
	}

	value, err := tasks.TargetDiscovery(ctx, discoveryRequest(result, nil))
	require.NoError(t, err)
	stats := value.(core.PipelineResult).Statistics
	assert.Equal(t, map[string]any{"new_targets": 2, "checked_targets": 2}, stats)
}

func TestTargetDiscoveryAdjacentKwargsWin(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithTargetIdentity("app_id"))
	tasks := newTestTasks(t, store)

	result := core.NewRequestResult(map[string]any{})
	result.AdjacentTargets = []core.SlimTarget{
		{Kwargs: core.Kwargs{"app_id": "com.one", "lang": "de"}},
	}
	defaults := []core.SlimTarget{
		{Kwargs: core.Kwargs{"lang": "en", "country": "us"}},
	}

	_, err := tasks.TargetDiscovery(ctx, discoveryRequest(result, defaults))
	require.NoError(t, err)

	target, err := store.TargetByKwargs(ctx, core.Kwargs{"app_id": "com.one", "lang": "de", "country": "us"})
	require.NoError(t, err)
	assert.Equal(t, "de", target.Kwargs["lang"])
}

func TestTargetDiscoveryNothingAdjacent(t *testing.T) {
	store := memstore.New()
	tasks := newTestTasks(t, store)

	value, err := tasks.TargetDiscovery(context.Background(), discoveryRequest(core.NewRequestResult(nil), nil))
	require.NoError(t, err)
	stats := value.(core.PipelineResult).Statistics
	assert.Equal(t, map[string]any{"new_targets": 0, "checked_targets": 0}, stats)
}

func TestFactoryRegistryTypes(t *testing.T) {
	factory := NewFactoryRegistry()
	factory.Register("gps_review", buildStoredApp)
	factory.Register("gps_detail", buildStoredApp)
	assert.Equal(t, []string{"gps_detail", "gps_review"}, factory.Types())

	_, err := factory.Build("gps_permission", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "gps_permission")
}
