package spool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage/memstore"
)

func TestImportIDsCreatesTargetsPerLanguage(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	importer := NewImporter(store, nil)

	stats, err := importer.ImportIDs(ctx, []string{"com.app.one", "com.app.two"}, ImportOptions{
		Languages: []string{"en", "de"},
		Tags:      []string{"seed"},
	})
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Added: 4}, stats)

	count, err := store.CountTargets(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	target, err := store.TargetByKwargs(ctx, core.Kwargs{"app_id": "com.app.one", "lang": "de"})
	require.NoError(t, err)
	assert.Equal(t, []string{"seed"}, target.Tags)
	assert.Empty(t, target.DiscoveredBy)
}

func TestImportIDsUpsertsTagsIntoExistingTargets(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	importer := NewImporter(store, nil)

	existing := &core.Target{
		Tags:   []string{"old"},
		Kwargs: core.Kwargs{"app_id": "com.app.one", "lang": "en"},
	}
	require.NoError(t, store.InsertTarget(ctx, existing))

	stats, err := importer.ImportIDs(ctx, []string{"com.app.one"}, ImportOptions{
		Languages:  []string{"en"},
		Tags:       []string{"new", "old"},
		UpsertTags: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Updated: 1}, stats)

	target, err := store.TargetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, target.Tags)
}

func TestImportIDsSkipsExistingWithoutUpsert(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	importer := NewImporter(store, nil)

	existing := &core.Target{
		Tags:   []string{"old"},
		Kwargs: core.Kwargs{"app_id": "com.app.one", "lang": "en"},
	}
	require.NoError(t, store.InsertTarget(ctx, existing))

	stats, err := importer.ImportIDs(ctx, []string{"com.app.one"}, ImportOptions{
		Languages: []string{"en"},
		Tags:      []string{"new"},
	})
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Skipped: 1}, stats)

	target, err := store.TargetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, target.Tags)
}

func TestImportIDsFlushesBuckets(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	importer := NewImporter(store, nil)

	ids := []string{"com.a", "com.b", "com.c", "com.d", "com.e"}
	stats, err := importer.ImportIDs(ctx, ids, ImportOptions{
		Languages:  []string{"en"},
		BucketSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Added)

	count, err := store.CountTargets(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestImportIDsAmbiguousTarget(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	importer := NewImporter(store, nil)

	// Two stored targets match the pair on their identity fields: one
	// exact, one carrying an extra kwarg.
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		Kwargs: core.Kwargs{"app_id": "com.app.one", "lang": "en"},
	}))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{
		Kwargs: core.Kwargs{"app_id": "com.app.one", "lang": "en", "country": "us"},
	}))

	_, err := importer.ImportIDs(ctx, []string{"com.app.one"}, ImportOptions{
		Languages: []string{"en"},
	})
	require.Error(t, err)

	stats, err := importer.ImportIDs(ctx, []string{"com.app.one"}, ImportOptions{
		Languages:       []string{"en"},
		ContinueOnError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Errors: 1}, stats)
}

func TestImportIDsNeedsLanguages(t *testing.T) {
	importer := NewImporter(memstore.New(), nil)
	_, err := importer.ImportIDs(context.Background(), []string{"com.app.one"}, ImportOptions{})
	assert.Error(t, err)
}

func TestParseTargetList(t *testing.T) {
	ids, err := ParseTargetList([]byte(`["com.a", "com.b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a", "com.b"}, ids)

	_, err = ParseTargetList([]byte(`{"not": "a list"}`))
	assert.Error(t, err)

	_, err = ParseTargetList([]byte(`["com.a", 7]`))
	assert.Error(t, err)
}
