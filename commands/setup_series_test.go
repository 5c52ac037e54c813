package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/config"
	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/crawler"
	"github.com/c360studio/trawler/storage/memstore"
)

const detailStage = `{
	"name": "detail",
	"request": {"task": "request.gps.detail", "kwargs": {"expand_similar": true}},
	"pipelines": [{"task": "pipeline.data_storage", "kwargs": {"document_type": "DETAIL"}}],
	"terminators": [{"task": "terminator.static", "kwargs": {"limit": 1}}]
}`

func denyAll(string) bool  { return false }
func allowAll(string) bool { return true }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExpandStagePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", detailStage)
	writeFile(t, dir, "a.json", detailStage)

	paths, err := expandStagePatterns([]string{filepath.Join(dir, "*.json")})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, paths)

	// Explicit arguments keep their order, later matches deduplicate.
	paths, err = expandStagePatterns([]string{
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "*.json"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "b.json"), filepath.Join(dir, "a.json")}, paths)

	_, err = expandStagePatterns([]string{filepath.Join(dir, "missing-*.json")})
	require.ErrorContains(t, err, "matches no files")
}

func TestLoadStagesValidatesAndDecodes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "detail.json", detailStage)
	known := map[string]bool{
		"request.gps.detail":    true,
		"pipeline.data_storage": true,
		"terminator.static":     true,
	}

	stages, err := loadStages([]string{path}, known, denyAll)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "detail", stages[0].Name)
	assert.Equal(t, "request.gps.detail", stages[0].Request.Task)
	require.Len(t, stages[0].Pipelines, 1)
}

func TestLoadStagesRejectsSchemaViolations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.json", `{"name": 7, "request": {"task": "request.gps.detail"}}`)

	_, err := loadStages([]string{path}, nil, allowAll)
	require.ErrorContains(t, err, "stage schema")
}

func TestLoadStagesUnknownTasksNeedConfirmation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "detail.json", detailStage)

	_, err := loadStages([]string{path}, nil, denyAll)
	require.ErrorContains(t, err, "unregistered tasks")

	stages, err := loadStages([]string{path}, nil, allowAll)
	require.NoError(t, err)
	require.Len(t, stages, 1)
}

func TestLoadFilterCountsMatchingTargets(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertTarget(ctx, &core.Target{Kwargs: core.Kwargs{"app_id": "com.a", "lang": "en"}}))
	require.NoError(t, store.InsertTarget(ctx, &core.Target{Kwargs: core.Kwargs{"app_id": "com.b", "lang": "de"}}))

	path := writeFile(t, t.TempDir(), "filter.json", `{"kwargs.lang": "en"}`)

	var out bytes.Buffer
	filter, err := loadFilter(ctx, &out, store, path)
	require.NoError(t, err)
	assert.Equal(t, `{"kwargs.lang": "en"}`, filter)
	assert.Contains(t, out.String(), "1 targets match")
}

func TestLoadFilterRejectsBadDocuments(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	dir := t.TempDir()
	var out bytes.Buffer

	_, err := loadFilter(ctx, &out, store, writeFile(t, dir, "notjson.json", "not json"))
	require.ErrorContains(t, err, "no JSON document")

	_, err = loadFilter(ctx, &out, store, writeFile(t, dir, "badop.json", `{"$and": "not a list"}`))
	require.ErrorContains(t, err, "does not accept")
}

func TestWriteSeriesInsertsNewSeries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	series := &core.Series{
		Name:   "gps",
		Stages: []core.Stage{{Name: "detail", Request: core.TaskSignature{Task: "request.gps.detail"}}},
	}
	id, err := writeSeries(ctx, store, series, denyAll)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := store.SeriesByName(ctx, "gps")
	require.NoError(t, err)
	assert.Equal(t, id, stored.ID)
}

func TestWriteSeriesReplacesConfigurationKeepingHistory(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	existing := &core.Series{
		Name:       "gps",
		Stages:     []core.Stage{{Name: "old", Request: core.TaskSignature{Task: "request.gps.detail"}}},
		Crawls:     []string{"crawl-1"},
		Iterations: 1,
	}
	require.NoError(t, store.InsertSeries(ctx, existing))

	replacement := &core.Series{
		Name:        "gps",
		Description: "fresh",
		Stages:      []core.Stage{{Name: "new", Request: core.TaskSignature{Task: "request.gps.detail"}}},
		Filter:      `{"tags": "seed"}`,
	}
	id, err := writeSeries(ctx, store, replacement, allowAll)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	stored, err := store.SeriesByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Description)
	require.Len(t, stored.Stages, 1)
	assert.Equal(t, "new", stored.Stages[0].Name)
	assert.Equal(t, `{"tags": "seed"}`, stored.Filter)
	assert.Equal(t, []string{"crawl-1"}, stored.Crawls)
	assert.Equal(t, 1, stored.Iterations)
}

func TestWriteSeriesAbortsWithoutConfirmation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.InsertSeries(ctx, &core.Series{Name: "gps"}))

	_, err := writeSeries(ctx, store, &core.Series{Name: "gps"}, denyAll)
	require.ErrorContains(t, err, "aborted")
}

func TestBuildRegistryBindsAllTasks(t *testing.T) {
	store := memstore.New()

	registry, err := buildRegistry(store, store, crawler.Dependencies{}, config.DefaultConfig(), nil)
	require.NoError(t, err)

	tasks := registry.Tasks()
	for _, task := range []string{
		"crawler.multi_stage",
		"crawler.single_stage",
		"pipeline.data_storage",
		"pipeline.target_discovery",
		"callback.target_monitor",
		"terminator.static",
		"terminator.overlap",
		"terminator.budget",
		"request.gps.detail",
		"request.gps.reviews",
		"request.gps.permission",
		"request.gps.data_safety",
	} {
		assert.Contains(t, tasks, task)
	}
}
