package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/storage/memstore"
)

func startWatcher(t *testing.T, store *memstore.Store, dir string) *Watcher {
	t.Helper()

	watcher, err := NewWatcher(Config{
		Dir:           dir,
		Languages:     []string{"en"},
		Tags:          []string{"spool"},
		DebounceDelay: 20 * time.Millisecond,
	}, NewImporter(store, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, watcher.Start(ctx))
	t.Cleanup(func() { _ = watcher.Stop() })

	return watcher
}

func waitForMarker(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherImportsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	startWatcher(t, store, dir)

	path := filepath.Join(dir, "ids.json")
	require.NoError(t, os.WriteFile(path, []byte(`["com.app.one"]`), 0o644))

	waitForMarker(t, path+doneSuffix)

	count, err := store.CountTargets(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWatcherMarksBadFile(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	startWatcher(t, store, dir)

	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	waitForMarker(t, path+errSuffix)

	count, err := store.CountTargets(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestWatcherImportsExistingFilesOnStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backlog.json")
	require.NoError(t, os.WriteFile(path, []byte(`["com.app.two"]`), 0o644))

	store := memstore.New()
	startWatcher(t, store, dir)

	waitForMarker(t, path+doneSuffix)

	count, err := store.CountTargets(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWatcherIgnoresMarkerFiles(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	watcher := startWatcher(t, store, dir)

	watcher.enqueue(filepath.Join(dir, "old.json.done"))
	watcher.enqueue(filepath.Join(dir, ".hidden.json"))

	watcher.pendingMu.Lock()
	defer watcher.pendingMu.Unlock()
	assert.Empty(t, watcher.pending)
}
