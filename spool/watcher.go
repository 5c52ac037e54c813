package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Outcome markers appended to processed spool files.
const (
	doneSuffix = ".done"
	errSuffix  = ".err"
)

// Config configures the drop-directory watcher.
type Config struct {
	// Dir is the drop directory, created when missing.
	Dir string
	// Languages to cross every imported app id with.
	Languages []string
	// Tags stamped onto imported targets.
	Tags []string
	// DebounceDelay is how long a dropped file may keep changing
	// before it is imported.
	DebounceDelay time.Duration
	// BucketSize bounds one insert batch.
	BucketSize int
}

func (c Config) withDefaults() Config {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 500 * time.Millisecond
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"en"}
	}
	return c
}

// Watcher imports every target list dropped into a spool directory and
// renames the file with the outcome marker, .done or .err. Files
// already carrying a marker and hidden files are ignored.
type Watcher struct {
	config   Config
	importer *Importer
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewWatcher returns a watcher feeding the given importer.
func NewWatcher(config Config, importer *Importer, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config:   config.withDefaults(),
		importer: importer,
		watcher:  fsw,
		logger:   logger.With("component", "spool"),
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching the drop directory. Files already present are
// queued first, so a watcher restarted over a filled spool catches up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.config.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return fmt.Errorf("scan spool dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.enqueue(filepath.Join(w.config.Dir, entry.Name()))
	}

	go w.run(ctx)

	w.logger.Info("spool watcher started",
		"dir", w.config.Dir,
		"debounce", w.config.DebounceDelay,
		"languages", w.config.Languages)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.enqueue(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("spool watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// enqueue schedules a dropped file, skipping outcome markers and
// hidden files.
func (w *Watcher) enqueue(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, doneSuffix) ||
		strings.HasSuffix(base, errSuffix) {
		return
	}
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

// flush imports the files that stopped changing for one debounce
// period.
func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	sort.Strings(batch)
	for _, path := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.importFile(ctx, path)
	}
}

// importFile runs one import and renames the file with the outcome
// marker.
func (w *Watcher) importFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	stats, err := w.importer.ImportFile(ctx, path, ImportOptions{
		Languages:       w.config.Languages,
		Tags:            w.config.Tags,
		UpsertTags:      true,
		ContinueOnError: true,
		BucketSize:      w.config.BucketSize,
	})
	marker := doneSuffix
	if err != nil {
		marker = errSuffix
		w.logger.Error("spool import failed", "file", path, "error", err)
	} else {
		w.logger.Info("spool import finished", "file", path, "stats", stats.String())
	}
	if err := os.Rename(path, path+marker); err != nil {
		w.logger.Error("mark spool file", "file", path, "error", err)
	}
}
