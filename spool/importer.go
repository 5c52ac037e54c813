// Package spool feeds targets into the store from the filesystem: a
// bulk importer with the setup-targets semantics and a drop-directory
// watcher that applies them to every file landing in a spool
// directory.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// DefaultBucketSize is the number of targets inserted per write.
const DefaultBucketSize = 10000

// ImportOptions parameterise one bulk import.
type ImportOptions struct {
	// Languages to cross every app id with; one target per pair.
	Languages []string
	// Tags stamped onto created targets and merged into existing ones.
	Tags []string
	// UpsertTags merges Tags into targets that already exist. Without
	// it existing targets are left untouched and counted as skipped.
	UpsertTags bool
	// ContinueOnError counts ambiguous targets instead of aborting.
	ContinueOnError bool
	// BucketSize bounds one insert batch, DefaultBucketSize when zero.
	BucketSize int
}

// ImportStats sums up one bulk import.
type ImportStats struct {
	Added   int
	Updated int
	Skipped int
	Errors  int
}

func (s ImportStats) String() string {
	return fmt.Sprintf("added %d, updated %d, skipped %d, errors %d",
		s.Added, s.Updated, s.Skipped, s.Errors)
}

// Importer writes app id and language pairs into the target store.
type Importer struct {
	store  storage.TargetStore
	logger *slog.Logger
}

// NewImporter returns an importer against the given store.
func NewImporter(store storage.TargetStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger.With("component", "spool")}
}

// ParseTargetList decodes a target file: a JSON array of app ids.
func ParseTargetList(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("target list must be a JSON array of app ids: %w", err)
	}
	return ids, nil
}

// ImportFile imports the target list in the given file.
func (i *Importer) ImportFile(ctx context.Context, path string, opts ImportOptions) (ImportStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("read target list: %w", err)
	}
	ids, err := ParseTargetList(data)
	if err != nil {
		return ImportStats{}, err
	}
	return i.ImportIDs(ctx, ids, opts)
}

// ImportIDs creates one target per app id and language pair. Existing
// targets are updated or skipped depending on UpsertTags; a pair
// matching more than one stored target is ambiguous and aborts the
// import unless ContinueOnError counts it instead.
func (i *Importer) ImportIDs(ctx context.Context, appIDs []string, opts ImportOptions) (ImportStats, error) {
	var stats ImportStats
	if len(opts.Languages) == 0 {
		return stats, errors.New("import needs at least one language")
	}
	if opts.BucketSize <= 0 {
		opts.BucketSize = DefaultBucketSize
	}

	bucket := make([]*core.Target, 0, opts.BucketSize)
	flush := func() error {
		if len(bucket) == 0 {
			return nil
		}
		inserted, err := i.store.InsertTargets(ctx, bucket)
		if err != nil {
			return fmt.Errorf("insert targets: %w", err)
		}
		// Targets discovered concurrently are skipped by the store.
		if raced := len(bucket) - inserted; raced > 0 {
			stats.Added -= raced
			stats.Skipped += raced
		}
		bucket = bucket[:0]
		return nil
	}

	for _, appID := range appIDs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		for _, lang := range opts.Languages {
			matches, err := i.store.TargetsByKwargsFields(ctx, map[string]any{
				"app_id": appID,
				"lang":   lang,
			})
			if err != nil {
				return stats, fmt.Errorf("look up target %s/%s: %w", appID, lang, err)
			}
			switch {
			case len(matches) > 1:
				if !opts.ContinueOnError {
					return stats, fmt.Errorf("multiple targets exist for app_id %q lang %q", appID, lang)
				}
				stats.Errors++
			case len(matches) == 1:
				if !opts.UpsertTags {
					stats.Skipped++
					continue
				}
				target := matches[0]
				update := storage.NewUpdate().Set("tags", mergeTags(target.Tags, opts.Tags))
				if err := i.store.UpdateTarget(ctx, target.ID, update); err != nil {
					return stats, fmt.Errorf("update tags of %s: %w", target.ID, err)
				}
				stats.Updated++
			default:
				bucket = append(bucket, &core.Target{
					Tags:   opts.Tags,
					Kwargs: core.Kwargs{"app_id": appID, "lang": lang},
				})
				stats.Added++
				if len(bucket) >= opts.BucketSize {
					if err := flush(); err != nil {
						return stats, err
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// mergeTags appends the tags missing from existing; duplicates already
// stored are kept as they are.
func mergeTags(existing, add []string) []string {
	merged := append([]string(nil), existing...)
	for _, tag := range add {
		if !slices.Contains(merged, tag) {
			merged = append(merged, tag)
		}
	}
	return merged
}
