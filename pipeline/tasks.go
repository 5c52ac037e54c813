package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/historic"
	"github.com/c360studio/trawler/storage"
)

// Tasks holds the pipeline task handlers.
type Tasks struct {
	store   storage.MetadataStore
	saver   *historic.Saver
	factory *FactoryRegistry
	crawls  *storage.CrawlCache
	logger  *slog.Logger
	now     func() time.Time
}

// NewTasks wires the pipeline handlers to their dependencies.
func NewTasks(store storage.MetadataStore, saver *historic.Saver, factory *FactoryRegistry, crawls *storage.CrawlCache, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{
		store:   store,
		saver:   saver,
		factory: factory,
		crawls:  crawls,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the pipeline tasks to the registry.
func (t *Tasks) Register(registry *dispatch.Registry) {
	registry.RegisterFunc(dispatch.TaskDataStorage, t.DataStorage)
	registry.RegisterFunc(dispatch.TaskTargetDiscovery, t.TargetDiscovery)
}

// DataStorage persists every record of a request result as a historic
// document and reports document counts, freshness metrics and the
// total document weight. Saving the same observation twice only adds a
// witness, so redelivery of the task is safe.
func (t *Tasks) DataStorage(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		RequestResult *core.RequestResult `json:"request_result"`
		CrawlID       string              `json:"crawl_id"`
		DocumentType  string              `json:"document_type"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.RequestResult == nil {
		return nil, dispatch.NonRetryable(errors.New("data storage without a request result"))
	}
	if args.DocumentType == "" {
		return nil, dispatch.NonRetryable(errors.New("data storage without a document type"))
	}
	// Ad-hoc stages run without a crawl; everything else must name
	// one that exists.
	if args.CrawlID != "" {
		if _, err := t.crawls.Get(ctx, args.CrawlID); err != nil {
			return nil, err
		}
	}

	records := args.RequestResult.Records()
	var (
		newDocuments     int
		updatedDocuments int
		totalChanges     int
		weight           int
		metrics          map[string]any
	)
	for _, record := range records {
		doc, err := t.factory.Build(args.DocumentType, record)
		if err != nil {
			return nil, dispatch.NonRetryable(err)
		}
		saved, err := t.saver.Save(ctx, doc, args.CrawlID)
		if err != nil {
			return nil, err
		}
		if saved.NewDocument {
			newDocuments++
		}
		if saved.ChangesObserved > 0 {
			updatedDocuments++
		}
		totalChanges += saved.ChangesObserved
		weight += doc.Weight()

		step := make(map[string]any, len(saved.Metrics))
		for name, value := range saved.Metrics {
			step[name] = value
		}
		metrics = core.CombineByAddition(metrics, step)
	}

	documentsProcessed.WithLabelValues(args.DocumentType).Add(float64(len(records)))
	documentsNew.WithLabelValues(args.DocumentType).Add(float64(newDocuments))

	return core.PipelineResult{
		Weight: &weight,
		Statistics: map[string]any{
			"new_documents":       newDocuments,
			"updated_documents":   updatedDocuments,
			"processed_documents": len(records),
			"total_changes":       totalChanges,
		},
		Metrics: metrics,
	}, nil
}

// TargetDiscovery inserts the targets found alongside a request
// result. Every adjacent target is combined with every configured
// default; targets whose kwargs already exist are skipped. new_targets
// counts the candidates that passed the existence check, which can
// overestimate when a concurrent pipeline wins the insert race.
func (t *Tasks) TargetDiscovery(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		RequestResult  *core.RequestResult `json:"request_result"`
		CrawlID        string              `json:"crawl_id"`
		TargetDefaults []core.SlimTarget   `json:"target_defaults"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.RequestResult == nil {
		return nil, dispatch.NonRetryable(errors.New("target discovery without a request result"))
	}

	adjacent := dedupeSlimTargets(args.RequestResult.AdjacentTargets)
	defaults := args.TargetDefaults
	if len(defaults) == 0 {
		defaults = []core.SlimTarget{{}}
	}
	checked := len(adjacent) * len(defaults)

	discovered := t.now()
	var toInsert []*core.Target
	for _, adj := range adjacent {
		for _, def := range defaults {
			merged, err := core.MergeSlimTargets(def, adj)
			if err != nil {
				return nil, dispatch.NonRetryable(err)
			}
			_, err = t.store.TargetByKwargs(ctx, merged.Kwargs)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			toInsert = append(toInsert, &core.Target{
				Tags:         merged.Tags,
				Kwargs:       merged.Kwargs,
				DiscoveredBy: args.CrawlID,
				DiscoveredAt: discovered,
			})
		}
	}

	newTargets := len(toInsert)
	if len(toInsert) > 0 {
		inserted, err := t.store.InsertTargets(ctx, toInsert)
		if err != nil {
			return nil, err
		}
		if inserted < newTargets {
			t.logger.Debug("lost target discovery race", "candidates", newTargets, "inserted", inserted)
		}
		targetsDiscovered.Add(float64(inserted))
	}

	return core.PipelineResult{
		Statistics: map[string]any{
			"new_targets":     newTargets,
			"checked_targets": checked,
		},
	}, nil
}

// dedupeSlimTargets drops targets whose kwargs repeat, keeping the
// first occurrence.
func dedupeSlimTargets(targets []core.SlimTarget) []core.SlimTarget {
	if len(targets) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(targets))
	out := make([]core.SlimTarget, 0, len(targets))
	for _, target := range targets {
		key := storage.CanonicalKwargs(target.Kwargs)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, target)
	}
	return out
}
