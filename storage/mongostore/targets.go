package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// unweightedBucketID is the $bucket default slot for targets without
// a value under the aggregated weight path.
const unweightedBucketID = "unweighted"

func (s *Store) targets() *mongo.Collection {
	return s.meta.Collection(collectionTargets)
}

func (s *Store) InsertTarget(ctx context.Context, target *core.Target) error {
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	if _, err := s.targets().InsertOne(ctx, target); err != nil {
		return fmt.Errorf("insert target: %w", translateError(err))
	}
	return nil
}

// InsertTargets writes the batch unordered so duplicate identities
// only skip the affected documents. Returns the number actually
// inserted.
func (s *Store) InsertTargets(ctx context.Context, targets []*core.Target) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	documents := make([]any, len(targets))
	for i, target := range targets {
		if target.ID == "" {
			target.ID = uuid.NewString()
		}
		documents[i] = target
	}
	_, err := s.targets().InsertMany(ctx, documents, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(targets), nil
	}
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return 0, fmt.Errorf("insert targets: %w", err)
	}
	for _, writeErr := range bulkErr.WriteErrors {
		if !mongo.IsDuplicateKeyError(writeErr.WriteError) {
			return 0, fmt.Errorf("insert targets: %w", err)
		}
	}
	return len(targets) - len(bulkErr.WriteErrors), nil
}

func (s *Store) TargetByID(ctx context.Context, id string) (*core.Target, error) {
	var target core.Target
	err := s.targets().FindOne(ctx, bson.M{"_id": id}).Decode(&target)
	if err != nil {
		return nil, fmt.Errorf("find target %s: %w", id, translateError(err))
	}
	return &target, nil
}

// TargetByKwargs matches the whole kwargs document regardless of
// field order. The field count guard rules out supersets.
func (s *Store) TargetByKwargs(ctx context.Context, kwargs core.Kwargs) (*core.Target, error) {
	filter := bson.M{}
	for key, value := range kwargs {
		filter["kwargs."+key] = value
	}
	filter["$expr"] = bson.M{"$eq": bson.A{
		bson.M{"$size": bson.M{"$objectToArray": bson.M{"$ifNull": bson.A{"$kwargs", bson.M{}}}}},
		len(kwargs),
	}}
	var target core.Target
	err := s.targets().FindOne(ctx, filter).Decode(&target)
	if err != nil {
		return nil, fmt.Errorf("find target by kwargs: %w", translateError(err))
	}
	return &target, nil
}

func (s *Store) TargetsByKwargsFields(ctx context.Context, fields map[string]any) ([]core.Target, error) {
	filter := bson.M{}
	for key, value := range fields {
		filter["kwargs."+key] = value
	}
	cursor, err := s.targets().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find targets by kwargs fields: %w", err)
	}
	var targets []core.Target
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	return targets, nil
}

func (s *Store) CountTargets(ctx context.Context, filter map[string]any) (int64, error) {
	match := bson.M{}
	for key, value := range filter {
		match[key] = value
	}
	count, err := s.targets().CountDocuments(ctx, match)
	if err != nil {
		return 0, fmt.Errorf("count targets: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateTarget(ctx context.Context, id string, update *storage.Update) error {
	if update.Empty() {
		return nil
	}
	result, err := s.targets().UpdateOne(ctx, bson.M{"_id": id}, buildUpdate(update))
	if err != nil {
		return fmt.Errorf("update target %s: %w", id, translateError(err))
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateTargets(ctx context.Context, ids []string, update *storage.Update) error {
	if len(ids) == 0 || update.Empty() {
		return nil
	}
	_, err := s.targets().UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, buildUpdate(update))
	if err != nil {
		return fmt.Errorf("update targets: %w", err)
	}
	return nil
}

// StaticTargetBatch selects targets matching the crawl filter that
// were never queued for the series or whose last queueing predates
// the crawl start. Never queued targets sort first because null
// precedes dates in the BSON type order, queued ones follow least
// recently queued first.
func (s *Store) StaticTargetBatch(ctx context.Context, q storage.StaticBatchQuery) ([]core.Target, error) {
	match := bson.M{}
	for key, value := range q.Filter {
		match[key] = value
	}
	queuedField := "queued." + q.SeriesID
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$addFields", Value: bson.M{"last_queued_at": bson.M{"$last": "$" + queuedField}}}},
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"last_queued_at": nil},
			bson.M{"last_queued_at": bson.M{"$lt": q.CrawlStarted}},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_queued_at", Value: 1}, {Key: "_id", Value: 1}}}},
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$unset", Value: "last_queued_at"}})

	cursor, err := s.targets().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("static target batch: %w", err)
	}
	var targets []core.Target
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, fmt.Errorf("decode target batch: %w", err)
	}
	return targets, nil
}

// AggregateWeightBuckets counts targets per boundary slice of the
// weight path. Targets without a weight, including those below the
// lowest boundary, land in the unweighted default slot.
func (s *Store) AggregateWeightBuckets(ctx context.Context, q storage.BucketAggregationQuery) ([]storage.BucketCount, error) {
	pipeline := mongo.Pipeline{}
	if len(q.Filter) > 0 {
		match := bson.M{}
		for key, value := range q.Filter {
			match[key] = value
		}
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$bucket", Value: bson.M{
		"groupBy":    "$" + fieldName(q.Path),
		"boundaries": q.Boundaries,
		"default":    unweightedBucketID,
		"output":     bson.M{"count": bson.M{"$sum": 1}},
	}}})

	cursor, err := s.targets().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate weight buckets: %w", err)
	}
	var rows []struct {
		ID    any   `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode weight buckets: %w", err)
	}

	buckets := make([]storage.BucketCount, 0, len(rows))
	for _, row := range rows {
		bucket := storage.BucketCount{Count: row.Count}
		switch id := row.ID.(type) {
		case string:
			if id != unweightedBucketID {
				return nil, fmt.Errorf("unexpected bucket id %q", id)
			}
			bucket.Unweighted = true
		case int32:
			bucket.Lower = int64(id)
		case int64:
			bucket.Lower = id
		case float64:
			bucket.Lower = int64(id)
		default:
			return nil, fmt.Errorf("unexpected bucket id type %T", row.ID)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// BucketTargetBatch selects targets whose weight falls into
// [LowerBound, UpperBound), preferring those never queued for the
// crawl and then the longest unqueued ones.
func (s *Store) BucketTargetBatch(ctx context.Context, q storage.BucketBatchQuery) ([]core.Target, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	base := bson.M{}
	for key, value := range q.Filter {
		base[key] = value
	}
	base[fieldName(q.Path)] = bson.M{"$gte": q.LowerBound, "$lt": q.UpperBound}
	lastQueuedField := "last_queued." + q.CrawlName

	never := bson.M{lastQueuedField: bson.M{"$exists": false}}
	for key, value := range base {
		never[key] = value
	}
	cursor, err := s.targets().Find(ctx, never,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(q.Limit)))
	if err != nil {
		return nil, fmt.Errorf("bucket target batch: %w", err)
	}
	var targets []core.Target
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, fmt.Errorf("decode target batch: %w", err)
	}
	if len(targets) >= q.Limit {
		return targets, nil
	}

	queued := bson.M{lastQueuedField: bson.M{"$exists": true}}
	for key, value := range base {
		queued[key] = value
	}
	cursor, err = s.targets().Find(ctx, queued,
		options.Find().
			SetSort(bson.D{{Key: lastQueuedField, Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(q.Limit-len(targets))))
	if err != nil {
		return nil, fmt.Errorf("bucket target batch: %w", err)
	}
	var rest []core.Target
	if err := cursor.All(ctx, &rest); err != nil {
		return nil, fmt.Errorf("decode target batch: %w", err)
	}
	return append(targets, rest...), nil
}
