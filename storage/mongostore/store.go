// Package mongostore implements the storage interfaces on MongoDB.
// Metadata documents (series, crawls, targets, execution tokens) live
// in one database, harvested documents in another, one collection per
// document type.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

const (
	collectionSeries  = "series"
	collectionCrawls  = "crawls"
	collectionTargets = "targets"
	collectionTokens  = "execution_tokens"
)

// Config holds the connection settings for a store.
type Config struct {
	// URI is the MongoDB connection string.
	URI string
	// MetadataDatabase holds the engine's own documents.
	MetadataDatabase string
	// DataDatabase holds harvested documents.
	DataDatabase string
	// TargetIdentity lists the kwargs fields identifying a target.
	// The unique target index is built over them.
	TargetIdentity []string
}

// Store implements storage.MetadataStore and storage.DataStore on a
// MongoDB deployment.
type Store struct {
	client   *mongo.Client
	meta     *mongo.Database
	data     *mongo.Database
	identity []string
}

var (
	_ storage.MetadataStore = (*Store)(nil)
	_ storage.DataStore     = (*Store)(nil)
)

// Connect establishes the client connection and verifies it with a
// ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{
		client:   client,
		meta:     client.Database(cfg.MetadataDatabase),
		data:     client.Database(cfg.DataDatabase),
		identity: append([]string(nil), cfg.TargetIdentity...),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes the engine relies on: the
// compound index over the kwargs identity fields of targets, unique
// series and crawl names, and the token crawl lookup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if len(s.identity) > 0 {
		keys := bson.D{}
		for _, field := range s.identity {
			keys = append(keys, bson.E{Key: "kwargs." + field, Value: 1})
		}
		_, err := s.meta.Collection(collectionTargets).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName("target_identity"),
		})
		if err != nil {
			return fmt.Errorf("create target identity index: %w", err)
		}
	}
	_, err := s.meta.Collection(collectionSeries).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create series name index: %w", err)
	}
	_, err = s.meta.Collection(collectionCrawls).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create crawl name index: %w", err)
	}
	_, err = s.meta.Collection(collectionTokens).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "crawl", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create token crawl index: %w", err)
	}
	return nil
}

// InsertSeries stores a new series. The unique name index turns a
// name collision into ErrDuplicateKey.
func (s *Store) InsertSeries(ctx context.Context, series *core.Series) error {
	if series.ID == "" {
		series.ID = uuid.NewString()
	}
	if _, err := s.meta.Collection(collectionSeries).InsertOne(ctx, series); err != nil {
		return fmt.Errorf("insert series: %w", translateError(err))
	}
	return nil
}

// SaveSeries replaces the stored series document.
func (s *Store) SaveSeries(ctx context.Context, series *core.Series) error {
	result, err := s.meta.Collection(collectionSeries).ReplaceOne(ctx, bson.M{"_id": series.ID}, series)
	if err != nil {
		return fmt.Errorf("save series: %w", translateError(err))
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SeriesByID(ctx context.Context, id string) (*core.Series, error) {
	var series core.Series
	err := s.meta.Collection(collectionSeries).FindOne(ctx, bson.M{"_id": id}).Decode(&series)
	if err != nil {
		return nil, fmt.Errorf("find series %s: %w", id, translateError(err))
	}
	return &series, nil
}

func (s *Store) SeriesByName(ctx context.Context, name string) (*core.Series, error) {
	var series core.Series
	err := s.meta.Collection(collectionSeries).FindOne(ctx, bson.M{"name": name}).Decode(&series)
	if err != nil {
		return nil, fmt.Errorf("find series %q: %w", name, translateError(err))
	}
	return &series, nil
}

func (s *Store) ListSeries(ctx context.Context) ([]core.Series, error) {
	cursor, err := s.meta.Collection(collectionSeries).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	var series []core.Series
	if err := cursor.All(ctx, &series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return series, nil
}

func (s *Store) InsertCrawl(ctx context.Context, crawl *core.Crawl) error {
	if crawl.ID == "" {
		crawl.ID = uuid.NewString()
	}
	if _, err := s.meta.Collection(collectionCrawls).InsertOne(ctx, crawl); err != nil {
		return fmt.Errorf("insert crawl: %w", translateError(err))
	}
	return nil
}

func (s *Store) CrawlByID(ctx context.Context, id string) (*core.Crawl, error) {
	var crawl core.Crawl
	err := s.meta.Collection(collectionCrawls).FindOne(ctx, bson.M{"_id": id}).Decode(&crawl)
	if err != nil {
		return nil, fmt.Errorf("find crawl %s: %w", id, translateError(err))
	}
	return &crawl, nil
}

// LastCrawl returns the most recently created crawl of the series.
func (s *Store) LastCrawl(ctx context.Context, seriesID string) (*core.Crawl, error) {
	var crawl core.Crawl
	err := s.meta.Collection(collectionCrawls).FindOne(ctx, bson.M{"series": seriesID},
		options.FindOne().SetSort(bson.D{{Key: "created", Value: -1}})).Decode(&crawl)
	if err != nil {
		return nil, fmt.Errorf("find last crawl of %s: %w", seriesID, translateError(err))
	}
	return &crawl, nil
}

func (s *Store) ListCrawls(ctx context.Context, seriesID string) ([]core.Crawl, error) {
	cursor, err := s.meta.Collection(collectionCrawls).Find(ctx, bson.M{"series": seriesID},
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}
	var crawls []core.Crawl
	if err := cursor.All(ctx, &crawls); err != nil {
		return nil, fmt.Errorf("decode crawls: %w", err)
	}
	return crawls, nil
}

func (s *Store) UpdateCrawl(ctx context.Context, id string, update *storage.Update) error {
	if update.Empty() {
		return nil
	}
	result, err := s.meta.Collection(collectionCrawls).UpdateOne(ctx, bson.M{"_id": id}, buildUpdate(update))
	if err != nil {
		return fmt.Errorf("update crawl %s: %w", id, translateError(err))
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertToken(ctx context.Context, token *core.ExecutionToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	// Built by hand: the driver would store zero time.Time fields as
	// zero dates, and CountOpenTokens filters on their absence.
	doc := bson.M{
		"_id":     token.ID,
		"crawl":   token.CrawlID,
		"created": token.Created,
		"retries": token.Retries,
	}
	if len(token.Stages) > 0 {
		doc["stages"] = token.Stages
	}
	if len(token.Progress) > 0 {
		doc["progress"] = token.Progress
	}
	if !token.Started.IsZero() {
		doc["started"] = token.Started
	}
	if !token.Finished.IsZero() {
		doc["finished"] = token.Finished
	}
	if !token.Failed.IsZero() {
		doc["failed"] = token.Failed
	}
	if _, err := s.meta.Collection(collectionTokens).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert execution token: %w", translateError(err))
	}
	return nil
}

func (s *Store) TokenByID(ctx context.Context, id string) (*core.ExecutionToken, error) {
	var token core.ExecutionToken
	err := s.meta.Collection(collectionTokens).FindOne(ctx, bson.M{"_id": id}).Decode(&token)
	if err != nil {
		return nil, fmt.Errorf("find execution token %s: %w", id, translateError(err))
	}
	return &token, nil
}

func (s *Store) UpdateToken(ctx context.Context, id string, update *storage.Update) error {
	if update.Empty() {
		return nil
	}
	result, err := s.meta.Collection(collectionTokens).UpdateOne(ctx, bson.M{"_id": id}, buildUpdate(update))
	if err != nil {
		return fmt.Errorf("update execution token %s: %w", id, translateError(err))
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	result, err := s.meta.Collection(collectionTokens).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete execution token %s: %w", id, translateError(err))
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountOpenTokens counts the crawl's tokens that neither finished nor
// failed. Zero timestamps are omitted from the stored document, so
// absence of the field is the open state.
func (s *Store) CountOpenTokens(ctx context.Context, crawlID string) (int64, error) {
	count, err := s.meta.Collection(collectionTokens).CountDocuments(ctx, openTokenFilter(crawlID))
	if err != nil {
		return 0, fmt.Errorf("count open tokens of %s: %w", crawlID, err)
	}
	return count, nil
}

// OpenTokens returns the crawl's open tokens, oldest first.
func (s *Store) OpenTokens(ctx context.Context, crawlID string) ([]core.ExecutionToken, error) {
	cursor, err := s.meta.Collection(collectionTokens).Find(ctx, openTokenFilter(crawlID),
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find open tokens of %s: %w", crawlID, err)
	}
	var tokens []core.ExecutionToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, fmt.Errorf("decode open tokens: %w", err)
	}
	return tokens, nil
}

func openTokenFilter(crawlID string) bson.M {
	return bson.M{
		"crawl":    crawlID,
		"finished": bson.M{"$exists": false},
		"failed":   bson.M{"$exists": false},
	}
}
