package mongostore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LoadDocument returns the stored document as relaxed extended JSON,
// so plain numbers and strings round-trip without type wrappers.
func (s *Store) LoadDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc bson.M
	err := s.data.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("load document %s/%s: %w", collection, id, translateError(err))
	}
	delete(doc, "_id")
	raw, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	return raw, nil
}

// SaveDocument stores the document under id, replacing any previous
// version.
func (s *Store) SaveDocument(ctx context.Context, collection, id string, document json.RawMessage) error {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(document, false, &doc); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	doc["_id"] = id
	_, err := s.data.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save document %s/%s: %w", collection, id, translateError(err))
	}
	return nil
}
