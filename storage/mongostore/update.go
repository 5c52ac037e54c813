package mongostore

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/c360studio/trawler/storage"
)

// fieldName translates an update path into MongoDB dot notation.
func fieldName(path string) string {
	return strings.ReplaceAll(path, storage.PathSeparator, ".")
}

// buildUpdate translates the store-neutral update into a MongoDB
// update document.
func buildUpdate(update *storage.Update) bson.M {
	doc := bson.M{}
	if sets := update.Sets(); len(sets) > 0 {
		fields := bson.M{}
		for path, value := range sets {
			fields[fieldName(path)] = value
		}
		doc["$set"] = fields
	}
	if incs := update.Incs(); len(incs) > 0 {
		fields := bson.M{}
		for path, delta := range incs {
			fields[fieldName(path)] = delta
		}
		doc["$inc"] = fields
	}
	if pushes := update.Pushes(); len(pushes) > 0 {
		fields := bson.M{}
		for path, value := range pushes {
			fields[fieldName(path)] = value
		}
		doc["$push"] = fields
	}
	return doc
}

// translateError maps driver errors onto the storage sentinels.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	default:
		return err
	}
}
