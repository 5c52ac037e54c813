package mongostore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/c360studio/trawler/storage"
)

func TestFieldName(t *testing.T) {
	assert.Equal(t, "statistics.series-1.details.cost", fieldName("statistics__series-1__details__cost"))
	assert.Equal(t, "finished", fieldName("finished"))
}

func TestBuildUpdate(t *testing.T) {
	update := storage.NewUpdate().
		Set("statistics__s1__details__cost", 3).
		Inc("targets_scheduled", 5).
		Inc("expectations__details__cost", 12).
		Push("queued__s1", "2024-05-17T12:00:00Z")

	doc := buildUpdate(update)

	assert.Equal(t, bson.M{"statistics.s1.details.cost": 3}, doc["$set"])
	assert.Equal(t, bson.M{
		"targets_scheduled":         float64(5),
		"expectations.details.cost": float64(12),
	}, doc["$inc"])
	assert.Equal(t, bson.M{"queued.s1": "2024-05-17T12:00:00Z"}, doc["$push"])
}

func TestBuildUpdateOmitsEmptyOperators(t *testing.T) {
	doc := buildUpdate(storage.NewUpdate().Set("name", "x"))
	assert.Contains(t, doc, "$set")
	assert.NotContains(t, doc, "$inc")
	assert.NotContains(t, doc, "$push")
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.ErrorIs(t, translateError(mongo.ErrNoDocuments), storage.ErrNotFound)

	plain := errors.New("boom")
	assert.Equal(t, plain, translateError(plain))

	duplicate := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
	assert.ErrorIs(t, translateError(duplicate), storage.ErrDuplicateKey)
}
