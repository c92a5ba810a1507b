package executor

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/mongoclaw/pkg/mongoutil"
)

// DocumentStore is the narrow slice of Mongo operations writeback needs:
// re-reading the current document for a hash-match check, and applying a
// conditional update. Abstracted behind an interface so tests can swap in an
// in-memory fake rather than require a live Mongo deployment, matching the
// fake-behind-the-same-interface testing style SPEC_FULL.md calls for.
type DocumentStore interface {
	FindOne(ctx context.Context, database, collection, documentID string) (map[string]any, bool, error)
	UpdateOne(ctx context.Context, database, collection, documentID string, filterExtra, update map[string]any) (matchedCount int64, err error)
}

// MongoDocumentStore implements DocumentStore over a live *mongo.Client,
// grounded on resumetoken.Store's collection-as-store idiom and
// result/writer.py's ResultWriter._perform_write.
type MongoDocumentStore struct {
	client *mongo.Client
}

// NewMongoDocumentStore wraps client as a DocumentStore.
func NewMongoDocumentStore(client *mongo.Client) *MongoDocumentStore {
	return &MongoDocumentStore{client: client}
}

func (s *MongoDocumentStore) collection(database, collection string) *mongo.Collection {
	return s.client.Database(database).Collection(collection)
}

func (s *MongoDocumentStore) FindOne(ctx context.Context, database, collection, documentID string) (map[string]any, bool, error) {
	filter := bson.M{"_id": mongoutil.ParseDocumentID(documentID)}
	var doc map[string]any
	err := s.collection(database, collection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading document %s/%s/%s: %w", database, collection, documentID, err)
	}
	return doc, true, nil
}

func (s *MongoDocumentStore) UpdateOne(ctx context.Context, database, collection, documentID string, filterExtra, update map[string]any) (int64, error) {
	filter := bson.M{"_id": mongoutil.ParseDocumentID(documentID)}
	for k, v := range filterExtra {
		filter[k] = v
	}

	result, err := s.collection(database, collection).UpdateOne(ctx, filter, bson.M(update), options.Update())
	if err != nil {
		return 0, fmt.Errorf("updating document %s/%s/%s: %w", database, collection, documentID, err)
	}
	return result.MatchedCount, nil
}
