package executor

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// ExecutionRecordStore persists one model.ExecutionRecord per pipeline run,
// the durable audit trail spec.md §3 describes. Upsert-by-id so a retried
// attempt overwrites its own prior record rather than accumulating one row
// per attempt.
type ExecutionRecordStore interface {
	Upsert(ctx context.Context, rec model.ExecutionRecord) error
}

// MemExecutionRecordStore is an in-memory ExecutionRecordStore for tests.
type MemExecutionRecordStore struct {
	mu      sync.Mutex
	Records map[string]model.ExecutionRecord
}

// NewMemExecutionRecordStore builds an empty in-memory store.
func NewMemExecutionRecordStore() *MemExecutionRecordStore {
	return &MemExecutionRecordStore{Records: make(map[string]model.ExecutionRecord)}
}

func (s *MemExecutionRecordStore) Upsert(_ context.Context, rec model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records[rec.ID] = rec
	return nil
}

// MongoExecutionRecordStore persists execution records to a Mongo
// collection, grounded on resumetoken.Store's collection-as-store idiom.
type MongoExecutionRecordStore struct {
	collection *mongo.Collection
}

// NewMongoExecutionRecordStore wraps collection as a durable ExecutionRecordStore.
func NewMongoExecutionRecordStore(collection *mongo.Collection) *MongoExecutionRecordStore {
	return &MongoExecutionRecordStore{collection: collection}
}

func (s *MongoExecutionRecordStore) Upsert(ctx context.Context, rec model.ExecutionRecord) error {
	filter := bson.M{"_id": rec.ID}
	update := bson.M{"$set": rec}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting execution record %s: %w", rec.ID, err)
	}
	return nil
}
