package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// IdempotencyStore records which idempotency keys have already produced a
// successful writeback, giving the executor a durable dedup check that
// survives a restart (the dispatcher's own dedup cache, by contrast, is
// explicitly best-effort and in-memory only; see pkg/dispatcher/dedup.go).
// Grounded on writer.py's idempotency-key-first check in ResultWriter.write.
type IdempotencyStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, rec model.IdempotencyRecord) error
}

// MemIdempotencyStore is an in-memory IdempotencyStore for tests and for
// running without a Mongo-backed store.
type MemIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]model.IdempotencyRecord
}

// NewMemIdempotencyStore builds an empty in-memory store.
func NewMemIdempotencyStore() *MemIdempotencyStore {
	return &MemIdempotencyStore{records: make(map[string]model.IdempotencyRecord)}
}

func (s *MemIdempotencyStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false, nil
	}
	if rec.Expired(time.Now()) {
		delete(s.records, key)
		return false, nil
	}
	return true, nil
}

func (s *MemIdempotencyStore) Record(_ context.Context, rec model.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

// MongoIdempotencyStore persists idempotency records to a Mongo collection
// keyed by the idempotency key, mirroring resumetoken.Store's
// collection-as-store idiom.
type MongoIdempotencyStore struct {
	collection *mongo.Collection
}

// NewMongoIdempotencyStore wraps collection as a durable IdempotencyStore.
func NewMongoIdempotencyStore(collection *mongo.Collection) *MongoIdempotencyStore {
	return &MongoIdempotencyStore{collection: collection}
}

func (s *MongoIdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	var rec model.IdempotencyRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking idempotency key %q: %w", key, err)
	}
	if rec.Expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (s *MongoIdempotencyStore) Record(ctx context.Context, rec model.IdempotencyRecord) error {
	doc := bson.M{
		"_id":        rec.Key,
		"agent_id":   rec.AgentID,
		"first_seen": rec.FirstSeen,
		"expires_at": rec.ExpiresAt,
	}
	_, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("recording idempotency key %q: %w", rec.Key, err)
	}
	return nil
}
