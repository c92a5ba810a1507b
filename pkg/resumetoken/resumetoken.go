// Package resumetoken persists change-stream resume tokens so the watcher
// can restart without replaying or dropping events, grounded on the same
// Mongo-collection-as-store idiom as pkg/election.
package resumetoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Store persists and retrieves resume tokens keyed by watcher id.
type Store struct {
	collection *mongo.Collection
}

// New wraps collection as a resume-token Store.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Save upserts the resume token for watcherID.
func (s *Store) Save(ctx context.Context, watcherID, namespace string, token bson.Raw) error {
	now := time.Now()
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": watcherID},
		bson.M{"$set": bson.M{
			"namespace":  namespace,
			"token":      token,
			"updated_at": now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving resume token for %s: %w", watcherID, err)
	}
	return nil
}

// Get retrieves the resume token for watcherID, or (nil, nil) if absent so
// the watcher knows to start from "now" rather than treating a first run as
// an error.
func (s *Store) Get(ctx context.Context, watcherID string) (*model.ResumeToken, error) {
	var doc model.ResumeToken
	err := s.collection.FindOne(ctx, bson.M{"_id": watcherID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading resume token for %s: %w", watcherID, err)
	}
	return &doc, nil
}

// Delete removes the resume token for watcherID, used when an
// irrecoverable resume error forces a full resync.
func (s *Store) Delete(ctx context.Context, watcherID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": watcherID})
	if err != nil {
		return fmt.Errorf("deleting resume token for %s: %w", watcherID, err)
	}
	return nil
}
