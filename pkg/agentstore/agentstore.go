// Package agentstore is the MongoDB-backed CRUD store for agent
// configurations, grounded directly on
// original_source/src/mongoclaw/agents/store.py.
package agentstore

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

// ListFilter mirrors store.py's list() query-building parameters.
type ListFilter struct {
	EnabledOnly bool
	Tags        []string
	Database    string
	Collection  string
	Skip        int64
	Limit       int64
}

// Store is the MongoDB-backed agent configuration store.
type Store struct {
	collection *mongo.Collection
}

// New wraps collection as an agentstore.Store.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// EnsureIndexes creates the indexes store.py's initialize() sets up.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "enabled", Value: 1}}},
		{Keys: bson.D{{Key: "watch.database", Value: 1}, {Key: "watch.collection", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	})
	return err
}

// Create inserts a new agent, rejecting a duplicate ID with ErrAgentAlreadyExists.
func (s *Store) Create(ctx context.Context, agent *model.Agent) error {
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Version = 1

	if err := agent.Validate(); err != nil {
		return err
	}

	_, err := s.collection.InsertOne(ctx, agent)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", model.ErrAgentAlreadyExists, agent.ID)
	}
	if err != nil {
		return fmt.Errorf("creating agent %s: %w", agent.ID, err)
	}
	return nil
}

// Get fetches an agent by ID, returning ErrAgentNotFound if absent.
func (s *Store) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	var agent model.Agent
	err := s.collection.FindOne(ctx, bson.M{"_id": agentID}).Decode(&agent)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", model.ErrAgentNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", agentID, err)
	}
	return &agent, nil
}

// GetOptional fetches an agent by ID, returning (nil, nil) if absent.
func (s *Store) GetOptional(ctx context.Context, agentID string) (*model.Agent, error) {
	agent, err := s.Get(ctx, agentID)
	if errors.Is(err, model.ErrAgentNotFound) {
		return nil, nil
	}
	return agent, err
}

// Update replaces an existing agent, bumping its version, returning
// ErrAgentNotFound if it does not already exist.
func (s *Store) Update(ctx context.Context, agent *model.Agent) error {
	agent.UpdatedAt = time.Now()
	agent.Version++

	if err := agent.Validate(); err != nil {
		return err
	}

	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": agent.ID}, agent)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", agent.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", model.ErrAgentNotFound, agent.ID)
	}
	return nil
}

// Delete removes an agent, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, agentID string) (bool, error) {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": agentID})
	if err != nil {
		return false, fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	return result.DeletedCount > 0, nil
}

// List returns agents matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*model.Agent, error) {
	query := bson.M{}
	if filter.EnabledOnly {
		query["enabled"] = true
	}
	if len(filter.Tags) > 0 {
		query["tags"] = bson.M{"$in": filter.Tags}
	}
	if filter.Database != "" {
		query["watch.database"] = filter.Database
	}
	if filter.Collection != "" {
		query["watch.collection"] = filter.Collection
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	cursor, err := s.collection.Find(ctx, query,
		options.Find().SetSkip(filter.Skip).SetLimit(limit).SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer cursor.Close(ctx)

	var agents []*model.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("decoding agent list: %w", err)
	}
	return agents, nil
}

// GetByWatchTarget returns every agent watching (database, collection),
// the hot path the dispatcher uses to route a change event to its agents.
func (s *Store) GetByWatchTarget(ctx context.Context, database, collection string, enabledOnly bool) ([]*model.Agent, error) {
	query := bson.M{"watch.database": database, "watch.collection": collection}
	if enabledOnly {
		query["enabled"] = true
	}

	cursor, err := s.collection.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents for %s.%s: %w", database, collection, err)
	}
	defer cursor.Close(ctx)

	var agents []*model.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("decoding agents for %s.%s: %w", database, collection, err)
	}
	return agents, nil
}

// WatchTarget is a unique (database, collection) pair being watched.
type WatchTarget struct {
	Database   string
	Collection string
}

// GetAllWatchTargets returns every unique namespace with at least one agent,
// used by the watcher supervisor to decide which change streams to open.
func (s *Store) GetAllWatchTargets(ctx context.Context, enabledOnly bool) ([]WatchTarget, error) {
	query := bson.M{}
	if enabledOnly {
		query["enabled"] = true
	}

	cursor, err := s.collection.Find(ctx, query, options.Find().SetProjection(bson.M{"watch.database": 1, "watch.collection": 1}))
	if err != nil {
		return nil, fmt.Errorf("querying watch targets: %w", err)
	}
	defer cursor.Close(ctx)

	seen := make(map[WatchTarget]struct{})
	var targets []WatchTarget
	for cursor.Next(ctx) {
		var doc struct {
			Watch struct {
				Database   string `bson:"database"`
				Collection string `bson:"collection"`
			} `bson:"watch"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding watch target: %w", err)
		}
		target := WatchTarget{Database: doc.Watch.Database, Collection: doc.Watch.Collection}
		if _, ok := seen[target]; !ok {
			seen[target] = struct{}{}
			targets = append(targets, target)
		}
	}
	return targets, cursor.Err()
}

// Count returns the number of agents matching enabledOnly.
func (s *Store) Count(ctx context.Context, enabledOnly bool) (int64, error) {
	query := bson.M{}
	if enabledOnly {
		query["enabled"] = true
	}
	n, err := s.collection.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("counting agents: %w", err)
	}
	return n, nil
}
