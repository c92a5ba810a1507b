package agentstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Cache is an in-memory, hot-reloaded view of every agent, refreshed from a
// change stream over the agent collection with a polling fallback,
// grounded on original_source/src/mongoclaw/agents/hot_reload.py.
type Cache struct {
	store        *Store
	collection   *mongo.Collection
	pollInterval time.Duration

	mu     sync.RWMutex
	agents map[string]*model.Agent

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// OnChange, if set, is invoked after every cache refresh (initial load,
	// single-agent reload, or poll-driven resync), letting a watcher
	// supervisor force immediate watch-target reconciliation instead of
	// waiting for its own periodic tick. Matches change_stream.py's
	// _watch_agent_configs forcing refresh_watches() on every agent change.
	OnChange func()
}

// NewCache creates a Cache over store/collection.
func NewCache(store *Store, collection *mongo.Collection, pollInterval time.Duration) *Cache {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Cache{
		store:        store,
		collection:   collection,
		pollInterval: pollInterval,
		agents:       make(map[string]*model.Agent),
		stopCh:       make(chan struct{}),
	}
}

// Start loads the initial state then begins watching for changes in the
// background, preferring a change stream and falling back to polling if the
// deployment does not support one (standalone Mongo, no replica set).
func (c *Cache) Start(ctx context.Context) error {
	if err := c.loadInitialState(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.watchChanges(ctx)
	return nil
}

// Stop halts the background watch loop.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Get returns a cached agent by ID without hitting Mongo.
func (c *Cache) Get(agentID string) (*model.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentID]
	return a, ok
}

// All returns a snapshot of every cached agent.
func (c *Cache) All() []*model.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

func (c *Cache) loadInitialState(ctx context.Context) error {
	agents, err := c.store.List(ctx, ListFilter{})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.agents = make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		c.agents[a.ID] = a
	}
	c.mu.Unlock()
	slog.Info("loaded initial agent cache", "agent_count", len(agents))
	c.notifyChange()
	return nil
}

func (c *Cache) watchChanges(ctx context.Context) {
	defer c.wg.Done()

	pipeline := bson.A{
		bson.M{"$match": bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}},
	}
	stream, err := c.collection.Watch(ctx, pipeline)
	if err != nil {
		slog.Warn("agent cache change stream unavailable, falling back to polling", "error", err)
		c.watchWithPolling(ctx)
		return
	}
	defer stream.Close(ctx)

	slog.Info("using change stream for agent hot reload")
	for stream.Next(ctx) {
		select {
		case <-c.stopCh:
			return
		default:
		}

		var change struct {
			OperationType string `bson:"operationType"`
			DocumentKey   struct {
				ID string `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&change); err != nil {
			slog.Warn("failed to decode agent change event", "error", err)
			continue
		}
		c.handleChange(ctx, change.OperationType, change.DocumentKey.ID)
	}
}

func (c *Cache) watchWithPolling(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.loadInitialState(ctx); err != nil {
				slog.Warn("agent cache poll refresh failed", "error", err)
			}
		}
	}
}

func (c *Cache) handleChange(ctx context.Context, operation, agentID string) {
	if agentID == "" {
		return
	}

	if operation == "delete" {
		c.mu.Lock()
		delete(c.agents, agentID)
		c.mu.Unlock()
		slog.Info("agent cache evicted agent", "agent_id", agentID)
		c.notifyChange()
		return
	}

	agent, err := c.store.GetOptional(ctx, agentID)
	if err != nil {
		slog.Warn("agent cache reload failed", "agent_id", agentID, "error", err)
		return
	}
	if agent == nil {
		return
	}

	c.mu.Lock()
	c.agents[agentID] = agent
	c.mu.Unlock()
	slog.Info("agent cache refreshed agent", "agent_id", agentID, "operation", operation)
	c.notifyChange()
}

func (c *Cache) notifyChange() {
	if c.OnChange != nil {
		c.OnChange()
	}
}
