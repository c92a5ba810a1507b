// Package election implements lease-based leader election over MongoDB so
// exactly one runtime instance drives change-stream watching, grounded
// directly on original_source/src/mongoclaw/watcher/leader_election.py.
package election

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultLockName = "change_stream_leader"

// Callbacks are invoked on leadership transitions. Either may be nil.
type Callbacks struct {
	OnElected func(ctx context.Context)
	OnDemoted func(ctx context.Context)
}

// Elector runs the election loop for one runtime instance (HolderID).
type Elector struct {
	collection    *mongo.Collection
	lockName      string
	holderID      string
	leaseDuration time.Duration
	renewInterval time.Duration
	callbacks     Callbacks

	mu       sync.RWMutex
	isLeader bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an Elector backed by collection, matching the teacher's
// constructor-with-defaults idiom.
func New(collection *mongo.Collection, holderID string, leaseDuration, renewInterval time.Duration, callbacks Callbacks) *Elector {
	if leaseDuration <= 0 {
		leaseDuration = 30 * time.Second
	}
	if renewInterval <= 0 {
		renewInterval = 10 * time.Second
	}
	return &Elector{
		collection:    collection,
		lockName:      defaultLockName,
		holderID:      holderID,
		leaseDuration: leaseDuration,
		renewInterval: renewInterval,
		callbacks:     callbacks,
		stopCh:        make(chan struct{}),
	}
}

// EnsureIndexes creates the unique lock-name index and the TTL index that
// expires stale locks automatically.
func (e *Elector) EnsureIndexes(ctx context.Context) error {
	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "lock_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Start attempts immediate acquisition then runs the renew/acquire loop in
// the background.
func (e *Elector) Start(ctx context.Context) {
	e.tryAcquire(ctx)

	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop halts the election loop and releases the lease if held.
func (e *Elector) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	if e.IsLeader() {
		e.release(ctx)
	}
}

func (e *Elector) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(e.renewInterval):
		}

		if e.IsLeader() {
			if !e.renew(ctx) {
				e.handleLostLeadership(ctx)
			}
		} else {
			e.tryAcquire(ctx)
		}
	}
}

// tryAcquire attempts to become leader: takes the lock if unheld, expired,
// or already held by this instance (idempotent renewal-on-acquire).
func (e *Elector) tryAcquire(ctx context.Context) bool {
	now := time.Now()
	expiresAt := now.Add(e.leaseDuration)

	filter := bson.M{
		"lock_name": e.lockName,
		"$or": bson.A{
			bson.M{"holder": e.holderID},
			bson.M{"expires_at": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"holder":      e.holderID,
			"expires_at":  expiresAt,
			"acquired_at": now,
		},
		"$setOnInsert": bson.M{
			"lock_name": e.lockName,
		},
	}

	result, err := e.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			slog.Warn("leader election acquire failed", "holder_id", e.holderID, "error", err)
		}
		return false
	}

	if result.ModifiedCount > 0 || result.UpsertedCount > 0 {
		e.mu.Lock()
		wasLeader := e.isLeader
		e.isLeader = true
		e.mu.Unlock()

		if !wasLeader {
			slog.Info("acquired leadership", "holder_id", e.holderID)
			if e.callbacks.OnElected != nil {
				e.callbacks.OnElected(ctx)
			}
		}
		return true
	}
	return false
}

func (e *Elector) renew(ctx context.Context) bool {
	now := time.Now()
	expiresAt := now.Add(e.leaseDuration)

	filter := bson.M{"lock_name": e.lockName, "holder": e.holderID}
	update := bson.M{"$set": bson.M{"expires_at": expiresAt, "renewed_at": now}}

	result, err := e.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		slog.Warn("leader election renew failed", "holder_id", e.holderID, "error", err)
		return false
	}
	if result.ModifiedCount > 0 {
		slog.Debug("renewed leadership lease", "holder_id", e.holderID, "expires_at", expiresAt)
		return true
	}
	return false
}

func (e *Elector) release(ctx context.Context) {
	filter := bson.M{"lock_name": e.lockName, "holder": e.holderID}
	result, err := e.collection.DeleteOne(ctx, filter)
	if err != nil {
		slog.Warn("leader election release failed", "holder_id", e.holderID, "error", err)
	} else if result.DeletedCount > 0 {
		slog.Info("released leadership", "holder_id", e.holderID)
	}
	e.handleLostLeadership(ctx)
}

func (e *Elector) handleLostLeadership(ctx context.Context) {
	e.mu.Lock()
	wasLeader := e.isLeader
	e.isLeader = false
	e.mu.Unlock()

	if wasLeader {
		slog.Info("lost leadership", "holder_id", e.holderID)
		if e.callbacks.OnDemoted != nil {
			e.callbacks.OnDemoted(ctx)
		}
	}
}
