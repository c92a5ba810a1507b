package model

import "time"

// IdempotencyRecord marks a (agent, key) pair as already processed within the
// agent's dedupe window, suppressing redundant re-dispatch of the same
// mutation (spec.md §4.5 "Deduplicate", grounded on
// dispatcher/agent_dispatcher.py's in-memory LRU, persisted here so dedup
// survives a dispatcher restart).
type IdempotencyRecord struct {
	Key       string    `bson:"_id" json:"key"`
	AgentID   string    `bson:"agent_id" json:"agent_id"`
	FirstSeen time.Time `bson:"first_seen" json:"first_seen"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// Expired reports whether the record has aged out of its dedupe window.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
