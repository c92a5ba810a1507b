package model

import "time"

// LeaderLease is the single document contended over by all runtime instances
// to determine which one drives change-stream watching. Acquisition is a
// conditional upsert: a holder may renew its own lease, or any instance may
// steal an expired one (spec.md §4.3, grounded on watcher/leader_election.py).
type LeaderLease struct {
	ID        string    `bson:"_id" json:"id"`
	Holder    string    `bson:"holder" json:"holder"`
	AcquiredAt time.Time `bson:"acquired_at" json:"acquired_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	Term      int64     `bson:"term" json:"term"`
}

// Expired reports whether the lease is no longer valid as of now.
func (l *LeaderLease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// HeldBy reports whether holderID currently owns an unexpired lease.
func (l *LeaderLease) HeldBy(holderID string, now time.Time) bool {
	return l.Holder == holderID && !l.Expired(now)
}
