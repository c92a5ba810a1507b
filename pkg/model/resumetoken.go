package model

import "time"

// ResumeToken persists the last-processed change-stream position for a
// watched namespace, keyed by watcher ID, so a restart resumes without
// replaying or dropping events (spec.md §3, §4.4).
type ResumeToken struct {
	WatcherID  string         `bson:"_id" json:"watcher_id"`
	Namespace  string         `bson:"namespace" json:"namespace"`
	Token      map[string]any `bson:"token" json:"token"`
	UpdatedAt  time.Time      `bson:"updated_at" json:"updated_at"`
}

// Age returns how long ago the token was last advanced.
func (r *ResumeToken) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}
