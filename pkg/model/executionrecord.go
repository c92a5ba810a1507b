package model

import "time"

// ExecutionRecord is the durable audit trail of a single enrichment attempt,
// written by the executor after each pipeline run regardless of outcome
// (spec.md §3, §4.8). Upsert-keyed by work-item id, so a retried attempt
// overwrites its own prior record rather than accumulating one row per
// attempt; it always reflects the terminal outcome of the most recent try.
type ExecutionRecord struct {
	ID               string          `bson:"_id" json:"id"`
	AgentID          string          `bson:"agent_id" json:"agent_id"`
	AgentVersion     int             `bson:"agent_version" json:"agent_version"`
	DocumentID       string          `bson:"document_id" json:"document_id"`
	Database         string          `bson:"database" json:"database"`
	Collection       string          `bson:"collection" json:"collection"`
	Status           ExecutionStatus `bson:"status" json:"status"`
	LifecycleState   LifecycleState  `bson:"lifecycle_state" json:"lifecycle_state"`
	Reason           string          `bson:"reason,omitempty" json:"reason,omitempty"`
	Written          bool            `bson:"written" json:"written"`
	Attempt          int             `bson:"attempt" json:"attempt"`
	Error            string          `bson:"error,omitempty" json:"error,omitempty"`
	AIResponse       string          `bson:"ai_response,omitempty" json:"ai_response,omitempty"`
	PromptTokens     int             `bson:"prompt_tokens,omitempty" json:"prompt_tokens,omitempty"`
	CompletionTokens int             `bson:"completion_tokens,omitempty" json:"completion_tokens,omitempty"`
	CostUSD          float64         `bson:"cost_usd,omitempty" json:"cost_usd,omitempty"`
	DurationMillis   int64           `bson:"duration_millis" json:"duration_millis"`
	StartedAt        time.Time       `bson:"started_at" json:"started_at"`
	FinishedAt       time.Time       `bson:"finished_at" json:"finished_at"`
}

// Succeeded reports whether the record reflects a completed, written-back
// enrichment (as opposed to failure, quarantine, or a policy block).
func (r *ExecutionRecord) Succeeded() bool {
	return r.Status == StatusCompleted
}

// QuarantineWindow tracks the recent failure history for one agent, used by
// the executor to trip a per-agent failure budget (spec.md §4.8).
type QuarantineWindow struct {
	AgentID      string    `bson:"_id" json:"agent_id"`
	FailureCount int       `bson:"failure_count" json:"failure_count"`
	WindowStart  time.Time `bson:"window_start" json:"window_start"`
	QuarantinedUntil *time.Time `bson:"quarantined_until,omitempty" json:"quarantined_until,omitempty"`
}

// Quarantined reports whether the agent is currently suspended from dispatch.
func (q *QuarantineWindow) Quarantined(now time.Time) bool {
	return q.QuarantinedUntil != nil && now.Before(*q.QuarantinedUntil)
}
