package model

import "time"

// WorkItemMetadata carries the routing stamp applied by the dispatcher, plus
// the dead-letter annotations stamped when a work item is moved to a DLQ
// stream (queue/redis_stream.py's move_to_dlq).
type WorkItemMetadata struct {
	DeliverySemantics DeliverySemantics `json:"delivery_semantics"`
	RoutingStrategy   RoutingStrategy   `json:"routing_strategy"`
	Stream            string            `json:"stream"`
	Partition         *int              `json:"partition,omitempty"`
	DeadLetterReason  string            `json:"dead_letter_reason,omitempty"`
	DeadLetteredAt    *time.Time        `json:"dead_lettered_at,omitempty"`
}

// WorkItem is the durable queue payload produced by the dispatcher and
// consumed by the worker pool. See spec.md §3.
type WorkItem struct {
	ID                   string           `json:"id"`
	AgentID              string           `json:"agent_id"`
	ChangeEvent          *ChangeEvent     `json:"change_event"`
	Document             map[string]any   `json:"document"`
	DocumentID           string           `json:"document_id"`
	Database             string           `json:"database"`
	Collection           string           `json:"collection"`
	SourceVersion        int64            `json:"source_version"`
	SourceDocumentHash   string           `json:"source_document_hash"`
	Attempt              int              `json:"attempt"`
	MaxAttempts          int              `json:"max_attempts"`
	Priority             int              `json:"priority"`
	CreatedAt            time.Time        `json:"created_at"`
	ScheduledAt          *time.Time       `json:"scheduled_at,omitempty"`
	IdempotencyKey       string           `json:"idempotency_key,omitempty"`
	Metadata             WorkItemMetadata `json:"metadata"`
	TraceID              string           `json:"trace_id,omitempty"`
}

// IncrementAttempt returns a copy of the work item with Attempt bumped by one,
// used when claim_pending reassigns an idle message (spec.md §4.7).
func (w WorkItem) IncrementAttempt() WorkItem {
	w.Attempt++
	return w
}

// ExhaustedRetries reports whether no further attempt is permitted, i.e.
// Attempt+1 has reached MaxAttempts.
func (w *WorkItem) ExhaustedRetries() bool {
	return w.Attempt+1 >= w.MaxAttempts
}

// DefaultIdempotencyKey builds "agent_id:document_id:hash" when the agent does
// not supply a custom idempotency-key template (spec.md §4.6 step 1).
func (w *WorkItem) DefaultIdempotencyKey() string {
	return w.AgentID + ":" + w.DocumentID + ":" + w.SourceDocumentHash
}
