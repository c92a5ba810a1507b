package model

import (
	"fmt"
	"time"
)

// WatchSpec describes what mutations an agent reacts to.
type WatchSpec struct {
	Database     string            `bson:"database" json:"database"`
	Collection   string            `bson:"collection" json:"collection"`
	Operations   []ChangeOperation `bson:"operations" json:"operations"`
	Filter       map[string]any    `bson:"filter,omitempty" json:"filter,omitempty"`
	Projection   []string          `bson:"projection,omitempty" json:"projection,omitempty"`
	FullDocument string            `bson:"full_document,omitempty" json:"full_document,omitempty"`
}

// MatchesOperation reports whether the watch spec lists the given operation.
func (w *WatchSpec) MatchesOperation(op ChangeOperation) bool {
	for _, o := range w.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// AISpec describes the prompt and model parameters used to enrich a document.
type AISpec struct {
	Provider       string         `bson:"provider,omitempty" json:"provider,omitempty"`
	Model          string         `bson:"model" json:"model"`
	Prompt         string         `bson:"prompt" json:"prompt"`
	SystemPrompt   string         `bson:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature    float64        `bson:"temperature" json:"temperature"`
	MaxTokens      int            `bson:"max_tokens" json:"max_tokens"`
	ResponseSchema map[string]any `bson:"response_schema,omitempty" json:"response_schema,omitempty"`
	ResponseFormat string         `bson:"response_format,omitempty" json:"response_format,omitempty"`
	ExtraParams    map[string]any `bson:"extra_params,omitempty" json:"extra_params,omitempty"`
	StrictSchema   bool           `bson:"strict_schema,omitempty" json:"strict_schema,omitempty"`
}

// WriteSpec describes how an AI result is written back into the store.
type WriteSpec struct {
	Strategy         WriteStrategy     `bson:"strategy" json:"strategy"`
	TargetDatabase   string            `bson:"target_database,omitempty" json:"target_database,omitempty"`
	TargetCollection string            `bson:"target_collection,omitempty" json:"target_collection,omitempty"`
	FieldMap         map[string]string `bson:"field_map" json:"field_map"`
	TargetNesting    string            `bson:"target_nesting,omitempty" json:"target_nesting,omitempty"`
	Path             string            `bson:"path,omitempty" json:"path,omitempty"`
	ArrayField       string            `bson:"array_field,omitempty" json:"array_field,omitempty"`
	IdempotencyKey   string            `bson:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	MetadataField    string            `bson:"metadata_field,omitempty" json:"metadata_field,omitempty"`
}

// metadataFieldOrDefault returns MetadataField, defaulting to "_ai_metadata".
func (w *WriteSpec) metadataFieldOrDefault() string {
	if w.MetadataField == "" {
		return "_ai_metadata"
	}
	return w.MetadataField
}

// MetadataFieldName returns the field under which writeback metadata is stored.
func (w *WriteSpec) MetadataFieldName() string { return w.metadataFieldOrDefault() }

// ExecutionSpec describes retry, timeout, rate/cost caps, and consistency behavior.
type ExecutionSpec struct {
	MaxRetries              int             `bson:"max_retries" json:"max_retries"`
	RetryBaseDelaySeconds   float64         `bson:"retry_base_delay_seconds" json:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds    float64         `bson:"retry_max_delay_seconds" json:"retry_max_delay_seconds"`
	TimeoutSeconds          float64         `bson:"timeout_seconds" json:"timeout_seconds"`
	RateLimitPerMinute      int             `bson:"rate_limit_per_minute,omitempty" json:"rate_limit_per_minute,omitempty"`
	CostCapUSD              float64         `bson:"cost_cap_usd,omitempty" json:"cost_cap_usd,omitempty"`
	Priority                int             `bson:"priority" json:"priority"`
	Deduplicate             bool            `bson:"deduplicate" json:"deduplicate"`
	DedupeWindowSeconds     float64         `bson:"dedupe_window_seconds,omitempty" json:"dedupe_window_seconds,omitempty"`
	ConsistencyMode         ConsistencyMode `bson:"consistency_mode" json:"consistency_mode"`
	MaxConcurrency          int             `bson:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	RequireDocumentHashMatch bool           `bson:"require_document_hash_match,omitempty" json:"require_document_hash_match,omitempty"`
	LatencySLOMillis        int64           `bson:"latency_slo_millis,omitempty" json:"latency_slo_millis,omitempty"`
}

// PolicySpec describes the optional enrich/block/tag gate evaluated before writeback.
type PolicySpec struct {
	Condition      string       `bson:"condition" json:"condition"`
	PrimaryAction  PolicyAction `bson:"primary_action" json:"primary_action"`
	FallbackAction PolicyAction `bson:"fallback_action" json:"fallback_action"`
	SimulationMode bool         `bson:"simulation_mode,omitempty" json:"simulation_mode,omitempty"`
	TagField       string       `bson:"tag_field,omitempty" json:"tag_field,omitempty"`
	TagValue       any          `bson:"tag_value,omitempty" json:"tag_value,omitempty"`
}

// Agent is a versioned, hot-reloadable enrichment rule.
type Agent struct {
	ID        string      `bson:"_id" json:"id"`
	Watch     WatchSpec   `bson:"watch" json:"watch"`
	AI        AISpec      `bson:"ai" json:"ai"`
	Write     WriteSpec   `bson:"write" json:"write"`
	Execution ExecutionSpec `bson:"execution" json:"execution"`
	Policy    *PolicySpec `bson:"policy,omitempty" json:"policy,omitempty"`
	Enabled   bool        `bson:"enabled" json:"enabled"`
	Tags      []string    `bson:"tags,omitempty" json:"tags,omitempty"`
	Version   int         `bson:"version" json:"version"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// Validate checks the structural invariants spec.md §3 requires of an agent.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrAgentConfig)
	}
	if a.Execution.RetryBaseDelaySeconds > a.Execution.RetryMaxDelaySeconds {
		return fmt.Errorf("%w: retry_base_delay (%v) must be <= retry_max_delay (%v)",
			ErrAgentConfig, a.Execution.RetryBaseDelaySeconds, a.Execution.RetryMaxDelaySeconds)
	}
	switch a.Write.Strategy {
	case WriteAppend:
		if a.Write.ArrayField == "" {
			return fmt.Errorf("%w: write.array_field is required for append strategy", ErrAgentConfig)
		}
	case WriteNested:
		if a.Write.Path == "" {
			return fmt.Errorf("%w: write.path is required for nested strategy", ErrAgentConfig)
		}
	case WriteMerge, WriteReplace:
		// no strategy-specific required field
	default:
		return fmt.Errorf("%w: unknown write strategy %q", ErrAgentConfig, a.Write.Strategy)
	}
	return nil
}

// TargetDatabase returns the write target database, defaulting to the watched source.
func (a *Agent) TargetDatabase() string {
	if a.Write.TargetDatabase != "" {
		return a.Write.TargetDatabase
	}
	return a.Watch.Database
}

// TargetCollection returns the write target collection, defaulting to the watched source.
func (a *Agent) TargetCollection() string {
	if a.Write.TargetCollection != "" {
		return a.Write.TargetCollection
	}
	return a.Watch.Collection
}
