// Package worker runs a fixed pool of stream consumers that dequeue work
// items, hand each to an injected Executor, and ack/retry/dead-letter the
// result. Grounded directly on
// original_source/src/mongoclaw/worker/{pool.py,agent_worker.py} and the
// teacher's pkg/queue/{pool.go,worker.go,types.go} goroutine-pool shape.
package worker

import (
	"context"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Outcome classifies how the pool should dispose of a delivery once the
// executor has run it, matching the three-way split agent_worker.py makes
// in _process_item/_handle_failure.
type Outcome int

// Possible executor outcomes.
const (
	// OutcomeSuccess means the item was processed and should be acked.
	OutcomeSuccess Outcome = iota
	// OutcomeTerminal means the item can never succeed (agent missing or
	// disabled, or a parse or render failure under a strict-schema agent)
	// and should be acked without a retry or a DLQ entry.
	OutcomeTerminal
	// OutcomeRetryable means the failure may be transient; the worker
	// re-enqueues an incremented-attempt copy to the same stream and acks
	// the original.
	OutcomeRetryable
	// OutcomeDeadLetter means retries are exhausted (or the error is
	// terminal-but-should-be-recorded) and the item goes to the DLQ.
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// ExecutionOutcome is what an Executor returns for every item it processes.
type ExecutionOutcome struct {
	Outcome Outcome
	Err     error
}

// Executor runs the enrichment pipeline for a single work item. It owns
// agent resolution internally (including the agent-not-found/disabled
// classification) and never panics; any failure is reported through the
// returned ExecutionOutcome rather than as a Go error, since the pool's
// retry/DLQ decision depends on which kind of failure occurred.
type Executor interface {
	Execute(ctx context.Context, item model.WorkItem) ExecutionOutcome
}

// AgentLookup is the subset of agentstore.Cache the worker pool needs: the
// enabled-agent list to discover streams, and per-item lookup to compute a
// retry's backoff delay and DLQ destination from the agent's own
// ExecutionSpec. Declared narrowly so tests can satisfy it with a fake.
type AgentLookup interface {
	Get(agentID string) (*model.Agent, bool)
	All() []*model.Agent
}

// Stats is a snapshot of one worker's lifetime counters.
type Stats struct {
	Processed    int64
	Succeeded    int64
	Retried      int64
	DeadLettered int64
	Terminal     int64
	EmptyCycles  int64
}

// PoolStats aggregates every worker's Stats plus the currently discovered
// stream set.
type PoolStats struct {
	Streams []string
	Workers []Stats
}
