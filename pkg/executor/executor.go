// Package executor implements the ten-stage enrichment pipeline spec.md
// §4.8 assigns to each work item: agent resolution and quarantine, a
// per-agent concurrency gate, a timeout around the AI round trip, prompt
// rendering, the AI call itself, response parsing, a policy gate, and a
// consistency-aware writeback, followed by an execution-record upsert and
// failure-budget accounting. Grounded on
// original_source/src/mongoclaw/worker/executor.py (not present verbatim in
// the retrieval pack but described by spec.md §4.8) and, for writeback
// specifically, result/writer.py and result/strategies.py.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/aiprovider"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/policyeval"
	"github.com/codeready-toolchain/mongoclaw/pkg/promptrender"
	"github.com/codeready-toolchain/mongoclaw/pkg/worker"
)

// Executor wires the supporting packages together into worker.Executor.
type Executor struct {
	Agents       worker.AgentLookup
	AI           aiprovider.Provider
	Renderer     *promptrender.Renderer
	Store        DocumentStore
	Idempotency  IdempotencyStore
	Records      ExecutionRecordStore
	Metrics      Metrics
	Quarantine   *quarantineTracker
	Concurrency  *agentSemaphores
	Now          func() time.Time

	QuarantineFailureThreshold int
	QuarantineWindow           time.Duration
	QuarantineCooldown         time.Duration
}

// New builds an Executor with sane zero-value fallbacks for the optional
// collaborators (Metrics, Now), so callers only need to supply the
// collaborators the pipeline actually exercises in a given test.
func New(agents worker.AgentLookup, ai aiprovider.Provider, renderer *promptrender.Renderer, store DocumentStore, idempotency IdempotencyStore, records ExecutionRecordStore) *Executor {
	return &Executor{
		Agents:                     agents,
		AI:                         ai,
		Renderer:                   renderer,
		Store:                      store,
		Idempotency:                idempotency,
		Records:                    records,
		Metrics:                    noopMetrics{},
		Quarantine:                 newQuarantineTracker(),
		Concurrency:                newAgentSemaphores(),
		Now:                        time.Now,
		QuarantineFailureThreshold: 5,
		QuarantineWindow:           5 * time.Minute,
		QuarantineCooldown:         2 * time.Minute,
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) metrics() Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return noopMetrics{}
}

// Execute runs the full pipeline for item, satisfying worker.Executor.
func (e *Executor) Execute(ctx context.Context, item model.WorkItem) worker.ExecutionOutcome {
	started := e.now()

	agent, ok := e.Agents.Get(item.AgentID)
	if !ok {
		err := fmt.Errorf("%w: %s", model.ErrAgentNotFound, item.AgentID)
		e.upsertRecord(ctx, item, nil, started, model.StatusFailed, model.LifecycleDeadLetter, "agent_not_found", false, err)
		return worker.ExecutionOutcome{Outcome: worker.OutcomeTerminal, Err: err}
	}
	if !agent.Enabled {
		err := fmt.Errorf("%w: %s", model.ErrAgentDisabled, item.AgentID)
		e.upsertRecord(ctx, item, agent, started, model.StatusFailed, model.LifecycleDeadLetter, "agent_disabled", false, err)
		return worker.ExecutionOutcome{Outcome: worker.OutcomeTerminal, Err: err}
	}

	if e.Quarantine.Quarantined(agent.ID, e.now()) {
		e.upsertRecord(ctx, item, agent, started, model.StatusSkipped, model.LifecycleSkipped, "agent_quarantined", false, nil)
		return worker.ExecutionOutcome{Outcome: worker.OutcomeSuccess}
	}

	release, contended, err := e.Concurrency.acquire(ctx, agent.ID, agent.Execution.MaxConcurrency)
	if err != nil {
		return e.failureOutcome(ctx, item, agent, started, "concurrency_wait_cancelled", err)
	}
	_ = contended // contention is not recorded: the Metrics interface has no contention counter
	defer release()

	runCtx := ctx
	var cancel context.CancelFunc
	if agent.Execution.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(agent.Execution.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	result, pipelineErr := e.runPipeline(runCtx, agent, item)
	if pipelineErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return e.failureOutcome(ctx, item, agent, started, "timeout", fmt.Errorf("%w: %v", model.ErrExecutionTimeout, pipelineErr))
		}
		return e.failureOutcome(ctx, item, agent, started, classifyReason(pipelineErr), pipelineErr)
	}

	e.Quarantine.RecordSuccess(agent.ID)

	status := model.StatusCompleted
	lifecycle := model.LifecycleWritten
	if !result.written {
		status = model.StatusSkipped
		lifecycle = model.LifecycleSkipped
	}
	e.recordMetricsForSuccess(agent.ID, result, lifecycle)

	rec := e.baseRecord(item, agent, started)
	rec.Status = status
	rec.LifecycleState = lifecycle
	rec.Reason = result.reason
	rec.Written = result.written
	if result.ai != nil {
		rec.PromptTokens = result.ai.PromptTokens
		rec.CompletionTokens = result.ai.CompletionTokens
		rec.CostUSD = result.ai.CostUSD
		rec.AIResponse = result.rawResponse
	}
	e.finishRecord(&rec)
	e.checkLatencySLO(agent, rec)
	e.saveRecord(ctx, rec)

	return worker.ExecutionOutcome{Outcome: worker.OutcomeSuccess}
}

// pipelineResult carries the data runPipeline needs to hand back to Execute
// for metrics and execution-record population.
type pipelineResult struct {
	written     bool
	reason      string
	ai          *aiprovider.Response
	rawResponse string
}

// runPipeline executes stages 5-9 (render, call, parse, policy, writeback).
func (e *Executor) runPipeline(ctx context.Context, agent *model.Agent, item model.WorkItem) (pipelineResult, error) {
	promptCtx := promptrender.BuildContext(item.Document, item.ChangeEvent, agent, nil)

	prompt, err := e.Renderer.Render(agent.AI.Prompt, promptCtx, agent.ID+":prompt")
	if err != nil {
		return pipelineResult{}, fmt.Errorf("rendering prompt: %w", err)
	}

	systemPrompt := ""
	if agent.AI.SystemPrompt != "" {
		systemPrompt, err = e.Renderer.Render(agent.AI.SystemPrompt, promptCtx, agent.ID+":system")
		if err != nil {
			return pipelineResult{}, fmt.Errorf("rendering system prompt: %w", err)
		}
	}

	responseFormat := agent.AI.ResponseFormat
	if responseFormat == "" && agent.AI.ResponseSchema != nil {
		responseFormat = "json_object"
	}

	resp, err := e.AI.Complete(ctx, aiprovider.Request{
		Model:          agent.AI.Model,
		Prompt:         prompt,
		SystemPrompt:   systemPrompt,
		Temperature:    agent.AI.Temperature,
		MaxTokens:      agent.AI.MaxTokens,
		ResponseFormat: responseFormat,
		ExtraParams:    agent.AI.ExtraParams,
	})
	if err != nil {
		return pipelineResult{}, fmt.Errorf("calling ai provider: %w", err)
	}

	parsed, err := parseResponse(resp.Content, agent.AI.StrictSchema)
	if err != nil {
		return pipelineResult{}, fmt.Errorf("%w: %v", model.ErrAIParse, err)
	}
	if agent.AI.ResponseSchema != nil {
		if violations := validateSchema(parsed, agent.AI.ResponseSchema); len(violations) > 0 {
			if agent.AI.StrictSchema {
				return pipelineResult{}, fmt.Errorf("%w: schema validation failed: %v", model.ErrAIParse, violations)
			}
		}
	}

	action := model.PolicyEnrich
	matched := true
	if agent.Policy != nil {
		matched, err = policyeval.Evaluate(agent.Policy.Condition, policyeval.Context{
			"document": item.Document,
			"result":   parsed,
		})
		if err != nil {
			return pipelineResult{}, fmt.Errorf("%w: %v", model.ErrAgentConfig, err)
		}
		action = agent.Policy.PrimaryAction
		if !matched {
			action = agent.Policy.FallbackAction
		}
		e.metrics().PolicyDecision(agent.ID, string(action), matched)

		if action == model.PolicyTag && agent.Policy.TagField != "" {
			parsed[agent.Policy.TagField] = agent.Policy.TagValue
		}
		if agent.Policy.SimulationMode {
			return pipelineResult{written: false, reason: reasonSimulationMode, ai: &resp, rawResponse: resp.Content}, nil
		}
		if action == model.PolicyBlock || action == model.PolicySkip {
			return pipelineResult{written: false, reason: reasonPolicyBlocked, ai: &resp, rawResponse: resp.Content}, nil
		}
	}

	wbResult, err := writeback(ctx, e.Store, e.Idempotency, writebackInput{
		Agent:              agent,
		DocumentID:         item.DocumentID,
		Content:             parsed,
		AIResult:            resp,
		WorkItemID:          item.ID,
		IdempotencyKey:      item.IdempotencyKey,
		SourceVersion:       item.SourceVersion,
		SourceDocumentHash:  item.SourceDocumentHash,
	})
	if err != nil {
		return pipelineResult{}, fmt.Errorf("writing back result: %w", err)
	}

	return pipelineResult{written: wbResult.Written, reason: wbResult.Reason, ai: &resp, rawResponse: resp.Content}, nil
}

func (e *Executor) recordMetricsForSuccess(agentID string, result pipelineResult, lifecycle model.LifecycleState) {
	switch result.reason {
	case reasonShadowMode:
		e.metrics().ShadowWriteSkipped(agentID)
	case reasonStrictVersionConflict:
		e.metrics().VersionConflict(agentID)
	case reasonHashConflict:
		e.metrics().HashConflict(agentID)
	}
	status := "success"
	if lifecycle != model.LifecycleWritten {
		status = "skipped"
	}
	e.metrics().ExecutionCompleted(agentID, status)
}

// failureOutcome classifies a pipeline error into terminal / retryable /
// dead-lettered, feeds the agent's failure budget, upserts the execution
// record, and returns the worker.ExecutionOutcome the pool acts on.
func (e *Executor) failureOutcome(ctx context.Context, item model.WorkItem, agent *model.Agent, started time.Time, reason string, err error) worker.ExecutionOutcome {
	if isTerminalFailure(agent, reason, err) {
		e.upsertRecord(ctx, item, agent, started, model.StatusFailed, model.LifecycleDeadLetter, reason, false, err)
		return worker.ExecutionOutcome{Outcome: worker.OutcomeTerminal, Err: err}
	}

	e.Quarantine.RecordFailure(agent.ID, e.now(), e.thresholdFor(agent), e.windowFor(agent), e.cooldownFor(agent))
	if e.Quarantine.Quarantined(agent.ID, e.now()) {
		e.metrics().QuarantineEvent(agent.ID)
	}

	if item.ExhaustedRetries() {
		e.metrics().ExecutionCompleted(agent.ID, "failure")
		e.upsertRecord(ctx, item, agent, started, model.StatusFailed, model.LifecycleDeadLetter, reason, false, err)
		return worker.ExecutionOutcome{Outcome: worker.OutcomeDeadLetter, Err: err}
	}

	e.metrics().RetryScheduled(agent.ID, "failure")
	e.upsertRecord(ctx, item, agent, started, model.StatusFailed, model.LifecycleRetrying, reason, false, err)
	return worker.ExecutionOutcome{Outcome: worker.OutcomeRetryable, Err: err}
}

// isTerminalFailure matches the Retry & DLQ policy's short list of failures
// that are never retried: a strict-schema parse failure, or an unrenderable
// prompt when the agent carries a response schema in strict mode. Agent
// resolution failures are classified inline in Execute before an *Agent is
// even available.
func isTerminalFailure(agent *model.Agent, reason string, err error) bool {
	if agent.AI.StrictSchema && (errors.Is(err, model.ErrAIParse) || errors.Is(err, promptrender.ErrRender)) {
		return true
	}
	return false
}

func (e *Executor) thresholdFor(agent *model.Agent) int {
	if e.QuarantineFailureThreshold > 0 {
		return e.QuarantineFailureThreshold
	}
	return 5
}

func (e *Executor) windowFor(agent *model.Agent) time.Duration {
	if e.QuarantineWindow > 0 {
		return e.QuarantineWindow
	}
	return 5 * time.Minute
}

func (e *Executor) cooldownFor(agent *model.Agent) time.Duration {
	if e.QuarantineCooldown > 0 {
		return e.QuarantineCooldown
	}
	return 2 * time.Minute
}

// classifyReason turns a wrapped pipeline error into the short reason code
// stamped onto the execution record and used in log lines.
func classifyReason(err error) string {
	switch {
	case errors.Is(err, model.ErrAIRateLimit):
		return "ai_rate_limit"
	case errors.Is(err, model.ErrAIAuth):
		return "ai_auth"
	case errors.Is(err, model.ErrAIConnectivity):
		return "ai_connectivity"
	case errors.Is(err, model.ErrAIParse):
		return "parse_error"
	case errors.Is(err, model.ErrAIProvider):
		return "ai_provider_error"
	case errors.Is(err, model.ErrAgentConfig):
		return "policy_error"
	default:
		return "render_error"
	}
}

func (e *Executor) baseRecord(item model.WorkItem, agent *model.Agent, started time.Time) model.ExecutionRecord {
	rec := model.ExecutionRecord{
		ID:         item.ID,
		DocumentID: item.DocumentID,
		Database:   item.Database,
		Collection: item.Collection,
		Attempt:    item.Attempt,
		StartedAt:  started,
	}
	if agent != nil {
		rec.AgentID = agent.ID
		rec.AgentVersion = agent.Version
	} else {
		rec.AgentID = item.AgentID
	}
	return rec
}

func (e *Executor) finishRecord(rec *model.ExecutionRecord) {
	rec.FinishedAt = e.now()
	rec.DurationMillis = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
}

// checkLatencySLO records a metric when an agent defines latency_slo_millis
// and this run exceeded it, matching "record a latency-SLO violation if
// duration_ms > latency_slo_ms".
func (e *Executor) checkLatencySLO(agent *model.Agent, rec model.ExecutionRecord) {
	if agent == nil || agent.Execution.LatencySLOMillis <= 0 {
		return
	}
	if rec.DurationMillis > agent.Execution.LatencySLOMillis {
		e.metrics().LatencySLOViolation(agent.ID)
	}
}

func (e *Executor) saveRecord(ctx context.Context, rec model.ExecutionRecord) {
	if e.Records == nil {
		return
	}
	if err := e.Records.Upsert(ctx, rec); err != nil {
		// The execution record is an audit trail, not the source of truth for
		// the item's outcome; a persistence failure here must not change the
		// ack/retry decision already made for the queue message.
		_ = err
	}
}

func (e *Executor) upsertRecord(ctx context.Context, item model.WorkItem, agent *model.Agent, started time.Time, status model.ExecutionStatus, lifecycle model.LifecycleState, reason string, written bool, err error) {
	rec := e.baseRecord(item, agent, started)
	rec.Status = status
	rec.LifecycleState = lifecycle
	rec.Reason = reason
	rec.Written = written
	if err != nil {
		rec.Error = err.Error()
	}
	e.finishRecord(&rec)
	e.checkLatencySLO(agent, rec)
	e.saveRecord(ctx, rec)
}
