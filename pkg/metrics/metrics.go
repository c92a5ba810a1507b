// Package metrics registers the Prometheus collectors spec.md §6 names as
// the core's stable observability surface and exposes them over /metrics.
// Grounded on hortator-ai-Hortator's internal/controller/metrics.go (the
// only repo in the corpus that pulls prometheus/client_golang): package-level
// CounterVec/GaugeVec/Histogram declarations registered once at
// construction, with small recording methods that hide the label ordering
// from callers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds every metric the core exposes. A *Collectors satisfies
// pkg/executor.Metrics and pkg/dispatcher's (optional) metrics hook; callers
// that don't need Prometheus can leave those fields nil and the packages
// fall back to their own no-op implementations.
type Collectors struct {
	registry *prometheus.Registry

	executionsTotal       *prometheus.CounterVec
	queueProcessedTotal   *prometheus.CounterVec
	streamPending         *prometheus.GaugeVec
	streamInflight        *prometheus.GaugeVec
	dispatchAdmission     *prometheus.CounterVec
	dispatchQueueFullness *prometheus.GaugeVec
	replayedDeliveries    *prometheus.CounterVec
	versionConflicts      *prometheus.CounterVec
	hashConflicts         *prometheus.CounterVec
	quarantineEvents      *prometheus.CounterVec
	latencySLOViolations  *prometheus.CounterVec
	loopGuardSkips        *prometheus.CounterVec
	shadowWritesSkipped   *prometheus.CounterVec
	policyDecisions       *prometheus.CounterVec
	retriesScheduled      *prometheus.CounterVec
	circuitBreakerState   *prometheus.GaugeVec
}

// New builds a Collectors and registers every metric against a fresh
// registry. Use Handler to expose it, or Registry to merge it into a larger
// mux (e.g. alongside Go runtime collectors).
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_executions_total",
			Help: "Total pipeline executions by agent and terminal status.",
		}, []string{"agent_id", "status"}),

		queueProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Total deliveries processed per queue and outcome.",
		}, []string{"queue", "status"}),

		streamPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_stream_pending",
			Help: "Pending (undelivered or unacked) entry count per agent stream.",
		}, []string{"agent_id", "stream"}),

		streamInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_stream_inflight",
			Help: "In-flight delivery count per agent stream.",
		}, []string{"agent_id", "stream"}),

		dispatchAdmission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_admission_total",
			Help: "Dispatch admission decisions by agent, stream, and decision.",
		}, []string{"agent_id", "stream", "decision"}),

		dispatchQueueFullness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_queue_fullness",
			Help: "Most recently sampled fullness ratio (0..1) per stream.",
		}, []string{"stream"}),

		replayedDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayed_deliveries_total",
			Help: "Deliveries reclaimed from a consumer group's pending list and replayed.",
		}, []string{"agent_id"}),

		versionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "version_conflicts_total",
			Help: "Writebacks rejected by the strict-post-commit version guard.",
		}, []string{"agent_id"}),

		hashConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hash_conflicts_total",
			Help: "Writebacks rejected by the require-document-hash-match guard.",
		}, []string{"agent_id"}),

		quarantineEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_quarantine_events_total",
			Help: "Times an agent entered quarantine after reaching its failure budget.",
		}, []string{"agent_id"}),

		latencySLOViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_latency_slo_violations_total",
			Help: "Executions whose duration exceeded the agent's latency SLO.",
		}, []string{"agent_id"}),

		loopGuardSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_guard_skips_total",
			Help: "Change events skipped because they carried the core's own writeback metadata.",
		}, []string{"agent_id"}),

		shadowWritesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_writes_skipped_total",
			Help: "Pipeline runs that computed a result but skipped the write under shadow consistency.",
		}, []string{"agent_id"}),

		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_decisions_total",
			Help: "Policy gate outcomes by agent, action, and whether the condition matched.",
		}, []string{"agent_id", "action", "matched"}),

		retriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retries_scheduled_total",
			Help: "Retries scheduled by agent and failure reason.",
		}, []string{"agent_id", "reason"}),

		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state by name (0=closed, 1=open, 2=half_open).",
		}, []string{"name"}),
	}

	c.registry.MustRegister(
		c.executionsTotal, c.queueProcessedTotal, c.streamPending, c.streamInflight,
		c.dispatchAdmission, c.dispatchQueueFullness, c.replayedDeliveries,
		c.versionConflicts, c.hashConflicts, c.quarantineEvents, c.latencySLOViolations,
		c.loopGuardSkips, c.shadowWritesSkipped, c.policyDecisions, c.retriesScheduled,
		c.circuitBreakerState,
	)
	return c
}

// Registry returns the underlying Prometheus registry, for embedding
// alongside process/Go runtime collectors in a larger mux.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registered collectors in the Prometheus text exposition
// format, the net/http.ServeMux-friendly minimum spec.md §6 calls for.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// --- pkg/executor.Metrics ---

// ExecutionCompleted records a finished pipeline run's status as reported by
// pkg/executor: "success", "skipped", or "failure" once retries are exhausted.
func (c *Collectors) ExecutionCompleted(agentID, status string) {
	c.executionsTotal.WithLabelValues(agentID, status).Inc()
}

func (c *Collectors) VersionConflict(agentID string) {
	c.versionConflicts.WithLabelValues(agentID).Inc()
}

func (c *Collectors) HashConflict(agentID string) {
	c.hashConflicts.WithLabelValues(agentID).Inc()
}

func (c *Collectors) ShadowWriteSkipped(agentID string) {
	c.shadowWritesSkipped.WithLabelValues(agentID).Inc()
}

func (c *Collectors) PolicyDecision(agentID, action string, matched bool) {
	c.policyDecisions.WithLabelValues(agentID, action, boolLabel(matched)).Inc()
}

func (c *Collectors) RetryScheduled(agentID, reason string) {
	c.retriesScheduled.WithLabelValues(agentID, reason).Inc()
}

func (c *Collectors) QuarantineEvent(agentID string) {
	c.quarantineEvents.WithLabelValues(agentID).Inc()
}

func (c *Collectors) LatencySLOViolation(agentID string) {
	c.latencySLOViolations.WithLabelValues(agentID).Inc()
}

// --- dispatcher / queue / watcher / worker hooks ---

// QueueProcessed records one consumed delivery's outcome for a given queue
// (stream) name, matching queue_processed_total.
func (c *Collectors) QueueProcessed(queue, status string) {
	c.queueProcessedTotal.WithLabelValues(queue, status).Inc()
}

// StreamPending sets the current pending-entry gauge for an agent's stream.
func (c *Collectors) StreamPending(agentID, stream string, n float64) {
	c.streamPending.WithLabelValues(agentID, stream).Set(n)
}

// StreamInflight sets the current in-flight gauge for an agent's stream.
func (c *Collectors) StreamInflight(agentID, stream string, n float64) {
	c.streamInflight.WithLabelValues(agentID, stream).Set(n)
}

// DispatchAdmission records one admission decision ("admitted",
// "priority_bypass", "dropped", "dlq", "admitted_after_defer",
// "defer_forced_enqueue") for an agent's stream.
func (c *Collectors) DispatchAdmission(agentID, stream, decision string) {
	c.dispatchAdmission.WithLabelValues(agentID, stream, decision).Inc()
}

// QueueFullness sets the last-sampled fullness ratio for a stream.
func (c *Collectors) QueueFullness(stream string, fullness float64) {
	c.dispatchQueueFullness.WithLabelValues(stream).Set(fullness)
}

// ReplayedDelivery records one pending-entry reclaimed and replayed for an
// agent's consumer group.
func (c *Collectors) ReplayedDelivery(agentID string) {
	c.replayedDeliveries.WithLabelValues(agentID).Inc()
}

// LoopGuardSkip records one change event skipped because it carried the
// core's own writeback metadata.
func (c *Collectors) LoopGuardSkip(agentID string) {
	c.loopGuardSkips.WithLabelValues(agentID).Inc()
}

// CircuitBreakerState sets a named breaker's numeric state
// (0=closed, 1=open, 2=half_open).
func (c *Collectors) CircuitBreakerState(name string, state float64) {
	c.circuitBreakerState.WithLabelValues(name).Set(state)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
