package executor

// Metrics is the narrow set of counters the pipeline emits, named after the
// stable metric names spec.md §6 lists. Declared as an interface so
// pkg/metrics can implement it against prometheus/client_golang without
// pkg/executor importing that dependency directly; tests use noopMetrics or
// a recording fake.
type Metrics interface {
	ExecutionCompleted(agentID, status string)
	VersionConflict(agentID string)
	HashConflict(agentID string)
	ShadowWriteSkipped(agentID string)
	PolicyDecision(agentID string, action string, matched bool)
	RetryScheduled(agentID string, reason string)
	QuarantineEvent(agentID string)
	LatencySLOViolation(agentID string)
}

// noopMetrics discards every observation, used when the caller does not
// wire a real Metrics implementation.
type noopMetrics struct{}

func (noopMetrics) ExecutionCompleted(string, string)     {}
func (noopMetrics) VersionConflict(string)                {}
func (noopMetrics) HashConflict(string)                   {}
func (noopMetrics) ShadowWriteSkipped(string)              {}
func (noopMetrics) PolicyDecision(string, string, bool)    {}
func (noopMetrics) RetryScheduled(string, string)          {}
func (noopMetrics) QuarantineEvent(string)                 {}
func (noopMetrics) LatencySLOViolation(string)             {}
