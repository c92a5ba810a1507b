package executor

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// quarantineTracker maintains one model.QuarantineWindow per agent,
// tripping a cooldown once an agent's failures within Window reach
// threshold, grounded on the failure-budget described in spec.md §4.8 and
// kept in-process rather than persisted, matching pkg/dispatcher's
// in-memory dedup cache style (same tradeoff: a restart forgets recent
// failure history, which is acceptable since quarantine is a throttle, not
// a correctness guarantee).
type quarantineTracker struct {
	mu      sync.Mutex
	windows map[string]*model.QuarantineWindow
}

func newQuarantineTracker() *quarantineTracker {
	return &quarantineTracker{windows: make(map[string]*model.QuarantineWindow)}
}

// Quarantined reports whether agentID is currently suspended from execution.
func (q *quarantineTracker) Quarantined(agentID string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.windows[agentID]
	if !ok {
		return false
	}
	return w.Quarantined(now)
}

// RecordFailure increments the agent's failure count within the current
// window, resetting the window if it has expired, and trips a cooldown once
// the count crosses threshold.
func (q *quarantineTracker) RecordFailure(agentID string, now time.Time, threshold int, window, cooldown time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.windows[agentID]
	if !ok || now.Sub(w.WindowStart) > window {
		w = &model.QuarantineWindow{AgentID: agentID, WindowStart: now}
		q.windows[agentID] = w
	}
	w.FailureCount++

	if w.FailureCount >= threshold {
		until := now.Add(cooldown)
		w.QuarantinedUntil = &until
	}
}

// RecordSuccess clears the agent's failure window, matching the
// "a successful execution resets the budget" rule.
func (q *quarantineTracker) RecordSuccess(agentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.windows, agentID)
}
