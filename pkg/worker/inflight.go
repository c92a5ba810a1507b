package worker

import (
	"strings"
	"sync"
)

// agentStreamPrefix identifies streams subject to the per-stream in-flight
// cap. agent_worker.py only tracks _stream_inflight_counts for by_agent
// streams, since those are the only ones where a single slow agent could
// otherwise starve its own backlog of workers.
const agentStreamPrefix = "mongoclaw:agent:"

func isAgentStream(stream string) bool {
	return strings.HasPrefix(stream, agentStreamPrefix)
}

// inFlightTracker is the shared mutable per-stream in-flight counter every
// Worker in a Pool increments/decrements around processing an item,
// translating agent_worker.py's module-level _inflight_lock/
// _stream_inflight_counts into an instance the Pool owns and hands to each
// Worker, rather than genuine module globals.
type inFlightTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func newInFlightTracker() *inFlightTracker {
	return &inFlightTracker{counts: make(map[string]int)}
}

// saturated reports whether stream is at or above limit. Non-agent streams
// are never saturated: the cap only applies to mongoclaw:agent:* streams.
func (t *inFlightTracker) saturated(stream string, limit int) bool {
	if !isAgentStream(stream) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[stream] >= limit
}

func (t *inFlightTracker) increment(stream string) {
	if !isAgentStream(stream) {
		return
	}
	t.mu.Lock()
	t.counts[stream]++
	t.mu.Unlock()
}

func (t *inFlightTracker) decrement(stream string) {
	if !isAgentStream(stream) {
		return
	}
	t.mu.Lock()
	if t.counts[stream] > 0 {
		t.counts[stream]--
	}
	t.mu.Unlock()
}

func (t *inFlightTracker) count(stream string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[stream]
}
