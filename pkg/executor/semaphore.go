package executor

import (
	"context"
	"sync"
)

// agentSemaphores lazily creates one buffered channel per agent id sized to
// that agent's execution.max_concurrency, translating spec.md §4.8 step 3
// ("acquire a per-agent semaphore of that size, creating/reusing one keyed
// by agent id").
type agentSemaphores struct {
	mu    sync.Mutex
	byAgent map[string]chan struct{}
}

func newAgentSemaphores() *agentSemaphores {
	return &agentSemaphores{byAgent: make(map[string]chan struct{})}
}

func (s *agentSemaphores) get(agentID string, size int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.byAgent[agentID]
	if !ok || cap(sem) != size {
		sem = make(chan struct{}, size)
		s.byAgent[agentID] = sem
	}
	return sem
}

// acquire blocks until a slot is free or ctx is cancelled. contended reports
// whether the caller had to wait, so the executor can record a contention
// metric matching "record a metric on contention".
func (s *agentSemaphores) acquire(ctx context.Context, agentID string, size int) (release func(), contended bool, err error) {
	if size <= 0 {
		return func() {}, false, nil
	}
	sem := s.get(agentID, size)

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, false, nil
	default:
	}

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}
