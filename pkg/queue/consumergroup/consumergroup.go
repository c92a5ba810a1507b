// Package consumergroup manages the stable per-stream consumer identity a
// worker pool presents to the queue backend and the periodic reclaim of
// messages left pending by a consumer that crashed mid-processing, grounded
// on original_source/src/mongoclaw/queue/consumer_group.py's
// ConsumerGroupManager.
package consumergroup

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

// Reclaimer is the subset of queue.Queue the claim loop needs, satisfied by
// queue.Queue.
type Reclaimer interface {
	ClaimPending(ctx context.Context, stream, consumerGroup, consumerName string, minIdle time.Duration, count int) ([]queue.Delivery, error)
}

// Process handles one message reclaimed from a dead consumer, the same
// shape a worker pool uses to process a freshly dequeued delivery.
type Process func(ctx context.Context, stream string, d queue.Delivery)

// Metrics is the narrow hook the claim loop emits through; tests and callers
// that don't need Prometheus can leave it nil.
type Metrics interface {
	ReplayedDelivery(agentID string)
}

type noopMetrics struct{}

func (noopMetrics) ReplayedDelivery(string) {}

const reclaimBatchSize = 10

// Manager owns the stable consumer name this process presents per stream
// and the background loop reclaiming pending messages abandoned by crashed
// consumers in the same group, translating ConsumerGroupManager.
type Manager struct {
	backend   Reclaimer
	groupName string
	prefix    string
	claimEvery time.Duration
	minIdle   time.Duration
	process   Process

	// Metrics is optional; nil leaves replayed_deliveries_total unrecorded.
	Metrics Metrics

	mu        sync.Mutex
	consumers map[string]string

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// New builds a Manager. prefix, if empty, is derived from the host name plus
// a random suffix (DefaultConsumerPrefix), matching the original's
// "{hostname}-{uuid4[:8]}" scheme.
func New(backend Reclaimer, groupName, prefix string, claimInterval, minIdle time.Duration) *Manager {
	if prefix == "" {
		prefix = DefaultConsumerPrefix()
	}
	if groupName == "" {
		groupName = "mongoclaw-workers"
	}
	if claimInterval <= 0 {
		claimInterval = 30 * time.Second
	}
	if minIdle <= 0 {
		minIdle = 60 * time.Second
	}
	return &Manager{
		backend:    backend,
		groupName:  groupName,
		prefix:     prefix,
		claimEvery: claimInterval,
		minIdle:    minIdle,
		consumers:  make(map[string]string),
		stopCh:     make(chan struct{}),
	}
}

// DefaultConsumerPrefix builds a per-process consumer name prefix from the
// host name and a short random suffix, so restarts don't collide with a
// still-draining previous instance's pending entries.
func DefaultConsumerPrefix() string {
	host := os.Getenv("HOSTNAME")
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "local"
		}
	}
	return fmt.Sprintf("%s-%s", host, randomSuffix(8))
}

func randomSuffix(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"[:n]
	}
	return hex.EncodeToString(buf)[:n]
}

// GroupName returns the consumer group this manager's consumers join.
func (m *Manager) GroupName() string { return m.groupName }

func (m *Manager) metrics() Metrics {
	if m.Metrics != nil {
		return m.Metrics
	}
	return noopMetrics{}
}

// ConsumerName returns this process's stable consumer name for stream,
// minting one on first use from the last path segment (matching
// get_consumer_name's "stream.split(':')[-1][:8]" tail).
func (m *Manager) ConsumerName(stream string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.consumers[stream]; ok {
		return name
	}
	name := fmt.Sprintf("%s-%s", m.prefix, streamTail(stream))
	m.consumers[stream] = name
	return name
}

func streamTail(stream string) string {
	parts := strings.Split(stream, ":")
	tail := parts[len(parts)-1]
	if len(tail) > 8 {
		tail = tail[:8]
	}
	return tail
}

// Unregister drops a stream this process no longer owns, so a subsequent
// ConsumerName call (if the stream is reassigned later) mints a fresh name.
func (m *Manager) Unregister(stream string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumers, stream)
}

func (m *Manager) registeredStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := make([]string, 0, len(m.consumers))
	for s := range m.consumers {
		streams = append(streams, s)
	}
	return streams
}

// Start launches the periodic claim loop. process is invoked once per
// reclaimed delivery, letting the caller run it through the same
// execute/ack/retry/dlq pipeline a freshly dequeued item takes; pass nil to
// only reclaim ownership without reprocessing, matching the original's
// log-only _claim_loop.
func (m *Manager) Start(ctx context.Context, process Process) {
	if m.started {
		return
	}
	m.started = true
	m.process = process

	m.wg.Add(1)
	go m.claimLoop(ctx)

	slog.Info("consumer group manager started", "group", m.groupName, "prefix", m.prefix)
}

// Stop halts the claim loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("consumer group manager stopped", "group", m.groupName)
}

func (m *Manager) claimLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.claimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.claimOnce(ctx)
		}
	}
}

func (m *Manager) claimOnce(ctx context.Context) {
	for _, stream := range m.registeredStreams() {
		consumerName := m.ConsumerName(stream)

		claimed, err := m.backend.ClaimPending(ctx, stream, m.groupName, consumerName, m.minIdle, reclaimBatchSize)
		if err != nil {
			slog.Warn("failed to claim pending messages", "stream", stream, "error", err)
			continue
		}
		if len(claimed) == 0 {
			continue
		}

		slog.Info("claimed pending messages", "stream", stream, "count", len(claimed))
		for _, d := range claimed {
			m.metrics().ReplayedDelivery(d.Item.AgentID)
		}
		if m.process == nil {
			continue
		}
		for _, d := range claimed {
			m.process(ctx, stream, d)
		}
	}
}
