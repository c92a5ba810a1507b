package consumergroup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

func TestConsumerNameIsStablePerStreamAndDerivesFromTail(t *testing.T) {
	m := New(nil, "mongoclaw-workers", "host-abc123", time.Minute, time.Minute)

	first := m.ConsumerName("mongoclaw:stream:ticket-triage")
	second := m.ConsumerName("mongoclaw:stream:ticket-triage")
	if first != second {
		t.Fatalf("expected stable consumer name, got %q then %q", first, second)
	}
	if first != "host-abc123-ticket-t" {
		t.Fatalf("expected name derived from stream tail truncated to 8 chars, got %q", first)
	}
}

func TestConsumerNameDiffersAcrossStreams(t *testing.T) {
	m := New(nil, "mongoclaw-workers", "host-abc123", time.Minute, time.Minute)
	a := m.ConsumerName("mongoclaw:stream:alpha")
	b := m.ConsumerName("mongoclaw:stream:beta")
	if a == b {
		t.Fatalf("expected distinct consumer names per stream, got %q for both", a)
	}
}

func TestDefaultConsumerPrefixIsNonEmptyAndVaries(t *testing.T) {
	a := DefaultConsumerPrefix()
	b := DefaultConsumerPrefix()
	if a == "" || b == "" {
		t.Fatal("expected non-empty prefix")
	}
	if a == b {
		t.Fatal("expected distinct prefixes across calls (random suffix)")
	}
}

type fakeReclaimer struct {
	mu      sync.Mutex
	claims  []string
	toClaim []queue.Delivery
}

func (f *fakeReclaimer) ClaimPending(_ context.Context, stream, _, _ string, _ time.Duration, _ int) ([]queue.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, stream)
	out := f.toClaim
	f.toClaim = nil
	return out, nil
}

func TestClaimLoopReprocessesReclaimedDeliveries(t *testing.T) {
	reclaimer := &fakeReclaimer{
		toClaim: []queue.Delivery{{MessageID: "1-0", Item: model.WorkItem{ID: "wi-1", AgentID: "ticket-triage"}}},
	}
	m := New(reclaimer, "mongoclaw-workers", "host-abc", 10*time.Millisecond, time.Millisecond)
	m.ConsumerName("mongoclaw:stream:ticket-triage")

	var mu sync.Mutex
	var processed []string
	done := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx, func(_ context.Context, stream string, d queue.Delivery) {
		mu.Lock()
		processed = append(processed, d.Item.ID)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer m.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for claim loop to reprocess a reclaimed delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 1 || processed[0] != "wi-1" {
		t.Fatalf("expected reclaimed delivery wi-1 reprocessed, got %v", processed)
	}
}

type fakeReplayMetrics struct {
	mu      sync.Mutex
	replays []string
}

func (f *fakeReplayMetrics) ReplayedDelivery(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, agentID)
}

func TestClaimLoopRecordsReplayedDeliveryMetric(t *testing.T) {
	reclaimer := &fakeReclaimer{
		toClaim: []queue.Delivery{{MessageID: "1-0", Item: model.WorkItem{ID: "wi-1", AgentID: "ticket-triage"}}},
	}
	m := New(reclaimer, "mongoclaw-workers", "host-abc", 10*time.Millisecond, time.Millisecond)
	metrics := &fakeReplayMetrics{}
	m.Metrics = metrics
	m.ConsumerName("mongoclaw:stream:ticket-triage")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, nil)
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		metrics.mu.Lock()
		n := len(metrics.replays)
		metrics.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.replays) != 1 || metrics.replays[0] != "ticket-triage" {
		t.Fatalf("expected one replayed delivery recorded for ticket-triage, got %v", metrics.replays)
	}
}

func TestClaimLoopSkipsProcessingWhenProcessIsNil(t *testing.T) {
	reclaimer := &fakeReclaimer{
		toClaim: []queue.Delivery{{MessageID: "1-0", Item: model.WorkItem{ID: "wi-1"}}},
	}
	m := New(reclaimer, "mongoclaw-workers", "host-abc", 10*time.Millisecond, time.Millisecond)
	m.ConsumerName("mongoclaw:stream:ticket-triage")

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, nil)
	time.Sleep(30 * time.Millisecond)
	cancel()
	m.Stop()

	reclaimer.mu.Lock()
	defer reclaimer.mu.Unlock()
	if len(reclaimer.claims) == 0 {
		t.Fatal("expected at least one claim attempt")
	}
}
