package worker

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/memqueue"
)

func TestPoolStartDiscoversOneStreamPerEnabledAgent(t *testing.T) {
	q := memqueue.New()
	agents := newFakeAgentLookup(
		fastRetryAgent("agent-1"),
		fastRetryAgent("agent-2"),
	)
	exec := &fakeExecutor{}

	dispatchCfg := *config.DefaultDispatcherConfig()
	dispatchCfg.RoutingStrategy = model.RouteByAgent

	cfg := testWorkerConfig()
	cfg.WorkerCount = 2

	p := New("pool-test", q, agents, exec, dispatchCfg, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	stats := p.Stats()
	if len(stats.Streams) != 2 {
		t.Fatalf("expected 2 discovered streams, got %v", stats.Streams)
	}
	if len(stats.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(stats.Workers))
	}
}

func TestPoolStopWaitsForGracefulShutdown(t *testing.T) {
	q := memqueue.New()
	agent := fastRetryAgent("agent-1")
	agents := newFakeAgentLookup(agent)
	exec := &fakeExecutor{outcomes: []ExecutionOutcome{{Outcome: OutcomeSuccess}}}

	dispatchCfg := *config.DefaultDispatcherConfig()
	dispatchCfg.RoutingStrategy = model.RouteByAgent

	cfg := testWorkerConfig()
	cfg.WorkerCount = 1
	cfg.GracefulShutdownTimeout = 2 * time.Second

	p := New("pool-test", q, agents, exec, dispatchCfg, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stats := p.Stop()
	if len(stats.Workers) != 1 {
		t.Fatalf("expected stats for 1 worker after stop, got %d", len(stats.Workers))
	}
}

func TestPoolThreadsMetricsIntoEveryWorker(t *testing.T) {
	q := memqueue.New()
	agents := newFakeAgentLookup(fastRetryAgent("agent-1"), fastRetryAgent("agent-2"))
	exec := &fakeExecutor{}

	dispatchCfg := *config.DefaultDispatcherConfig()
	dispatchCfg.RoutingStrategy = model.RouteByAgent

	cfg := testWorkerConfig()
	cfg.WorkerCount = 2

	p := New("pool-test", q, agents, exec, dispatchCfg, cfg)
	metrics := &fakeWorkerMetrics{}
	p.Metrics = metrics

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	for _, w := range p.workers {
		if w.Metrics != metrics {
			t.Fatalf("expected worker %s to share the pool's Metrics", w.id)
		}
	}
}

func TestEqualStreamSets(t *testing.T) {
	if !equalStreamSets([]string{"a", "b"}, []string{"a", "b"}) {
		t.Error("expected identical slices to be equal")
	}
	if equalStreamSets([]string{"a"}, []string{"a", "b"}) {
		t.Error("expected different-length slices to be unequal")
	}
	if equalStreamSets([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("expected differently-ordered slices to be unequal")
	}
}
