package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

// defaultConsumerGroup is the Redis Streams consumer group every worker
// pool joins, matching the single shared group pool.py uses per stream.
const defaultConsumerGroup = "mongoclaw-workers"

// Pool owns a fixed set of Workers plus the periodic stream-discovery loop
// that keeps them pointed at the current agent set, translating
// pool.py's WorkerPool.
type Pool struct {
	id            string
	q             queue.Queue
	agents        AgentLookup
	executor      Executor
	dispatchCfg   config.DispatcherConfig
	cfg           config.WorkerConfig
	consumerGroup string

	inflight *inFlightTracker

	// Metrics is optional; nil leaves every worker's metrics unrecorded.
	Metrics Metrics

	streamsMu sync.RWMutex
	streams   []string

	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Pool. id distinguishes this process's consumer names from
// any sibling pool sharing the same streams (e.g. another replica).
func New(id string, q queue.Queue, agents AgentLookup, executor Executor, dispatchCfg config.DispatcherConfig, cfg config.WorkerConfig) *Pool {
	return &Pool{
		id:            id,
		q:             q,
		agents:        agents,
		executor:      executor,
		dispatchCfg:   dispatchCfg,
		cfg:           cfg,
		consumerGroup: defaultConsumerGroup,
		inflight:      newInFlightTracker(),
		stopCh:        make(chan struct{}),
	}
}

// Start discovers the initial stream set, ensures a consumer group exists on
// each, spawns cfg.WorkerCount workers, and starts the background
// rediscovery loop.
func (p *Pool) Start(ctx context.Context) error {
	streams := discoverStreams(p.agents.All(), p.dispatchCfg.RoutingStrategy, p.dispatchCfg.NumPartitions)
	for _, stream := range streams {
		if err := p.q.EnsureConsumerGroup(ctx, stream, p.consumerGroup); err != nil {
			return fmt.Errorf("ensure consumer group on %s: %w", stream, err)
		}
	}
	p.streamsMu.Lock()
	p.streams = streams
	p.streamsMu.Unlock()

	p.workers = make([]*Worker, p.cfg.WorkerCount)
	for i := range p.workers {
		w := NewWorker(
			fmt.Sprintf("%s-%d", p.id, i),
			p.q,
			p.agents,
			p.executor,
			p.consumerGroup,
			p.dispatchCfg.RoutingStrategy,
			p.cfg,
			p.inflight,
		)
		w.Metrics = p.Metrics
		w.UpdateStreams(streams)
		p.workers[i] = w

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}

	p.wg.Add(1)
	go p.runDiscoveryLoop(ctx)

	slog.Info("worker pool started", "pool_id", p.id, "workers", p.cfg.WorkerCount, "streams", len(streams))
	return nil
}

// runDiscoveryLoop periodically recomputes the stream set and pushes any
// change out to every worker, translating _stream_discovery_loop's
// sleep-then-diff cycle.
func (p *Pool) runDiscoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.StreamDiscoveryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.rediscover(ctx)
		}
	}
}

func (p *Pool) rediscover(ctx context.Context) {
	next := discoverStreams(p.agents.All(), p.dispatchCfg.RoutingStrategy, p.dispatchCfg.NumPartitions)

	p.streamsMu.Lock()
	prev := p.streams
	changed := !equalStreamSets(prev, next)
	if changed {
		p.streams = next
	}
	p.streamsMu.Unlock()

	if !changed {
		return
	}

	for _, stream := range next {
		if err := p.q.EnsureConsumerGroup(ctx, stream, p.consumerGroup); err != nil {
			slog.Error("ensure consumer group failed during rediscovery", "stream", stream, "error", err)
		}
	}

	for _, w := range p.workers {
		w.UpdateStreams(next)
	}
	slog.Info("worker pool stream set changed", "pool_id", p.id, "streams", len(next))
}

func equalStreamSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Stop signals every worker and the discovery loop to exit, waiting up to
// cfg.GracefulShutdownTimeout for in-flight items to finish before
// returning, matching WorkerPool.shutdown's bounded asyncio.wait.
func (p *Pool) Stop() PoolStats {
	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, w := range p.workers {
		w.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("worker pool graceful shutdown timed out, returning with workers still draining", "pool_id", p.id)
	}

	return p.Stats()
}

// Stats snapshots every worker's counters alongside the current stream set.
func (p *Pool) Stats() PoolStats {
	p.streamsMu.RLock()
	streams := append([]string(nil), p.streams...)
	p.streamsMu.RUnlock()

	stats := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return PoolStats{Streams: streams, Workers: stats}
}
