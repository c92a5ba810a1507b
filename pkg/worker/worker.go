package worker

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/dispatcher"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

const (
	idleSleep       = 200 * time.Millisecond
	errorBackoff    = 500 * time.Millisecond
	saturatedBackoff = 50 * time.Millisecond
	minBlockDuration = 50 * time.Millisecond
)

// Worker consumes a fair round-robin rotation of streams, dequeuing,
// executing, and acking/retrying/dead-lettering each item. Translates
// agent_worker.py's AgentWorker.run loop.
type Worker struct {
	id               string
	q                queue.Queue
	agents           AgentLookup
	executor         Executor
	consumerGroup    string
	dispatchStrategy model.RoutingStrategy
	cfg              config.WorkerConfig
	inflight         *inFlightTracker
	now              func() time.Time
	sleep            func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool

	// Metrics is optional; nil leaves pending/inflight/processed unrecorded.
	Metrics Metrics

	streamsMu sync.RWMutex
	streams   []string
	cursor    int

	pendingMu         sync.Mutex
	lastPendingSample map[string]time.Time

	statsMu sync.Mutex
	stats   Stats

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewWorker builds a Worker identified by id, consuming via consumerGroup.
func NewWorker(
	id string,
	q queue.Queue,
	agents AgentLookup,
	executor Executor,
	consumerGroup string,
	dispatchStrategy model.RoutingStrategy,
	cfg config.WorkerConfig,
	inflight *inFlightTracker,
) *Worker {
	return &Worker{
		id:                id,
		q:                 q,
		agents:            agents,
		executor:          executor,
		consumerGroup:     consumerGroup,
		dispatchStrategy:  dispatchStrategy,
		cfg:               cfg,
		inflight:          inflight,
		now:               time.Now,
		sleep:             interruptibleSleep,
		lastPendingSample: make(map[string]time.Time),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

func (w *Worker) metrics() Metrics {
	if w.Metrics != nil {
		return w.Metrics
	}
	return noopMetrics{}
}

// UpdateStreams replaces the worker's assigned stream set, matching
// AgentWorker.update_streams. Safe to call while Run is active.
func (w *Worker) UpdateStreams(streams []string) {
	w.streamsMu.Lock()
	w.streams = streams
	w.streamsMu.Unlock()
}

func (w *Worker) currentStreams() []string {
	w.streamsMu.RLock()
	defer w.streamsMu.RUnlock()
	return w.streams
}

// Stop signals Run to return after finishing any in-flight item.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Stats returns a snapshot of this worker's counters.
func (w *Worker) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// Run is the worker's main loop. It returns when ctx is cancelled or Stop is
// called, translating AgentWorker.run's fair stream rotation.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		streams := w.currentStreams()
		if len(streams) == 0 {
			if !w.sleep(ctx, w.stopCh, idleSleep) {
				return
			}
			continue
		}

		stream := streams[w.cursor%len(streams)]
		w.cursor++

		if w.inflight.saturated(stream, w.cfg.MaxInFlightPerStream) {
			if !w.sleep(ctx, w.stopCh, saturatedBackoff) {
				return
			}
			continue
		}

		w.samplePendingIfDue(ctx, stream)

		deliveries, err := w.q.Dequeue(ctx, stream, w.consumerGroup, w.id, 1, w.blockDuration(len(streams)))
		if err != nil {
			slog.Error("dequeue failed", "worker_id", w.id, "stream", stream, "error", err)
			if !w.sleep(ctx, w.stopCh, errorBackoff) {
				return
			}
			continue
		}

		if len(deliveries) == 0 {
			w.recordEmptyCycle()
			continue
		}

		for _, d := range deliveries {
			w.inflight.increment(stream)
			w.reportInflight(stream)
			w.processDelivery(ctx, stream, d)
			w.inflight.decrement(stream)
			w.reportInflight(stream)
		}
	}
}

// reportInflight publishes the current in-flight gauge for stream, a no-op
// for streams the in-flight cap doesn't track.
func (w *Worker) reportInflight(stream string) {
	if agentID := agentIDForStream(stream); agentID != "" {
		w.metrics().StreamInflight(agentID, stream, float64(w.inflight.count(stream)))
	}
}

// blockDuration divides the configured poll interval across the active
// stream count so a worker's total wait time across one full rotation stays
// bounded, matching the original's "effective block-ms divided by active
// stream count" fairness rule.
func (w *Worker) blockDuration(numStreams int) time.Duration {
	base := w.cfg.StreamPollInterval
	if numStreams <= 1 {
		return base
	}
	d := base / time.Duration(numStreams)
	if d < minBlockDuration {
		d = minBlockDuration
	}
	return d
}

func (w *Worker) processDelivery(ctx context.Context, stream string, d queue.Delivery) {
	w.statsMu.Lock()
	w.stats.Processed++
	w.statsMu.Unlock()

	outcome := w.executor.Execute(ctx, d.Item)
	w.metrics().QueueProcessed(stream, outcome.Outcome.String())

	switch outcome.Outcome {
	case OutcomeSuccess:
		w.ack(ctx, stream, d.MessageID)
		w.statsMu.Lock()
		w.stats.Succeeded++
		w.statsMu.Unlock()

	case OutcomeTerminal:
		w.ack(ctx, stream, d.MessageID)
		w.statsMu.Lock()
		w.stats.Terminal++
		w.statsMu.Unlock()
		slog.Warn("dropping terminal work item", "agent_id", d.Item.AgentID, "work_item_id", d.Item.ID, "error", outcome.Err)

	case OutcomeRetryable:
		w.handleRetry(ctx, stream, d)

	default: // OutcomeDeadLetter and any unrecognized value fail closed to the DLQ.
		w.handleDeadLetter(ctx, stream, d, outcome.Err)
	}
}

// handleRetry sleeps for the agent's own backoff delay, re-enqueues an
// incremented-attempt copy to the SAME stream, then acks the original
// message regardless of whether the sleep completed or the re-enqueue
// succeeded, matching _handle_failure's "always ack the original".
func (w *Worker) handleRetry(ctx context.Context, stream string, d queue.Delivery) {
	agent, _ := w.agents.Get(d.Item.AgentID)
	delay := retryDelay(agent, d.Item.Attempt+1)

	if w.sleep(ctx, w.stopCh, delay) {
		retryItem := d.Item.IncrementAttempt()
		if _, err := w.q.Enqueue(ctx, stream, retryItem); err != nil {
			slog.Error("failed to re-enqueue retry", "work_item_id", d.Item.ID, "stream", stream, "error", err)
		} else {
			w.statsMu.Lock()
			w.stats.Retried++
			w.statsMu.Unlock()
		}
	}

	w.ack(ctx, stream, d.MessageID)
}

func (w *Worker) handleDeadLetter(ctx context.Context, stream string, d queue.Delivery, cause error) {
	agent, _ := w.agents.Get(d.Item.AgentID)
	dlqStream := dispatcher.DLQStreamName(agent, w.dispatchStrategy)

	if _, err := w.q.MoveToDLQ(ctx, d.Item, cause, dlqStream); err != nil {
		slog.Error("failed to move item to dlq", "work_item_id", d.Item.ID, "dlq_stream", dlqStream, "error", err)
	} else {
		w.statsMu.Lock()
		w.stats.DeadLettered++
		w.statsMu.Unlock()
	}

	w.ack(ctx, stream, d.MessageID)
}

func (w *Worker) ack(ctx context.Context, stream, messageID string) {
	if err := w.q.Ack(ctx, stream, w.consumerGroup, messageID); err != nil {
		slog.Error("ack failed", "stream", stream, "message_id", messageID, "error", err)
	}
}

// retryDelay computes the exponential backoff for attempt (1-based),
// sourced from the agent's own ExecutionSpec rather than global worker
// config, matching _calculate_retry_delay(base * 2**(attempt-1), max_delay).
func retryDelay(agent *model.Agent, attempt int) time.Duration {
	base := 1.0
	maxDelay := 30.0
	if agent != nil {
		if agent.Execution.RetryBaseDelaySeconds > 0 {
			base = agent.Execution.RetryBaseDelaySeconds
		}
		if agent.Execution.RetryMaxDelaySeconds > 0 {
			maxDelay = agent.Execution.RetryMaxDelaySeconds
		}
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base * math.Pow(2, float64(attempt-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay * float64(time.Second))
}

// recordEmptyCycle tracks consecutive empty dequeues and logs every Nth one,
// matching _record_empty_cycle's starvation-cycle counter.
func (w *Worker) recordEmptyCycle() {
	w.statsMu.Lock()
	w.stats.EmptyCycles++
	n := w.stats.EmptyCycles
	w.statsMu.Unlock()

	if w.cfg.StarvationLogEveryN > 0 && n%int64(w.cfg.StarvationLogEveryN) == 0 {
		slog.Debug("worker idle", "worker_id", w.id, "empty_cycles", n)
	}
}

// samplePendingIfDue reports stream's pending depth at most once per
// PendingSampleInterval, matching _sample_stream_pending_if_due's TTL gate.
func (w *Worker) samplePendingIfDue(ctx context.Context, stream string) {
	w.pendingMu.Lock()
	last, ok := w.lastPendingSample[stream]
	due := !ok || w.now().Sub(last) >= w.cfg.PendingSampleInterval
	if due {
		w.lastPendingSample[stream] = w.now()
	}
	w.pendingMu.Unlock()

	if !due {
		return
	}

	count, err := w.q.PendingCount(ctx, stream, w.consumerGroup)
	if err != nil {
		slog.Debug("pending count sample failed", "stream", stream, "error", err)
		return
	}
	w.metrics().StreamPending(agentIDForStream(stream), stream, float64(count))
	slog.Debug("stream pending depth", "stream", stream, "pending", count)
}

// interruptibleSleep waits for d, returning false early if ctx is cancelled
// or stop is closed, matching _sleep_with_shutdown.
func interruptibleSleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
