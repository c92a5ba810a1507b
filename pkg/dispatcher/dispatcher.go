package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

// pressureSample is a monotonic-clock-stamped fullness reading, matching
// agent_dispatcher.py's _pressure_cache tuple[float, float] entries.
type pressureSample struct {
	sampledAt time.Time
	fullness  float64
}

// Stats mirrors the dispatcher's in-memory counters
// (dispatched/deduplicated/dropped/deferred/dlq/forced-enqueue), exposed for
// tests rather than Prometheus (see pkg/metrics for the gauges actually
// scraped).
type Stats struct {
	Dispatched     int64
	Deduplicated   int64
	Dropped        int64
	Deferred       int64
	DeadLettered   int64
	ForcedEnqueue  int64
}

// Metrics is the narrow set of gauges/counters the dispatcher emits, named
// after the stable metric names spec.md §6 lists. pkg/metrics.Collectors
// satisfies this; tests and callers that don't care leave it nil.
type Metrics interface {
	DispatchAdmission(agentID, stream, decision string)
	QueueFullness(stream string, fullness float64)
}

// Dispatcher routes a matched change event to the durable work queue,
// applying deduplication and priority-aware backpressure admission, grounded
// on original_source/src/mongoclaw/dispatcher/agent_dispatcher.py.
type Dispatcher struct {
	q        queue.Queue
	cfg      config.DispatcherConfig
	capacity int
	dedup    *dedupCache
	idgen    func() string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// Metrics is optional; nil leaves admission/fullness unrecorded.
	Metrics Metrics

	pressureMu sync.Mutex
	pressure   map[string]pressureSample

	stats Stats
}

// New builds a Dispatcher over q using cfg's routing/backpressure settings.
// capacity is the assumed per-stream capacity (the redis queue's
// MaxStreamLength) used to turn a raw stream length into a fullness ratio.
// idgen generates work item ids (see pkg/idgen).
func New(q queue.Queue, cfg config.DispatcherConfig, capacity int, idgen func() string) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		q:        q,
		cfg:      cfg,
		capacity: capacity,
		dedup:    newDedupCache(),
		idgen:    idgen,
		now:      time.Now,
		sleep:    sleepContext,
		pressure: make(map[string]pressureSample),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch builds a work item from event for agent, applies dedup and
// backpressure admission, and enqueues it. Returns ("", nil) if the item was
// deduplicated or dropped rather than enqueued (dispatch.py's "None" return).
func (d *Dispatcher) Dispatch(ctx context.Context, agent *model.Agent, event *model.ChangeEvent) (string, error) {
	item := d.buildWorkItem(agent, event)

	if agent.Execution.Deduplicate {
		key := d.generateIdempotencyKey(agent, &item)
		item.IdempotencyKey = key

		if d.dedup.Seen(key) {
			slog.Debug("deduplicated work item", "agent_id", agent.ID, "document_id", item.DocumentID, "idempotency_key", key)
			atomic.AddInt64(&d.stats.Deduplicated, 1)
			return "", nil
		}
		d.dedup.Add(key)
	}

	stream := StreamName(agent, item, d.cfg.RoutingStrategy, d.cfg.NumPartitions)
	d.annotateDeliveryMetadata(&item, stream)

	admitted, err := d.applyBackpressureAdmission(ctx, agent, &item, stream)
	if err != nil {
		return "", err
	}
	if !admitted {
		return "", nil
	}

	messageID, err := d.q.Enqueue(ctx, stream, item)
	if err != nil {
		return "", fmt.Errorf("enqueueing work item for agent %s: %w", agent.ID, err)
	}

	slog.Info("dispatched work item", "work_item_id", item.ID, "agent_id", agent.ID,
		"document_id", item.DocumentID, "stream", stream, "message_id", messageID)
	atomic.AddInt64(&d.stats.Dispatched, 1)
	return item.ID, nil
}

// AgentEvent pairs an agent with the event it matched, the unit dispatched
// by DispatchBatch.
type AgentEvent struct {
	Agent *model.Agent
	Event *model.ChangeEvent
}

// DispatchBatch dispatches every (agent, event) pair in items, returning the
// IDs of work items actually enqueued (skipping dedup/drop outcomes),
// matching dispatch_batch's sequential semantics.
func (d *Dispatcher) DispatchBatch(ctx context.Context, items []AgentEvent) ([]string, error) {
	var dispatched []string
	for _, it := range items {
		id, err := d.Dispatch(ctx, it.Agent, it.Event)
		if err != nil {
			return dispatched, err
		}
		if id != "" {
			dispatched = append(dispatched, id)
		}
	}
	return dispatched, nil
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:    atomic.LoadInt64(&d.stats.Dispatched),
		Deduplicated:  atomic.LoadInt64(&d.stats.Deduplicated),
		Dropped:       atomic.LoadInt64(&d.stats.Dropped),
		Deferred:      atomic.LoadInt64(&d.stats.Deferred),
		DeadLettered:  atomic.LoadInt64(&d.stats.DeadLettered),
		ForcedEnqueue: atomic.LoadInt64(&d.stats.ForcedEnqueue),
	}
}

// ClearDedupCache empties the in-memory dedup set, matching clear_cache.
func (d *Dispatcher) ClearDedupCache() { d.dedup.Clear() }

func (d *Dispatcher) buildWorkItem(agent *model.Agent, event *model.ChangeEvent) model.WorkItem {
	now := d.now()
	item := model.WorkItem{
		ID:           d.idgen(),
		AgentID:      agent.ID,
		ChangeEvent:  event,
		Document:     event.FullDocument,
		DocumentID:   event.DocumentID(),
		Database:     event.Database,
		Collection:   event.Collection,
		MaxAttempts:  agent.Execution.MaxRetries + 1,
		Priority:     agent.Execution.Priority,
		CreatedAt:    now,
	}
	if item.Document != nil {
		item.SourceDocumentHash = model.ContentHash(item.Document)
		item.SourceVersion = mongoclawVersion(item.Document)
	}
	return item
}

// mongoclawVersion reads the writeback anti-loop counter _mongoclaw_version
// off a watched document, defaulting to 0 when the field is absent (a
// document never written back by this runtime). The field is a plain
// integer but may decode as int32, int64, or float64 depending on how the
// driver represents the BSON value, so every numeric kind is accepted.
func mongoclawVersion(doc map[string]any) int64 {
	switch v := doc["_mongoclaw_version"].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (d *Dispatcher) generateIdempotencyKey(agent *model.Agent, item *model.WorkItem) string {
	if agent.Write.IdempotencyKey != "" {
		// TODO: render the configured template against document context.
		// Falls back to the default key, matching the original's
		// not-yet-implemented template path.
		_ = agent.Write.IdempotencyKey
	}
	return item.DefaultIdempotencyKey()
}

func (d *Dispatcher) annotateDeliveryMetadata(item *model.WorkItem, stream string) {
	item.Metadata.DeliverySemantics = model.AtLeastOnce
	item.Metadata.RoutingStrategy = d.cfg.RoutingStrategy
	item.Metadata.Stream = stream
	if strings.HasPrefix(stream, "mongoclaw:partition:") {
		var n int
		if _, err := fmt.Sscanf(stream[len("mongoclaw:partition:"):], "%d", &n); err == nil {
			item.Metadata.Partition = &n
		}
	}
}

// applyBackpressureAdmission applies the priority-aware overflow policy
// before enqueue, matching _apply_backpressure_admission.
func (d *Dispatcher) applyBackpressureAdmission(ctx context.Context, agent *model.Agent, item *model.WorkItem, stream string) (bool, error) {
	if !d.cfg.BackpressureEnabled {
		return true, nil
	}

	threshold := d.cfg.BackpressureThreshold
	fullness, err := d.streamFullness(ctx, stream)
	if err != nil {
		return false, err
	}
	if fullness < threshold {
		d.recordAdmission(agent.ID, stream, "admitted")
		return true, nil
	}

	if item.Priority >= d.cfg.MinPriorityWhenBackpressured {
		slog.Info("priority bypass under backpressure", "agent_id", agent.ID, "stream", stream,
			"priority", item.Priority, "fullness", fullness)
		d.recordAdmission(agent.ID, stream, "priority_bypass")
		return true, nil
	}

	switch d.cfg.OverflowPolicy {
	case model.OverflowDrop:
		atomic.AddInt64(&d.stats.Dropped, 1)
		slog.Warn("dropped work item due to backpressure", "agent_id", agent.ID, "stream", stream,
			"priority", item.Priority, "fullness", fullness)
		d.recordAdmission(agent.ID, stream, "dropped")
		return false, nil

	case model.OverflowDLQ:
		atomic.AddInt64(&d.stats.DeadLettered, 1)
		dlq := DLQStreamName(agent, d.cfg.RoutingStrategy)
		if _, err := d.q.MoveToDLQ(ctx, *item, errBackpressureOverflow, dlq); err != nil {
			return false, fmt.Errorf("moving work item to dlq under backpressure: %w", err)
		}
		slog.Warn("sent work item to dlq due to backpressure", "agent_id", agent.ID, "stream", stream,
			"priority", item.Priority, "fullness", fullness)
		d.recordAdmission(agent.ID, stream, "dlq")
		return false, nil

	default: // model.OverflowDefer
		atomic.AddInt64(&d.stats.Deferred, 1)
		for i := 0; i < d.cfg.DeferMaxAttempts; i++ {
			if err := d.sleep(ctx, time.Duration(d.cfg.DeferSeconds*float64(time.Second))); err != nil {
				return false, err
			}
			fullness, err = d.streamFullness(ctx, stream)
			if err != nil {
				return false, err
			}
			if fullness < threshold {
				d.recordAdmission(agent.ID, stream, "admitted_after_defer")
				return true, nil
			}
		}
		atomic.AddInt64(&d.stats.ForcedEnqueue, 1)
		slog.Warn("forced enqueue after defer attempts", "agent_id", agent.ID, "stream", stream,
			"priority", item.Priority, "fullness", fullness)
		d.recordAdmission(agent.ID, stream, "defer_forced_enqueue")
		return true, nil
	}
}

func (d *Dispatcher) recordAdmission(agentID, stream, decision string) {
	if d.Metrics != nil {
		d.Metrics.DispatchAdmission(agentID, stream, decision)
	}
}

// streamFullness returns stream's fullness ratio, cached for
// PressureCacheTTLSeconds to reduce backend round trips, matching
// _get_stream_fullness.
func (d *Dispatcher) streamFullness(ctx context.Context, stream string) (float64, error) {
	ttl := time.Duration(d.cfg.PressureCacheTTLSeconds * float64(time.Second))
	now := d.now()

	d.pressureMu.Lock()
	cached, ok := d.pressure[stream]
	d.pressureMu.Unlock()
	if ok && now.Sub(cached.sampledAt) < ttl {
		return cached.fullness, nil
	}

	length, err := d.q.StreamLength(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("reading stream length for %s: %w", stream, err)
	}

	fullness := min(1.0, float64(length)/float64(d.capacity))

	d.pressureMu.Lock()
	d.pressure[stream] = pressureSample{sampledAt: now, fullness: fullness}
	d.pressureMu.Unlock()

	if d.Metrics != nil {
		d.Metrics.QueueFullness(stream, fullness)
	}

	return fullness, nil
}

var errBackpressureOverflow = errors.New("dispatch backpressure overflow")
