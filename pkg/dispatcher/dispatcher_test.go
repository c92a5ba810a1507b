package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/memqueue"
)

func testAgent(id string) *model.Agent {
	return &model.Agent{
		ID:      id,
		Enabled: true,
		Watch:   model.WatchSpec{Database: "shop", Collection: "orders"},
		Execution: model.ExecutionSpec{
			MaxRetries:  2,
			Priority:    1,
			Deduplicate: true,
		},
	}
}

func testEvent(docID string) *model.ChangeEvent {
	return &model.ChangeEvent{
		Operation:    model.OpUpdate,
		Database:     "shop",
		Collection:   "orders",
		DocumentKey:  map[string]any{"_id": docID},
		FullDocument: map[string]any{"_id": docID, "status": "shipped"},
		WallTime:     time.Now(),
	}
}

func newTestDispatcher(q *memqueue.Queue) *Dispatcher {
	cfg := *config.DefaultDispatcherConfig()
	cfg.BackpressureEnabled = false
	n := 0
	return New(q, cfg, 100, func() string {
		n++
		return "wi-" + string(rune('a'+n))
	})
}

func TestDispatchEnqueuesWorkItem(t *testing.T) {
	q := memqueue.New()
	d := newTestDispatcher(q)
	agent := testAgent("agent-1")
	event := testEvent("doc-1")

	id, err := d.Dispatch(context.Background(), agent, event)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == "" {
		t.Fatal("expected a work item id")
	}

	stream := StreamName(agent, model.WorkItem{}, model.RouteByAgent, 8)
	length, err := q.StreamLength(context.Background(), stream)
	if err != nil {
		t.Fatalf("StreamLength: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected 1 enqueued item, got %d", length)
	}
}

func TestDispatchDeduplicatesSameDocument(t *testing.T) {
	q := memqueue.New()
	d := newTestDispatcher(q)
	agent := testAgent("agent-1")
	event := testEvent("doc-1")

	first, err := d.Dispatch(context.Background(), agent, event)
	if err != nil || first == "" {
		t.Fatalf("first dispatch failed: id=%q err=%v", first, err)
	}

	second, err := d.Dispatch(context.Background(), agent, event)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if second != "" {
		t.Fatalf("expected deduplicated dispatch to return empty id, got %q", second)
	}

	stats := d.Stats()
	if stats.Deduplicated != 1 {
		t.Fatalf("expected 1 deduplicated item, got %d", stats.Deduplicated)
	}
}

func TestDispatchBatchSkipsDuplicatesButContinues(t *testing.T) {
	q := memqueue.New()
	d := newTestDispatcher(q)
	agent := testAgent("agent-1")

	items := []AgentEvent{
		{Agent: agent, Event: testEvent("doc-1")},
		{Agent: agent, Event: testEvent("doc-1")}, // duplicate
		{Agent: agent, Event: testEvent("doc-2")},
	}

	ids, err := d.DispatchBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 dispatched ids, got %d (%v)", len(ids), ids)
	}
}

func TestBackpressureDropsLowPriorityWhenFull(t *testing.T) {
	q := memqueue.New()
	cfg := *config.DefaultDispatcherConfig()
	cfg.BackpressureEnabled = true
	cfg.BackpressureThreshold = 0.5
	cfg.OverflowPolicy = model.OverflowDrop
	cfg.MinPriorityWhenBackpressured = 5

	d := New(q, cfg, 2, func() string { return "wi-fixed" })

	agent := testAgent("agent-1")
	agent.Execution.Deduplicate = false
	agent.Execution.Priority = 1 // below MinPriorityWhenBackpressured

	stream := StreamName(agent, model.WorkItem{}, cfg.RoutingStrategy, cfg.NumPartitions)
	// Pre-fill the stream to capacity so fullness >= threshold.
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	id, err := d.Dispatch(context.Background(), agent, testEvent("doc-1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id != "" {
		t.Fatalf("expected drop under backpressure, got id %q", id)
	}
	if d.Stats().Dropped != 1 {
		t.Fatalf("expected 1 dropped item, got %d", d.Stats().Dropped)
	}
}

func TestBackpressurePriorityBypass(t *testing.T) {
	q := memqueue.New()
	cfg := *config.DefaultDispatcherConfig()
	cfg.BackpressureEnabled = true
	cfg.BackpressureThreshold = 0.5
	cfg.OverflowPolicy = model.OverflowDrop
	cfg.MinPriorityWhenBackpressured = 5

	d := New(q, cfg, 2, func() string { return "wi-fixed" })

	agent := testAgent("agent-1")
	agent.Execution.Deduplicate = false
	agent.Execution.Priority = 9 // above MinPriorityWhenBackpressured

	stream := StreamName(agent, model.WorkItem{}, cfg.RoutingStrategy, cfg.NumPartitions)
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	id, err := d.Dispatch(context.Background(), agent, testEvent("doc-1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == "" {
		t.Fatal("expected priority bypass to admit the item")
	}
}

type recordingMetrics struct {
	admissions []string
	fullness   map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{fullness: make(map[string]float64)}
}

func (r *recordingMetrics) DispatchAdmission(agentID, stream, decision string) {
	r.admissions = append(r.admissions, decision)
}

func (r *recordingMetrics) QueueFullness(stream string, fullness float64) {
	r.fullness[stream] = fullness
}

func TestDispatchRecordsAdmissionAndFullnessMetrics(t *testing.T) {
	q := memqueue.New()
	cfg := *config.DefaultDispatcherConfig()
	cfg.BackpressureEnabled = true
	cfg.BackpressureThreshold = 0.5
	cfg.OverflowPolicy = model.OverflowDrop
	cfg.MinPriorityWhenBackpressured = 5

	d := New(q, cfg, 2, func() string { return "wi-fixed" })
	rec := newRecordingMetrics()
	d.Metrics = rec

	agent := testAgent("agent-1")
	agent.Execution.Deduplicate = false
	agent.Execution.Priority = 1

	stream := StreamName(agent, model.WorkItem{}, cfg.RoutingStrategy, cfg.NumPartitions)
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), stream, model.WorkItem{}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	if _, err := d.Dispatch(context.Background(), agent, testEvent("doc-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(rec.admissions) != 1 || rec.admissions[0] != "dropped" {
		t.Fatalf("expected one dropped admission, got %v", rec.admissions)
	}
	if rec.fullness[stream] < 0.5 {
		t.Fatalf("expected recorded fullness >= threshold, got %v", rec.fullness[stream])
	}
}

func TestStreamNameRoutingStrategies(t *testing.T) {
	agent := &model.Agent{ID: "agent-1"}
	item := model.WorkItem{Database: "shop", Collection: "orders", DocumentID: "doc-1", Priority: 3}

	if got := StreamName(agent, item, model.RouteByAgent, 8); got != "mongoclaw:agent:agent-1" {
		t.Errorf("by_agent: got %q", got)
	}
	if got := StreamName(agent, item, model.RouteByCollection, 8); got != "mongoclaw:collection:shop:orders" {
		t.Errorf("by_collection: got %q", got)
	}
	if got := StreamName(agent, item, model.RouteSingle, 8); got != DefaultStream {
		t.Errorf("single: got %q", got)
	}
	if got := StreamName(agent, item, model.RouteByPriority, 8); got != "mongoclaw:priority:3" {
		t.Errorf("by_priority: got %q", got)
	}
	if got := StreamName(agent, item, model.RoutePartitioned, 8); got == "" {
		t.Error("partitioned: expected a non-empty stream name")
	}
}

func TestStreamNamePartitionedIsDeterministic(t *testing.T) {
	agent := &model.Agent{ID: "agent-1"}
	item := model.WorkItem{DocumentID: "doc-1"}

	first := StreamName(agent, item, model.RoutePartitioned, 16)
	second := StreamName(agent, item, model.RoutePartitioned, 16)
	if first != second {
		t.Fatalf("expected deterministic partitioning, got %q then %q", first, second)
	}
}

func TestDLQStreamName(t *testing.T) {
	agent := &model.Agent{ID: "agent-1"}
	if got := DLQStreamName(agent, model.RouteByAgent); got != "mongoclaw:dlq:agent:agent-1" {
		t.Errorf("expected per-agent dlq stream, got %q", got)
	}
	if got := DLQStreamName(agent, model.RouteSingle); got != DLQStream {
		t.Errorf("expected shared dlq stream, got %q", got)
	}
}

func TestBuildWorkItemExtractsSourceVersionFromFullDocument(t *testing.T) {
	q := memqueue.New()
	d := newTestDispatcher(q)
	agent := testAgent("agent-1")

	cases := []struct {
		name    string
		value   any
		want    int64
		present bool
	}{
		{name: "absent field defaults to zero", present: false, want: 0},
		{name: "int32", value: int32(3), want: 3},
		{name: "int64", value: int64(7), want: 7},
		{name: "int", value: int(2), want: 2},
		{name: "float64", value: float64(5), want: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := testEvent("doc-1")
			if tc.present {
				event.FullDocument["_mongoclaw_version"] = tc.value
			}

			item := d.buildWorkItem(agent, event)
			if item.SourceVersion != tc.want {
				t.Fatalf("expected SourceVersion %d, got %d", tc.want, item.SourceVersion)
			}
		})
	}
}
