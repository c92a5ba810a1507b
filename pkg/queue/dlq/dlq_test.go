package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/memqueue"
)

func seedDLQ(t *testing.T, q *memqueue.Queue, stream string, workItemIDs ...string) {
	t.Helper()
	for _, id := range workItemIDs {
		item := model.WorkItem{ID: id, AgentID: "ticket-triage", DocumentID: "doc-1", Attempt: 3}
		item.Metadata.DeadLetterReason = "max attempts exceeded"
		if _, err := q.MoveToDLQ(context.Background(), item, errors.New("boom"), stream); err != nil {
			t.Fatalf("seeding dlq: %v", err)
		}
	}
}

func TestListReturnsSeededItems(t *testing.T) {
	q := memqueue.New()
	seedDLQ(t, q, DefaultStream, "wi-1", "wi-2")

	d := New(q, q, "", 0)
	items, err := d.List(context.Background(), "-", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].WorkItemID != "wi-1" || items[0].Error != "max attempts exceeded" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestGetReturnsNilForUnknownMessage(t *testing.T) {
	q := memqueue.New()
	d := New(q, q, "", 0)
	item, err := d.Get(context.Background(), "999-0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for unknown message, got %+v", item)
	}
}

func TestRetryResetsAttemptsAndRemovesFromDLQ(t *testing.T) {
	q := memqueue.New()
	seedDLQ(t, q, DefaultStream, "wi-1")

	d := New(q, q, "", 0)
	items, _ := d.List(context.Background(), "-", 10)
	msgID := items[0].MessageID

	newID, err := d.Retry(context.Background(), msgID, "mongoclaw:stream:ticket-triage")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if newID == "" {
		t.Fatal("expected a new message id")
	}

	deliveries, err := q.Dequeue(context.Background(), "mongoclaw:stream:ticket-triage", "g", "c", 10, 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Item.Attempt != 0 {
		t.Fatalf("expected retried item re-enqueued with attempt reset, got %+v", deliveries)
	}

	remaining, err := d.List(context.Background(), "-", 10)
	if err != nil {
		t.Fatalf("List after retry: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected dlq empty after retry, got %d remaining", len(remaining))
	}
}

func TestRetryUnknownMessageReturnsNotFound(t *testing.T) {
	q := memqueue.New()
	d := New(q, q, "", 0)
	if _, err := d.Retry(context.Background(), "999-0", "some-stream"); !errors.Is(err, queue.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestDeleteRemovesItemWithoutRetrying(t *testing.T) {
	q := memqueue.New()
	seedDLQ(t, q, DefaultStream, "wi-1")
	d := New(q, q, "", 0)

	items, _ := d.List(context.Background(), "-", 10)
	if err := d.Delete(context.Background(), items[0].MessageID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	remaining, _ := d.List(context.Background(), "-", 10)
	if len(remaining) != 0 {
		t.Fatalf("expected dlq empty after delete, got %d", len(remaining))
	}
}

func TestPurgeRemovesOnlyOldItems(t *testing.T) {
	q := memqueue.New()
	d := New(q, q, "", 0)

	// Directly enqueue so we control relative ordering; memqueue stamps
	// createdAt at Enqueue time, so sleep a beat between entries.
	item := model.WorkItem{ID: "wi-old", AgentID: "a"}
	item.Metadata.DeadLetterReason = "x"
	if _, err := q.MoveToDLQ(context.Background(), item, errors.New("x"), DefaultStream); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)

	item2 := model.WorkItem{ID: "wi-new", AgentID: "a"}
	item2.Metadata.DeadLetterReason = "x"
	if _, err := q.MoveToDLQ(context.Background(), item2, errors.New("x"), DefaultStream); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := q.PurgeBefore(context.Background(), DefaultStream, cutoff)
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged item, got %d", n)
	}

	remaining, _ := d.List(context.Background(), "-", 10)
	if len(remaining) != 1 || remaining[0].WorkItemID != "wi-new" {
		t.Fatalf("expected only wi-new remaining, got %+v", remaining)
	}
}

func TestGetStatsReportsCountAndRetention(t *testing.T) {
	q := memqueue.New()
	seedDLQ(t, q, DefaultStream, "wi-1", "wi-2", "wi-3")
	d := New(q, q, "", 14)

	stats, err := d.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Count != 3 || stats.RetentionDays != 14 || stats.Stream != DefaultStream {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
