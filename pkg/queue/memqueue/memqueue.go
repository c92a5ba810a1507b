// Package memqueue is an in-memory Queue implementation used by tests for
// the dispatcher, worker pool, and executor so they can run without a Redis
// instance, mirroring the teacher's preference for fakes over
// testcontainers-go in unit tests (see pkg/database tests).
package memqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

type entry struct {
	id        string
	seq       int64
	item      model.WorkItem
	consumer  string
	claimed   time.Time
	createdAt time.Time
	acked     bool
	deleted   bool
}

type stream struct {
	mu      sync.Mutex
	entries []*entry
	groups  map[string]struct{}
	seq     int64
}

// Queue is a goroutine-safe, single-process Queue backed by plain slices,
// good enough to exercise dequeue/ack/claim-pending semantics in tests.
type Queue struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{streams: make(map[string]*stream)}
}

func (q *Queue) streamFor(name string) *stream {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]struct{})}
		q.streams[name] = s
	}
	return s
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(_ context.Context, streamName string, item model.WorkItem) (string, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.entries = append(s.entries, &entry{id: id, seq: s.seq, item: item, createdAt: time.Now()})
	return id, nil
}

// Dequeue implements queue.Queue. block is ignored; memqueue never blocks.
func (q *Queue) Dequeue(_ context.Context, streamName, consumerGroup, consumerName string, count int, _ time.Duration) ([]queue.Delivery, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[consumerGroup] = struct{}{}

	var out []queue.Delivery
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if e.deleted || e.acked || !e.claimed.IsZero() {
			continue
		}
		e.claimed = time.Now()
		e.consumer = consumerName
		out = append(out, queue.Delivery{MessageID: e.id, Item: e.item})
	}
	return out, nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(_ context.Context, streamName, _ string, messageID string) error {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.id == messageID && !e.deleted {
			e.acked = true
			return nil
		}
	}
	return queue.ErrMessageNotFound
}

// ClaimPending implements queue.Queue, reclaiming entries idle at least minIdle.
func (q *Queue) ClaimPending(_ context.Context, streamName, _, consumerName string, minIdle time.Duration, count int) ([]queue.Delivery, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []queue.Delivery
	now := time.Now()
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if e.deleted || e.acked || e.claimed.IsZero() {
			continue
		}
		if now.Sub(e.claimed) < minIdle {
			continue
		}
		e.claimed = now
		e.consumer = consumerName
		e.item = e.item.IncrementAttempt()
		out = append(out, queue.Delivery{MessageID: e.id, Item: e.item})
	}
	return out, nil
}

// MoveToDLQ implements queue.Queue.
func (q *Queue) MoveToDLQ(ctx context.Context, item model.WorkItem, cause error, dlqStream string) (string, error) {
	if item.Metadata.DeadLetterReason == "" {
		item.Metadata.DeadLetterReason = cause.Error()
	}
	return q.Enqueue(ctx, dlqStream, item)
}

// PendingCount implements queue.Queue.
func (q *Queue) PendingCount(_ context.Context, streamName, _ string) (int64, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if !e.deleted && !e.acked && !e.claimed.IsZero() {
			n++
		}
	}
	return n, nil
}

// StreamLength implements queue.Queue.
func (q *Queue) StreamLength(_ context.Context, streamName string) (int64, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if !e.deleted {
			n++
		}
	}
	return n, nil
}

// EnsureConsumerGroup implements queue.Queue.
func (q *Queue) EnsureConsumerGroup(_ context.Context, streamName, consumerGroup string) error {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[consumerGroup] = struct{}{}
	return nil
}

// HealthCheck implements queue.Queue; memqueue is always healthy.
func (q *Queue) HealthCheck(_ context.Context) error { return nil }

// Close implements queue.Queue; memqueue holds no external resources.
func (q *Queue) Close() error { return nil }

var _ queue.AdminQueue = (*Queue)(nil)

// Range implements queue.AdminQueue, returning non-deleted entries with
// seq in [startID, endID] in ascending order. "-" and "+" mean the lowest
// and highest possible bounds, matching Redis's XRANGE convention.
func (q *Queue) Range(_ context.Context, streamName, startID, endID string, count int) ([]queue.Delivery, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := parseBound(startID, 0)
	end := parseBound(endID, int64(1)<<62)

	var out []queue.Delivery
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if e.deleted || e.seq < start || e.seq > end {
			continue
		}
		out = append(out, queue.Delivery{MessageID: e.id, Item: e.item})
	}
	return out, nil
}

// DeleteMessage implements queue.AdminQueue.
func (q *Queue) DeleteMessage(_ context.Context, streamName, messageID string) error {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.id == messageID && !e.deleted {
			e.deleted = true
			return nil
		}
	}
	return queue.ErrMessageNotFound
}

// PurgeBefore implements queue.AdminQueue, marking entries created before
// cutoff as deleted and returning the count removed.
func (q *Queue) PurgeBefore(_ context.Context, streamName string, cutoff time.Time) (int64, error) {
	s := q.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if !e.deleted && e.createdAt.Before(cutoff) {
			e.deleted = true
			n++
		}
	}
	return n, nil
}

func parseBound(id string, fallback int64) int64 {
	if id == "-" || id == "" {
		return 0
	}
	if id == "+" {
		return fallback
	}
	seq := id
	if idx := strings.IndexByte(id, '-'); idx >= 0 {
		seq = id[:idx]
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
