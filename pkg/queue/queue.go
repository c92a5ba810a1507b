// Package queue defines the durable work-item queue contract implemented by
// redisqueue (production) and memqueue (tests), grounded on
// queue/redis_stream.py's QueueBackendBase and the worker-pool shape of the
// teacher's pkg/queue/{pool,worker}.go.
package queue

import (
	"context"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Delivery wraps a dequeued work item with the backend-specific message id
// needed to Ack/Claim it later.
type Delivery struct {
	MessageID string
	Item      model.WorkItem
}

// Queue is the durable at-least-once work-item queue contract. All methods
// are safe for concurrent use.
type Queue interface {
	// Enqueue appends a work item to stream and returns the backend message id.
	Enqueue(ctx context.Context, stream string, item model.WorkItem) (string, error)

	// Dequeue reads up to count undelivered messages for consumerName in
	// consumerGroup from stream, blocking up to block for at least one
	// message. Returns an empty slice (not an error) on timeout.
	Dequeue(ctx context.Context, stream, consumerGroup, consumerName string, count int, block time.Duration) ([]Delivery, error)

	// Ack acknowledges successful processing of messageID.
	Ack(ctx context.Context, stream, consumerGroup, messageID string) error

	// ClaimPending reclaims messages idle for at least minIdle, bumping each
	// claimed item's attempt counter, recovering work from crashed consumers.
	ClaimPending(ctx context.Context, stream, consumerGroup, consumerName string, minIdle time.Duration, count int) ([]Delivery, error)

	// MoveToDLQ stamps err onto the item's metadata and enqueues it to dlqStream.
	MoveToDLQ(ctx context.Context, item model.WorkItem, cause error, dlqStream string) (string, error)

	// PendingCount returns the number of undelivered/unacked messages for the group.
	PendingCount(ctx context.Context, stream, consumerGroup string) (int64, error)

	// StreamLength returns the total number of entries retained in stream.
	StreamLength(ctx context.Context, stream string) (int64, error)

	// EnsureConsumerGroup creates consumerGroup on stream if absent, tolerating
	// a concurrent creator (BUSYGROUP).
	EnsureConsumerGroup(ctx context.Context, stream, consumerGroup string) error

	// HealthCheck reports whether the backend is currently reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// AdminQueue is the range-scan/delete/trim surface a backend exposes for
// dead-letter-queue administration (pkg/queue/dlq), kept separate from Queue
// because it is inherently stream-shaped (message-ID ordering and ranges)
// rather than part of the at-least-once delivery contract every Queue must
// honor. Both redisqueue.Queue and memqueue.Queue implement it.
type AdminQueue interface {
	// Range returns up to count entries from stream with message IDs between
	// startID and endID inclusive ("-" and "+" mean the lowest/highest
	// possible IDs), in ascending ID order.
	Range(ctx context.Context, stream, startID, endID string, count int) ([]Delivery, error)

	// DeleteMessage removes a single entry from stream by message ID.
	DeleteMessage(ctx context.Context, stream, messageID string) error

	// PurgeBefore removes every entry in stream older than cutoff, returning
	// the number of entries removed.
	PurgeBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error)
}
