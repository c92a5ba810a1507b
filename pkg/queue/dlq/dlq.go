// Package dlq provides administrative operations over a dead-letter
// stream — list, get, retry, delete, purge — grounded on
// original_source/src/mongoclaw/queue/dead_letter.py's DeadLetterQueue.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

// DefaultStream is the stream name used when a caller doesn't override it,
// matching DeadLetterQueue.DEFAULT_STREAM.
const DefaultStream = "mongoclaw:dlq"

// DefaultRetentionDays mirrors the original's retention_days default.
const DefaultRetentionDays = 7

// DefaultListCount mirrors the original's list(count=100) default.
const DefaultListCount = 100

// Item summarizes one dead-lettered work item for display, matching the
// dict shape DeadLetterQueue.list/get_stats return.
type Item struct {
	MessageID  string
	WorkItemID string
	AgentID    string
	DocumentID string
	Attempts   int
	Error      string
	AddedAt    *time.Time
}

// Stats summarizes the DLQ as a whole, matching get_stats.
type Stats struct {
	Stream        string
	Count         int64
	RetentionDays int
}

// DLQ administers a single dead-letter stream backed by an AdminQueue.
type DLQ struct {
	backend       queue.Queue
	admin         queue.AdminQueue
	stream        string
	retentionDays int
}

// New builds a DLQ over backend/admin (almost always the same concrete
// *redisqueue.Queue or *memqueue.Queue satisfying both interfaces). stream
// defaults to DefaultStream and retentionDays to DefaultRetentionDays when
// zero-valued.
func New(backend queue.Queue, admin queue.AdminQueue, stream string, retentionDays int) *DLQ {
	if stream == "" {
		stream = DefaultStream
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &DLQ{backend: backend, admin: admin, stream: stream, retentionDays: retentionDays}
}

// StreamName returns the administered stream's name.
func (d *DLQ) StreamName() string { return d.stream }

// List returns up to count dead-lettered items starting at startID (use "-"
// for the beginning), translating DeadLetterQueue.list.
func (d *DLQ) List(ctx context.Context, startID string, count int) ([]Item, error) {
	if count <= 0 {
		count = DefaultListCount
	}
	deliveries, err := d.admin.Range(ctx, d.stream, startID, "+", count)
	if err != nil {
		return nil, fmt.Errorf("listing dlq items: %w", err)
	}

	items := make([]Item, 0, len(deliveries))
	for _, dl := range deliveries {
		items = append(items, itemFromDelivery(dl))
	}
	return items, nil
}

// Get returns a single dead-lettered item by its message ID, translating
// DeadLetterQueue.get.
func (d *DLQ) Get(ctx context.Context, messageID string) (*Item, error) {
	deliveries, err := d.admin.Range(ctx, d.stream, messageID, messageID, 1)
	if err != nil {
		return nil, fmt.Errorf("getting dlq item %s: %w", messageID, err)
	}
	if len(deliveries) == 0 {
		return nil, nil
	}
	item := itemFromDelivery(deliveries[0])
	return &item, nil
}

// Retry re-enqueues the dead-lettered item identified by messageID onto
// targetStream with its attempt counter reset, then removes it from the
// DLQ, translating DeadLetterQueue.retry.
func (d *DLQ) Retry(ctx context.Context, messageID, targetStream string) (string, error) {
	deliveries, err := d.admin.Range(ctx, d.stream, messageID, messageID, 1)
	if err != nil {
		return "", fmt.Errorf("looking up dlq item %s: %w", messageID, err)
	}
	if len(deliveries) == 0 {
		return "", queue.ErrMessageNotFound
	}

	item := deliveries[0].Item
	item.Attempt = 0
	item.Metadata.DeadLetterReason = ""
	item.Metadata.DeadLetteredAt = nil

	newID, err := d.backend.Enqueue(ctx, targetStream, item)
	if err != nil {
		return "", fmt.Errorf("re-enqueuing dlq item %s to %s: %w", messageID, targetStream, err)
	}

	if err := d.admin.DeleteMessage(ctx, d.stream, messageID); err != nil {
		return newID, fmt.Errorf("removing retried item %s from dlq: %w", messageID, err)
	}
	return newID, nil
}

// Delete removes a single dead-lettered item without retrying it,
// translating DeadLetterQueue.delete.
func (d *DLQ) Delete(ctx context.Context, messageID string) error {
	return d.admin.DeleteMessage(ctx, d.stream, messageID)
}

// Purge removes every item older than olderThanDays (or the configured
// retention when zero), translating DeadLetterQueue.purge.
func (d *DLQ) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	days := olderThanDays
	if days <= 0 {
		days = d.retentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	return d.admin.PurgeBefore(ctx, d.stream, cutoff)
}

// Count returns the number of entries currently retained in the DLQ,
// translating DeadLetterQueue.count.
func (d *DLQ) Count(ctx context.Context) (int64, error) {
	return d.backend.StreamLength(ctx, d.stream)
}

// GetStats summarizes the DLQ, translating DeadLetterQueue.get_stats.
func (d *DLQ) GetStats(ctx context.Context) (Stats, error) {
	count, err := d.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stream: d.stream, Count: count, RetentionDays: d.retentionDays}, nil
}

func itemFromDelivery(dl queue.Delivery) Item {
	item := Item{
		MessageID:  dl.MessageID,
		WorkItemID: dl.Item.ID,
		AgentID:    dl.Item.AgentID,
		DocumentID: dl.Item.DocumentID,
		Attempts:   dl.Item.Attempt,
		Error:      dl.Item.Metadata.DeadLetterReason,
		AddedAt:    dl.Item.Metadata.DeadLetteredAt,
	}
	return item
}
