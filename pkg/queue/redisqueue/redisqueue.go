// Package redisqueue implements queue.Queue on top of Redis Streams with
// consumer groups, grounded directly on
// original_source/src/mongoclaw/queue/redis_stream.py: XADD with
// approximate MAXLEN trimming, XREADGROUP against ">" for new messages,
// XACK, XPENDING/XCLAIM for crash recovery, and a BUSYGROUP-tolerant
// XGROUP CREATE.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue"
)

const dataField = "data"

// Queue is a Redis Streams-backed queue.Queue implementation.
type Queue struct {
	client      *redis.Client
	maxStreamLength int64
}

// Config bundles the settings redisqueue.New needs from config.RedisConfig
// without importing pkg/config, keeping this package's dependency surface
// limited to go-redis.
type Config struct {
	Addr            string
	Password        string
	DB              int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MaxStreamLength int64
}

// New dials Redis and returns a ready Queue.
func New(cfg Config) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	return &Queue{client: client, maxStreamLength: cfg.MaxStreamLength}
}

var _ queue.Queue = (*Queue)(nil)

// Enqueue implements queue.Queue via XADD with approximate trimming.
func (q *Queue) Enqueue(ctx context.Context, stream string, item model.WorkItem) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshaling work item: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: q.maxStreamLength,
		Approx: true,
		Values: map[string]any{dataField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: enqueue to %s: %v", model.ErrQueueConnection, stream, err)
	}
	return id, nil
}

// Dequeue implements queue.Queue via XREADGROUP against ">".
func (q *Queue) Dequeue(ctx context.Context, stream, consumerGroup, consumerName string, count int, block time.Duration) ([]queue.Delivery, error) {
	if err := q.EnsureConsumerGroup(ctx, stream, consumerGroup); err != nil {
		return nil, err
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			if cerr := q.EnsureConsumerGroup(ctx, stream, consumerGroup); cerr != nil {
				return nil, cerr
			}
			return nil, nil
		}
		return nil, fmt.Errorf("%w: dequeue from %s: %v", model.ErrQueueConnection, stream, err)
	}

	var out []queue.Delivery
	for _, streamResult := range res {
		for _, msg := range streamResult.Messages {
			item, perr := decodeWorkItem(msg.Values)
			if perr != nil {
				// Poison message: ack it immediately so the group does not
				// spin on it forever (redis_stream.py dequeue: "Ack bad
				// messages to avoid infinite loop").
				_ = q.client.XAck(ctx, stream, consumerGroup, msg.ID).Err()
				continue
			}
			out = append(out, queue.Delivery{MessageID: msg.ID, Item: item})
		}
	}
	return out, nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, stream, consumerGroup, messageID string) error {
	n, err := q.client.XAck(ctx, stream, consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("%w: ack %s on %s: %v", model.ErrQueueConnection, messageID, stream, err)
	}
	if n == 0 {
		return queue.ErrMessageNotFound
	}
	return nil
}

// ClaimPending implements queue.Queue via XPENDING + XCLAIM, recovering
// messages whose consumer crashed before acking.
func (q *Queue) ClaimPending(ctx context.Context, stream, consumerGroup, consumerName string, minIdle time.Duration, count int) ([]queue.Delivery, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
	}).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: xpending on %s: %v", model.ErrQueueConnection, stream, err)
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xclaim on %s: %v", model.ErrQueueConnection, stream, err)
	}

	var out []queue.Delivery
	for _, msg := range msgs {
		item, perr := decodeWorkItem(msg.Values)
		if perr != nil {
			continue
		}
		out = append(out, queue.Delivery{MessageID: msg.ID, Item: item.IncrementAttempt()})
	}
	return out, nil
}

// MoveToDLQ implements queue.Queue, stamping the failure before re-enqueuing
// to dlqStream (redis_stream.py's move_to_dlq).
func (q *Queue) MoveToDLQ(ctx context.Context, item model.WorkItem, cause error, dlqStream string) (string, error) {
	now := time.Now()
	item.Metadata.DeadLetterReason = cause.Error()
	item.Metadata.DeadLetteredAt = &now
	return q.Enqueue(ctx, dlqStream, item)
}

// PendingCount implements queue.Queue via XPENDING summary form.
func (q *Queue) PendingCount(ctx context.Context, stream, consumerGroup string) (int64, error) {
	summary, err := q.client.XPending(ctx, stream, consumerGroup).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: xpending summary on %s: %v", model.ErrQueueConnection, stream, err)
	}
	return summary.Count, nil
}

// StreamLength implements queue.Queue via XLEN.
func (q *Queue) StreamLength(ctx context.Context, stream string) (int64, error) {
	n, err := q.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xlen on %s: %v", model.ErrQueueConnection, stream, err)
	}
	return n, nil
}

// EnsureConsumerGroup implements queue.Queue, tolerating a concurrent
// creator via BUSYGROUP.
func (q *Queue) EnsureConsumerGroup(ctx context.Context, stream, consumerGroup string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: creating group %s on %s: %v", model.ErrQueueConnection, consumerGroup, stream, err)
	}
	return nil
}

// HealthCheck implements queue.Queue via PING.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrQueueConnection, err)
	}
	return nil
}

// Close implements queue.Queue.
func (q *Queue) Close() error {
	return q.client.Close()
}

var _ queue.AdminQueue = (*Queue)(nil)

// Range implements queue.AdminQueue via XRANGE, grounded on
// dead_letter.py's DeadLetterQueue.list/get (both backed by the same
// xrange call, differing only in count and the [min, max] bounds passed).
func (q *Queue) Range(ctx context.Context, stream, startID, endID string, count int) ([]queue.Delivery, error) {
	msgs, err := q.client.XRangeN(ctx, stream, startID, endID, int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xrange on %s: %v", model.ErrQueueConnection, stream, err)
	}

	out := make([]queue.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		item, perr := decodeWorkItem(msg.Values)
		if perr != nil {
			continue
		}
		out = append(out, queue.Delivery{MessageID: msg.ID, Item: item})
	}
	return out, nil
}

// DeleteMessage implements queue.AdminQueue via XDEL, grounded on
// dead_letter.py's DeadLetterQueue.delete.
func (q *Queue) DeleteMessage(ctx context.Context, stream, messageID string) error {
	n, err := q.client.XDel(ctx, stream, messageID).Result()
	if err != nil {
		return fmt.Errorf("%w: xdel %s on %s: %v", model.ErrQueueConnection, messageID, stream, err)
	}
	if n == 0 {
		return queue.ErrMessageNotFound
	}
	return nil
}

// PurgeBefore implements queue.AdminQueue via XTRIM MINID, grounded on
// dead_letter.py's DeadLetterQueue.purge (Redis stream IDs are
// "<milliseconds>-<sequence>", so a millisecond cutoff doubles as a MINID).
func (q *Queue) PurgeBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error) {
	minID := fmt.Sprintf("%d-0", cutoff.UnixMilli())
	n, err := q.client.XTrimMinID(ctx, stream, minID).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xtrim on %s: %v", model.ErrQueueConnection, stream, err)
	}
	return n, nil
}

func decodeWorkItem(values map[string]any) (model.WorkItem, error) {
	raw, ok := values[dataField]
	if !ok {
		return model.WorkItem{}, fmt.Errorf("message missing %q field", dataField)
	}
	s, ok := raw.(string)
	if !ok {
		return model.WorkItem{}, fmt.Errorf("message %q field is not a string", dataField)
	}
	var item model.WorkItem
	if err := json.Unmarshal([]byte(s), &item); err != nil {
		return model.WorkItem{}, fmt.Errorf("%w: %v", model.ErrQueuePoison, err)
	}
	return item, nil
}
