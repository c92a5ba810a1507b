package queue

import "errors"

// Sentinel errors returned by Queue implementations, matching the
// "avoid infinite loop"/NOGROUP handling in queue/redis_stream.py.
var (
	// ErrNoMessages signals that no messages are available. The redisqueue
	// and memqueue implementations do not return it: their Dequeue and
	// ClaimPending report an empty result as an empty slice with a nil error.
	ErrNoMessages = errors.New("no messages available")

	// ErrMessageNotFound is returned by Ack when messageID is unknown to the group.
	ErrMessageNotFound = errors.New("message not found")
)
